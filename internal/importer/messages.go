// User-facing error mapping.
//
// Technical errors are matched case-insensitively against known
// patterns and translated into a short message, a suggested action,
// and a code users can quote to support. Patterns are checked in
// order, so specific patterns come before general ones. ERR000 is the
// fallback when nothing matches.
package importer

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable
// guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Catalog errors (CAT001-CAT099)
	{
		pattern: "field key already exists",
		msg: UserMessage{
			Message: "A field with this key already exists",
			Action:  "Pick a different key or map the column to the existing field",
			Code:    "CAT001",
		},
	},
	{
		pattern: "not in catalog",
		msg: UserMessage{
			Message: "The chosen field does not exist",
			Action:  "Refresh the field list and try again",
			Code:    "CAT002",
		},
	},
	{
		pattern: "excluded as metadata",
		msg: UserMessage{
			Message: "This column is system metadata and cannot be imported",
			Action:  "Remove the column from your file or leave it unmapped",
			Code:    "CAT003",
		},
	},

	// Database errors (DB001-DB099)
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this value already exists",
			Action:  "Review the failed rows for duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB004",
		},
	},

	// File errors (FILE001-FILE099)
	{
		pattern: "malformed input",
		msg: UserMessage{
			Message: "The file could not be read as delimited text",
			Action:  "Ensure the file is UTF-8 text with a header line",
			Code:    "FILE001",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "The file exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE002",
		},
	},

	// Session errors (SES001-SES099)
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Import session not found",
			Action:  "The session may have expired. Please start a new import",
			Code:    "SES001",
		},
	},
	{
		pattern: "unresolved columns",
		msg: UserMessage{
			Message: "Some columns still need a mapping decision",
			Action:  "Map or skip every remaining column before continuing",
			Code:    "SES002",
		},
	},
	{
		pattern: "invalid state",
		msg: UserMessage{
			Message: "That action is not available right now",
			Action:  "Check the session status and try again",
			Code:    "SES003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "SES004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "SES005",
		},
	},

	// Rate limiting (RATE001-RATE099)
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "The server is busy running other imports",
			Action:  "Please wait a moment and start the import again",
			Code:    "RATE002",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. The
// first matching pattern wins; unmatched errors get the ERR000
// fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action" for display.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a specific pattern rather
// than the generic fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
