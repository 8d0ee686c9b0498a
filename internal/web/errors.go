package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"fieldimport/internal/catalog"
	"fieldimport/internal/importer"
)

var errRateLimited = errors.New("rate limit exceeded")

// errorResponse is the JSON error body. The technical detail stays in
// the logs; clients get the mapped message, action, and support code.
type errorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Code   string `json:"code"`
}

// writeError logs the technical error and responds with its
// user-facing mapping.
func writeError(w http.ResponseWriter, status int, err error) {
	slog.Warn("request failed", "status", status, "error", err)

	msg := importer.MapError(err)
	writeJSON(w, status, errorResponse{
		Error:  msg.Message,
		Action: msg.Action,
		Code:   msg.Code,
	})
}

// statusFor picks an HTTP status from the error shape.
func statusFor(err error) int {
	switch {
	case catalog.IsDuplicateKey(err):
		return http.StatusConflict
	case strings.Contains(err.Error(), "session not found"):
		return http.StatusNotFound
	case strings.Contains(err.Error(), "invalid state"):
		return http.StatusConflict
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode", "error", err)
	}
}
