// Package transform turns parsed rows plus a resolved column mapping
// into import records. Pure data shaping, no I/O.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"fieldimport/internal/catalog"
	"fieldimport/internal/match"
)

// Record is one row shaped for persistence. SourceRow is the 1-based
// data row number (header excluded), kept for error reporting.
type Record struct {
	SourceRow int               `json:"source_row"`
	Fields    map[string]string `json:"fields"`
}

// RowError describes why one row was rejected during transformation.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Output aggregates one transform pass. Dropped rows were silently
// discarded by policy; Failed rows carry an entry in Errors; Duplicates
// repeated an identity already seen earlier in the same input.
type Output struct {
	Records    []Record   `json:"records"`
	Dropped    int        `json:"dropped"`
	Failed     int        `json:"failed"`
	Duplicates int        `json:"duplicates"`
	Errors     []RowError `json:"errors,omitempty"`
}

// Policy configures the transform. The zero value gets defaults for
// every field.
type Policy struct {
	// IdentityFields are canonical keys of which at least one must be
	// non-empty after transform for a row to survive.
	IdentityFields []string

	// FailOnIncomplete counts incomplete rows as failed (with an error
	// entry) instead of silently dropping them.
	FailOnIncomplete bool

	// DedupeFields are canonical keys whose combined non-empty values
	// form a row's identity signature. A repeated signature within one
	// input is counted as a duplicate and not emitted.
	DedupeFields []string

	// Aliases maps normalized field-key variants to their canonical
	// key, applied to mapping targets before values are written.
	Aliases map[string]string
}

// DefaultIdentityFields is the shipped minimal-completeness predicate:
// a row must carry at least one of these.
var DefaultIdentityFields = []string{"email", "first_name", "last_name"}

// DefaultDedupeFields is the shipped duplicate-detection signature.
var DefaultDedupeFields = []string{"email"}

// DefaultFieldAliases folds well-known naming variants onto canonical
// keys. Keys are pre-normalized; lookups normalize first.
var DefaultFieldAliases = map[string]string{
	"firstname":    "first_name",
	"fname":        "first_name",
	"givenname":    "first_name",
	"forename":     "first_name",
	"lastname":     "last_name",
	"lname":        "last_name",
	"surname":      "last_name",
	"familyname":   "last_name",
	"middlename":   "middle_name",
	"mname":        "middle_name",
	"emailaddress": "email",
	"email":        "email",
	"phonenumber":  "phone",
	"telephone":    "phone",
	"tel":          "phone",
	"mobile":       "phone",
	"streetaddress": "address",
	"street":        "address",
	"addr":          "address",
	"zipcode":       "zip_code",
	"postalcode":    "zip_code",
	"postcode":      "zip_code",
	"zip":           "zip_code",
	"dateofbirth":   "date_of_birth",
	"dob":           "date_of_birth",
	"birthdate":     "date_of_birth",
}

func (p Policy) withDefaults() Policy {
	if p.IdentityFields == nil {
		p.IdentityFields = DefaultIdentityFields
	}
	if p.DedupeFields == nil {
		p.DedupeFields = DefaultDedupeFields
	}
	if p.Aliases == nil {
		p.Aliases = DefaultFieldAliases
	}
	return p
}

// CanonicalKey resolves a mapping target through the alias table.
func (p Policy) CanonicalKey(fieldKey string) string {
	norm := catalog.NormalizeKey(fieldKey)
	if canonical, ok := p.Aliases[match.Normalize(norm)]; ok {
		return canonical
	}
	return norm
}

// Transform shapes rows into records using the resolved mappings.
// Columns without a field target (skipped, excluded, unresolved) are
// ignored. Values are whitespace-trimmed; empty values are not written.
func Transform(rows []map[string]string, mappings []match.ColumnMapping, pol Policy) Output {
	pol = pol.withDefaults()

	// column -> canonical target, alias-resolved once up front.
	targets := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.FieldKey == "" {
			continue
		}
		targets[m.Column] = pol.CanonicalKey(m.FieldKey)
	}

	var out Output
	seen := make(map[string]bool)

	for i, row := range rows {
		rowNum := i + 1

		fields := make(map[string]string, len(targets))
		for column, key := range targets {
			value := strings.TrimSpace(row[column])
			if value == "" {
				continue
			}
			fields[key] = value
		}

		if !hasIdentity(fields, pol.IdentityFields) {
			if pol.FailOnIncomplete {
				out.Failed++
				out.Errors = append(out.Errors, RowError{
					Row:     rowNum,
					Message: fmt.Sprintf("missing identity field (need one of: %s)", strings.Join(pol.IdentityFields, ", ")),
				})
			} else {
				out.Dropped++
			}
			continue
		}

		if sig := signature(fields, pol.DedupeFields); sig != "" {
			if seen[sig] {
				out.Duplicates++
				continue
			}
			seen[sig] = true
		}

		out.Records = append(out.Records, Record{SourceRow: rowNum, Fields: fields})
	}
	return out
}

// FieldKeys returns the distinct canonical keys present across the
// records, sorted for stable output.
func FieldKeys(records []Record) []string {
	set := make(map[string]bool)
	for _, r := range records {
		for key := range r.Fields {
			set[key] = true
		}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func hasIdentity(fields map[string]string, identity []string) bool {
	for _, key := range identity {
		if fields[key] != "" {
			return true
		}
	}
	return false
}

// signature joins the lower-cased dedupe field values. Rows with no
// dedupe values at all get an empty signature and are never treated as
// duplicates of each other.
func signature(fields map[string]string, dedupe []string) string {
	var parts []string
	for _, key := range dedupe {
		if v := fields[key]; v != "" {
			parts = append(parts, strings.ToLower(v))
		}
	}
	return strings.Join(parts, "\x1f")
}
