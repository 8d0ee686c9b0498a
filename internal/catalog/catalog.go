// Package catalog defines the canonical field library boundary.
//
// The catalog owns the reusable field definitions that import columns
// are reconciled against. The pipeline reads one snapshot at the start
// of a resolution phase and may create new fields during it; it never
// mutates the catalog once transformation begins.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// FieldType enumerates the supported canonical field types.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeEmail    FieldType = "email"
	TypeTel      FieldType = "tel"
	TypeNumber   FieldType = "number"
	TypeDate     FieldType = "date"
	TypeTextarea FieldType = "textarea"
	TypeSelect   FieldType = "select"
	TypeRadio    FieldType = "radio"
	TypeCheckbox FieldType = "checkbox"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeText, TypeEmail, TypeTel, TypeNumber, TypeDate,
		TypeTextarea, TypeSelect, TypeRadio, TypeCheckbox:
		return true
	}
	return false
}

// CanonicalField is a uniquely keyed, reusable field definition.
type CanonicalField struct {
	FieldKey   string    `json:"field_key"`
	Label      string    `json:"label"`
	Type       FieldType `json:"type"`
	Category   string    `json:"category"`
	Aliases    []string  `json:"aliases,omitempty"`
	UsageCount int       `json:"usage_count"`
}

// UnmarshalJSON accepts both "type" and "field_type" for the type
// field. Different producers historically used either key; everything
// downstream of this boundary sees only Type.
func (f *CanonicalField) UnmarshalJSON(data []byte) error {
	type alias CanonicalField
	aux := struct {
		*alias
		FieldType FieldType `json:"field_type"`
	}{alias: (*alias)(f)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if f.Type == "" {
		f.Type = aux.FieldType
	}
	return nil
}

// FieldSpec is the input to CreateField.
type FieldSpec struct {
	FieldKey string    `json:"field_key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Category string    `json:"category"`
	Aliases  []string  `json:"aliases,omitempty"`
}

// Validate checks the spec before it reaches a catalog implementation.
func (s FieldSpec) Validate() error {
	if s.FieldKey == "" {
		return fmt.Errorf("field spec: field_key is required")
	}
	if s.FieldKey != NormalizeKey(s.FieldKey) {
		return fmt.Errorf("field spec: field_key %q is not normalized (want %q)", s.FieldKey, NormalizeKey(s.FieldKey))
	}
	if !s.Type.Valid() {
		return fmt.Errorf("field spec: unsupported type %q", s.Type)
	}
	return nil
}

// DuplicateKeyError is returned by CreateField when the proposed key
// already exists.
type DuplicateKeyError struct {
	FieldKey string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("field key already exists: %s", e.FieldKey)
}

// IsDuplicateKey reports whether err is a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}

// Catalog is the canonical field library boundary consumed by the
// import pipeline.
type Catalog interface {
	// ListFields returns all field definitions. The returned order is
	// stable for the lifetime of one resolution phase; resolvers use it
	// as the deterministic tie-break order.
	ListFields(ctx context.Context) ([]CanonicalField, error)

	// CreateField adds a new field definition. Returns DuplicateKeyError
	// if the proposed key already exists.
	CreateField(ctx context.Context, spec FieldSpec) (CanonicalField, error)
}

// UsageRecorder is implemented by catalogs that track how often fields
// are used by completed imports.
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, fieldKeys []string) error
}

var (
	keyInvalidChars = regexp.MustCompile(`[^a-z0-9_]`)
	keyUnderscores  = regexp.MustCompile(`_+`)
)

// NormalizeKey converts a free-text field name to a snake_case key.
// "First Name" -> "first_name", "E-Mail  Address" -> "e_mail_address".
func NormalizeKey(name string) string {
	key := strings.ToLower(name)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = keyInvalidChars.ReplaceAllString(key, "")
	key = keyUnderscores.ReplaceAllString(key, "_")
	return strings.Trim(key, "_")
}

// NextAvailableKey probes base, base_2, base_3, ... until it finds a
// key not present in the catalog. Used to suggest an alternative after
// a DuplicateKeyError.
func NextAvailableKey(ctx context.Context, c Catalog, base string) (string, error) {
	fields, err := c.ListFields(ctx)
	if err != nil {
		return "", fmt.Errorf("list fields: %w", err)
	}

	taken := make(map[string]bool, len(fields))
	for _, f := range fields {
		taken[f.FieldKey] = true
	}

	if !taken[base] {
		return base, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}
