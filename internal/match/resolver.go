package match

import (
	"context"
	"fmt"
	"strings"

	"fieldimport/internal/catalog"
)

// Origin records how a column's mapping decision was made.
type Origin string

const (
	OriginAuto    Origin = "auto"
	OriginManual  Origin = "manual"
	OriginCreated Origin = "created"
	OriginNone    Origin = ""
)

// Suggestion is a candidate field offered for manual resolution.
type Suggestion struct {
	FieldKey   string  `json:"field_key"`
	Confidence float64 `json:"confidence"`
}

// ColumnMapping is the resolution state of one source column. A column
// maps to at most one field; Skip and FieldKey are mutually exclusive.
type ColumnMapping struct {
	Column      string       `json:"column"`
	FieldKey    string       `json:"field_key,omitempty"`
	Skip        bool         `json:"skip,omitempty"`
	Excluded    bool         `json:"excluded,omitempty"`
	Origin      Origin       `json:"origin,omitempty"`
	Confidence  float64      `json:"confidence"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Resolved reports whether the column has a final decision: mapped,
// skipped, or excluded from the mapping surface entirely.
func (m *ColumnMapping) Resolved() bool {
	return m.Excluded || m.Skip || m.FieldKey != ""
}

// HighConfidence reports whether the mapping scored at or above the
// display threshold for confident matches.
func (m *ColumnMapping) HighConfidence() bool {
	return m.FieldKey != "" && m.Confidence >= HighConfidence
}

// Config holds the resolver's threshold policy. The two source systems
// this replaces ran with auto thresholds of 0.6 and 0.7; both remain
// valid settings, 0.7 is the shipped default.
type Config struct {
	// AutoThreshold is the minimum score for auto-mapping. Boundary
	// inclusive: a score exactly at the threshold auto-maps.
	AutoThreshold float64

	// SuggestLow and SuggestHigh bound the half-open band [low, high)
	// of scores retained as suggestions for unmatched columns.
	SuggestLow  float64
	SuggestHigh float64

	// MaxSuggestions caps suggestions per unmatched column.
	MaxSuggestions int

	// MetadataExclusions lists vocabulary that removes a column from
	// the mapping surface when its normalized name contains a member.
	MetadataExclusions []string
}

// DefaultAutoThreshold is the shipped auto-accept threshold.
const DefaultAutoThreshold = 0.7

// HighConfidence marks scores strong enough to surface without a
// review hint.
const HighConfidence = 0.9

// DefaultMetadataExclusions are column-name fragments that identify
// system metadata rather than importable data.
var DefaultMetadataExclusions = []string{
	"id",
	"created_at",
	"updated_at",
	"timestamp",
	"internal_ref",
}

// DefaultConfig returns the shipped resolver policy.
func DefaultConfig() Config {
	return Config{
		AutoThreshold:      DefaultAutoThreshold,
		SuggestLow:         0.4,
		SuggestHigh:        0.6,
		MaxSuggestions:     3,
		MetadataExclusions: DefaultMetadataExclusions,
	}
}

// Resolution summarizes one resolve pass. Mappings preserves column
// input order; the classification slices hold column names.
type Resolution struct {
	Mappings  []ColumnMapping `json:"mappings"`
	Auto      []string        `json:"auto"`
	Unmatched []string        `json:"unmatched"`
	Excluded  []string        `json:"excluded"`
}

// Resolver reconciles columns against a catalog snapshot taken once at
// construction. Manual overrides and field creation mutate only the
// resolver's local state; the snapshot grows when CreateFieldFor
// succeeds, never otherwise. Not safe for concurrent use.
type Resolver struct {
	cfg      Config
	catalog  catalog.Catalog
	fields   []catalog.CanonicalField
	mappings []*ColumnMapping
	byColumn map[string]*ColumnMapping
}

// NewResolver reads one catalog snapshot and prepares a resolver with
// the given policy. Zero-value config fields fall back to defaults.
func NewResolver(ctx context.Context, cat catalog.Catalog, cfg Config) (*Resolver, error) {
	def := DefaultConfig()
	if cfg.AutoThreshold == 0 {
		cfg.AutoThreshold = def.AutoThreshold
	}
	if cfg.SuggestHigh == 0 {
		cfg.SuggestLow = def.SuggestLow
		cfg.SuggestHigh = def.SuggestHigh
	}
	if cfg.MaxSuggestions == 0 {
		cfg.MaxSuggestions = def.MaxSuggestions
	}
	if cfg.MetadataExclusions == nil {
		cfg.MetadataExclusions = def.MetadataExclusions
	}

	fields, err := cat.ListFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog snapshot: %w", err)
	}

	return &Resolver{
		cfg:      cfg,
		catalog:  cat,
		fields:   fields,
		byColumn: make(map[string]*ColumnMapping),
	}, nil
}

// Fields returns the resolver's current catalog snapshot.
func (r *Resolver) Fields() []catalog.CanonicalField {
	out := make([]catalog.CanonicalField, len(r.fields))
	copy(out, r.fields)
	return out
}

// Resolve classifies every column as excluded, auto-mapped, or
// unmatched. Calling Resolve replaces any previous resolution state.
func (r *Resolver) Resolve(columns []string) *Resolution {
	res := &Resolution{}
	r.mappings = r.mappings[:0]
	r.byColumn = make(map[string]*ColumnMapping, len(columns))

	for _, col := range columns {
		m := &ColumnMapping{Column: col}
		r.mappings = append(r.mappings, m)
		r.byColumn[col] = m

		if r.isMetadata(col) {
			m.Excluded = true
			res.Excluded = append(res.Excluded, col)
			continue
		}

		best, bestScore, suggestions := r.scoreAgainstCatalog(col)
		if best != "" && bestScore >= r.cfg.AutoThreshold {
			m.FieldKey = best
			m.Origin = OriginAuto
			m.Confidence = bestScore
			res.Auto = append(res.Auto, col)
			continue
		}

		m.Confidence = bestScore
		m.Suggestions = suggestions
		res.Unmatched = append(res.Unmatched, col)
	}

	res.Mappings = r.snapshotMappings()
	return res
}

// SetMapping manually maps a column to an existing field key, or skips
// it when fieldKey is empty. Manual decisions always replace the
// automatic result.
func (r *Resolver) SetMapping(column, fieldKey string) error {
	m, ok := r.byColumn[column]
	if !ok {
		return fmt.Errorf("unknown column %q", column)
	}
	if m.Excluded {
		return fmt.Errorf("column %q is excluded as metadata", column)
	}

	if fieldKey == "" {
		m.FieldKey = ""
		m.Skip = true
		m.Origin = OriginManual
		m.Confidence = 0
		m.Suggestions = nil
		return nil
	}

	if !r.hasField(fieldKey) {
		return fmt.Errorf("field %q not in catalog", fieldKey)
	}
	m.FieldKey = fieldKey
	m.Skip = false
	m.Origin = OriginManual
	m.Confidence = Score(column, fieldKey)
	m.Suggestions = nil
	return nil
}

// SetSkip marks a column as deliberately not imported.
func (r *Resolver) SetSkip(column string) error {
	return r.SetMapping(column, "")
}

// CreateFieldFor creates a new catalog field and maps the column to
// it. On DuplicateKeyError the column's mapping is left untouched and
// the error is returned for the caller to retry with a different key.
func (r *Resolver) CreateFieldFor(ctx context.Context, column string, spec catalog.FieldSpec) (catalog.CanonicalField, error) {
	m, ok := r.byColumn[column]
	if !ok {
		return catalog.CanonicalField{}, fmt.Errorf("unknown column %q", column)
	}
	if m.Excluded {
		return catalog.CanonicalField{}, fmt.Errorf("column %q is excluded as metadata", column)
	}

	created, err := r.catalog.CreateField(ctx, spec)
	if err != nil {
		return catalog.CanonicalField{}, err
	}

	r.fields = append(r.fields, created)
	m.FieldKey = created.FieldKey
	m.Skip = false
	m.Origin = OriginCreated
	m.Confidence = 1.0
	m.Suggestions = nil
	return created, nil
}

// Mappings returns the current per-column state in input order.
func (r *Resolver) Mappings() []ColumnMapping {
	return r.snapshotMappings()
}

// Unresolved returns columns that still need a decision before the
// pipeline can proceed to preview.
func (r *Resolver) Unresolved() []string {
	var cols []string
	for _, m := range r.mappings {
		if !m.Resolved() {
			cols = append(cols, m.Column)
		}
	}
	return cols
}

// DuplicateTargets reports fields that more than one column maps to.
// Many-to-one mapping is permitted; callers surface this as a warning,
// not an error.
func (r *Resolver) DuplicateTargets() map[string][]string {
	byField := make(map[string][]string)
	for _, m := range r.mappings {
		if m.FieldKey != "" {
			byField[m.FieldKey] = append(byField[m.FieldKey], m.Column)
		}
	}
	for key, cols := range byField {
		if len(cols) < 2 {
			delete(byField, key)
		}
	}
	return byField
}

// MappedFieldKeys returns the distinct field keys that at least one
// column maps to, in column order.
func (r *Resolver) MappedFieldKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range r.mappings {
		if m.FieldKey != "" && !seen[m.FieldKey] {
			seen[m.FieldKey] = true
			keys = append(keys, m.FieldKey)
		}
	}
	return keys
}

func (r *Resolver) snapshotMappings() []ColumnMapping {
	out := make([]ColumnMapping, len(r.mappings))
	for i, m := range r.mappings {
		out[i] = *m
	}
	return out
}

func (r *Resolver) hasField(key string) bool {
	for _, f := range r.fields {
		if f.FieldKey == key {
			return true
		}
	}
	return false
}

func (r *Resolver) isMetadata(column string) bool {
	norm := Normalize(column)
	for _, excl := range r.cfg.MetadataExclusions {
		if strings.Contains(norm, Normalize(excl)) {
			return true
		}
	}
	return false
}

// scoreAgainstCatalog scores the column against every field, taking
// the best score over each field's key and aliases. Ties keep the
// first field in catalog order.
func (r *Resolver) scoreAgainstCatalog(column string) (bestKey string, bestScore float64, suggestions []Suggestion) {
	type candidate struct {
		key   string
		score float64
	}
	var candidates []candidate

	for _, f := range r.fields {
		s := Score(column, f.FieldKey)
		for _, alias := range f.Aliases {
			if as := Score(column, alias); as > s {
				s = as
			}
		}
		candidates = append(candidates, candidate{f.FieldKey, s})
		if s > bestScore {
			bestScore = s
			bestKey = f.FieldKey
		}
	}

	if bestScore >= r.cfg.AutoThreshold {
		return bestKey, bestScore, nil
	}

	// Suggestions: highest-scoring candidates inside the band, at most
	// MaxSuggestions, preserving catalog order among equals.
	for len(suggestions) < r.cfg.MaxSuggestions {
		bestIdx := -1
		for i, c := range candidates {
			if c.score < r.cfg.SuggestLow || c.score >= r.cfg.SuggestHigh {
				continue
			}
			if bestIdx == -1 || c.score > candidates[bestIdx].score {
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		suggestions = append(suggestions, Suggestion{
			FieldKey:   candidates[bestIdx].key,
			Confidence: candidates[bestIdx].score,
		})
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)
	}
	return bestKey, bestScore, suggestions
}
