package catalog

import (
	"context"
	"sync"
)

// MemoryCatalog is an in-memory Catalog implementation. It preserves
// insertion order, which resolvers rely on for deterministic
// tie-breaking. Used by tests and the CLI's dry-run mode.
type MemoryCatalog struct {
	mu     sync.RWMutex
	fields []CanonicalField
	index  map[string]int
}

// NewMemoryCatalog creates a catalog pre-seeded with the given fields.
// Panics on duplicate keys in the seed set.
func NewMemoryCatalog(fields ...CanonicalField) *MemoryCatalog {
	c := &MemoryCatalog{
		index: make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if _, exists := c.index[f.FieldKey]; exists {
			panic("duplicate seed field key: " + f.FieldKey)
		}
		c.index[f.FieldKey] = len(c.fields)
		c.fields = append(c.fields, f)
	}
	return c
}

// ListFields returns a copy of all fields in insertion order.
func (c *MemoryCatalog) ListFields(ctx context.Context) ([]CanonicalField, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CanonicalField, len(c.fields))
	copy(out, c.fields)
	return out, nil
}

// CreateField adds a new field, returning DuplicateKeyError on conflict.
func (c *MemoryCatalog) CreateField(ctx context.Context, spec FieldSpec) (CanonicalField, error) {
	if err := spec.Validate(); err != nil {
		return CanonicalField{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[spec.FieldKey]; exists {
		return CanonicalField{}, &DuplicateKeyError{FieldKey: spec.FieldKey}
	}

	f := CanonicalField{
		FieldKey: spec.FieldKey,
		Label:    spec.Label,
		Type:     spec.Type,
		Category: spec.Category,
		Aliases:  append([]string(nil), spec.Aliases...),
	}
	c.index[f.FieldKey] = len(c.fields)
	c.fields = append(c.fields, f)
	return f, nil
}

// IncrementUsage bumps the usage counter for each known key.
// Unknown keys are ignored.
func (c *MemoryCatalog) IncrementUsage(ctx context.Context, fieldKeys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range fieldKeys {
		if i, ok := c.index[key]; ok {
			c.fields[i].UsageCount++
		}
	}
	return nil
}
