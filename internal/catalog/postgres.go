package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gocache "github.com/patrickmn/go-cache"
)

// DBTX is the subset of pgx operations the catalog needs.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// fieldListCacheKey is the single cache entry for the full field list.
const fieldListCacheKey = "field_list"

// DefaultListCacheTTL bounds how stale a catalog snapshot handed to a
// new import session may be. Creates invalidate the cache immediately.
const DefaultListCacheTTL = 30 * time.Second

const uniqueViolationCode = "23505"

// PostgresCatalog is a Catalog backed by a field_library table.
type PostgresCatalog struct {
	db    DBTX
	cache *gocache.Cache
}

// NewPostgresCatalog creates a catalog over the given connection pool.
func NewPostgresCatalog(db DBTX) *PostgresCatalog {
	return &PostgresCatalog{
		db:    db,
		cache: gocache.New(DefaultListCacheTTL, 2*DefaultListCacheTTL),
	}
}

// EnsureSchema creates the field_library table if it does not exist.
func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	_, err := c.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS field_library (
			field_key   TEXT PRIMARY KEY,
			label       TEXT NOT NULL,
			field_type  TEXT NOT NULL,
			category    TEXT NOT NULL DEFAULT '',
			aliases     TEXT[] NOT NULL DEFAULT '{}',
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create field_library: %w", err)
	}
	return nil
}

// ListFields returns all fields ordered by usage count (most used
// first), then key. Results are cached for a short TTL so that bursts
// of new sessions do not re-query the full library.
func (c *PostgresCatalog) ListFields(ctx context.Context) ([]CanonicalField, error) {
	if cached, ok := c.cache.Get(fieldListCacheKey); ok {
		fields := cached.([]CanonicalField)
		out := make([]CanonicalField, len(fields))
		copy(out, fields)
		return out, nil
	}

	rows, err := c.db.Query(ctx, `
		SELECT field_key, label, field_type, category, aliases, usage_count
		FROM field_library
		ORDER BY usage_count DESC, field_key`)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var fields []CanonicalField
	for rows.Next() {
		var f CanonicalField
		if err := rows.Scan(&f.FieldKey, &f.Label, &f.Type, &f.Category, &f.Aliases, &f.UsageCount); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}

	c.cache.Set(fieldListCacheKey, fields, gocache.DefaultExpiration)

	out := make([]CanonicalField, len(fields))
	copy(out, fields)
	return out, nil
}

// CreateField inserts a new field definition. A primary key conflict
// is reported as DuplicateKeyError.
func (c *PostgresCatalog) CreateField(ctx context.Context, spec FieldSpec) (CanonicalField, error) {
	if err := spec.Validate(); err != nil {
		return CanonicalField{}, err
	}

	aliases := spec.Aliases
	if aliases == nil {
		aliases = []string{}
	}

	_, err := c.db.Exec(ctx, `
		INSERT INTO field_library (field_key, label, field_type, category, aliases)
		VALUES ($1, $2, $3, $4, $5)`,
		spec.FieldKey, spec.Label, string(spec.Type), spec.Category, aliases)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return CanonicalField{}, &DuplicateKeyError{FieldKey: spec.FieldKey}
		}
		return CanonicalField{}, fmt.Errorf("create field %s: %w", spec.FieldKey, err)
	}

	c.cache.Delete(fieldListCacheKey)

	return CanonicalField{
		FieldKey: spec.FieldKey,
		Label:    spec.Label,
		Type:     spec.Type,
		Category: spec.Category,
		Aliases:  spec.Aliases,
	}, nil
}

// IncrementUsage bumps usage_count for each key. Called once per
// completed import for every field that received mapped values.
func (c *PostgresCatalog) IncrementUsage(ctx context.Context, fieldKeys []string) error {
	if len(fieldKeys) == 0 {
		return nil
	}

	_, err := c.db.Exec(ctx, `
		UPDATE field_library
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE field_key = ANY($1)`, fieldKeys)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}

	c.cache.Delete(fieldListCacheKey)
	return nil
}
