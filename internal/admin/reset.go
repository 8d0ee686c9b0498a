// Package admin provides administrative operations for database
// maintenance.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ResetTimeout is the maximum duration for database reset operations.
const ResetTimeout = 30 * time.Second

// ExecDB is the database surface reset operations need.
type ExecDB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Reset handles destructive database cleanup. Use with caution.
type Reset struct {
	DB ExecDB
}

type resetFn func(ctx context.Context) error

// ImportedRecords truncates the imported record store.
func (r *Reset) ImportedRecords(ctx context.Context) error {
	_, err := r.DB.Exec(ctx, `TRUNCATE TABLE import_records`)
	if err != nil {
		return fmt.Errorf("reset import_records: %w", err)
	}
	return nil
}

// FieldCatalog removes every field and its usage counters.
func (r *Reset) FieldCatalog(ctx context.Context) error {
	_, err := r.DB.Exec(ctx, `TRUNCATE TABLE field_library`)
	if err != nil {
		return fmt.Errorf("reset field_library: %w", err)
	}
	return nil
}

// All truncates all application tables.
func (r *Reset) All() error {
	ctx, cancel := context.WithTimeout(context.Background(), ResetTimeout)
	defer cancel()

	return r.runResets(ctx, []resetFn{
		r.ImportedRecords,
		r.FieldCatalog,
	})
}

func (r *Reset) runResets(ctx context.Context, resets []resetFn) error {
	for _, reset := range resets {
		if err := reset(ctx); err != nil {
			return err
		}
	}
	return nil
}
