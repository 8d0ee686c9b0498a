package importer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"fieldimport/internal/transform"
)

// TransportError marks a persistence failure that took down a whole
// batch rather than individual rows.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("persistence transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BeginDB is the subset of pgxpool.Pool the persister needs.
type BeginDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}

// PgPersister writes import records to the import_records table, one
// transaction per batch with a savepoint per row so a bad row does not
// take the rest of the batch down with it.
type PgPersister struct {
	db        BeginDB
	sessionID pgtype.UUID
}

// NewPgPersister creates a persister scoped to one import session.
func NewPgPersister(db BeginDB, sessionID string) (*PgPersister, error) {
	var id pgtype.UUID
	if err := id.Scan(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}
	return &PgPersister{db: db, sessionID: id}, nil
}

// EnsureSchema creates the import_records table if it does not exist.
func EnsureSchema(ctx context.Context, db BeginDB) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS import_records (
			id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			session_id UUID NOT NULL,
			source_row INTEGER NOT NULL,
			fields     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create import_records: %w", err)
	}
	return nil
}

// PersistBatch inserts one batch inside a single transaction. Row
// failures roll back to their savepoint and are reported in the
// outcome; failures of the transaction itself surface as a
// TransportError, failing the whole batch.
func (p *PgPersister) PersistBatch(ctx context.Context, records []transform.Record) (BatchOutcome, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return BatchOutcome{}, &TransportError{Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback(ctx)

	var outcome BatchOutcome

	for i, rec := range records {
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			outcome.Failures = append(outcome.Failures, RowFailure{
				Row:     rec.SourceRow,
				Message: fmt.Sprintf("encode fields: %v", err),
			})
			continue
		}

		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return BatchOutcome{}, &TransportError{Err: fmt.Errorf("create savepoint: %w", err)}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO import_records (session_id, source_row, fields)
			VALUES ($1, $2, $3)`,
			p.sessionID, rec.SourceRow, fields)
		if err != nil {
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
			outcome.Failures = append(outcome.Failures, RowFailure{
				Row:     rec.SourceRow,
				Message: fmt.Sprintf("insert: %v", err),
			})
			continue
		}
		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint)

		outcome.Imported++
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchOutcome{}, &TransportError{Err: fmt.Errorf("commit: %w", err)}
	}
	return outcome, nil
}
