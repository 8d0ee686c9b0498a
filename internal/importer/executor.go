// Package importer runs resolved, transformed records through the
// persistence boundary in sequential batches and tracks the outcome of
// a full import session.
package importer

import (
	"context"
	"time"

	"fieldimport/internal/transform"
)

// DefaultBatchSize is the number of records submitted per persistence
// call.
const DefaultBatchSize = 1000

// DefaultPersistTimeout bounds a single persistence call. A timeout is
// treated the same as a transport failure: the batch is counted failed
// and execution continues.
const DefaultPersistTimeout = 30 * time.Second

// DefaultErrorLimit caps the row-level failure detail retained in the
// summary. Counts are always exact; only the detail list is truncated.
const DefaultErrorLimit = 100

// Persister is the persistence boundary. A returned error means the
// whole batch failed (transport failure or timeout); row-level
// problems inside a delivered batch are reported in the outcome.
type Persister interface {
	PersistBatch(ctx context.Context, records []transform.Record) (BatchOutcome, error)
}

// BatchOutcome reports one delivered batch.
type BatchOutcome struct {
	Imported int
	Failures []RowFailure
}

// RowFailure is a single rejected record inside a delivered batch.
type RowFailure struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// BatchError is an aggregate failure covering one undelivered batch.
type BatchError struct {
	BatchIndex int    `json:"batch_index"`
	Message    string `json:"message"`
}

// BatchResult reports one completed batch to the observer, whether it
// was delivered or failed as a whole. Err is non-nil only for
// undelivered batches, in which case Failed covers every record.
type BatchResult struct {
	BatchIndex int
	Records    int
	Imported   int
	Failed     int
	Failures   []RowFailure
	Err        error
}

// Progress is emitted once after every completed batch. Percent is
// monotonically non-decreasing across one execution.
type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Batch     int     `json:"batch"`
	Batches   int     `json:"batches"`
}

// Options configures one execution. Zero values get defaults.
type Options struct {
	BatchSize      int
	PersistTimeout time.Duration
	ErrorLimit     int
	OnProgress     func(Progress)

	// OnBatch receives every batch outcome as it happens, before the
	// matching progress event. Callers use it to accumulate partial
	// results that survive an aborted run.
	OnBatch func(BatchResult)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = DefaultPersistTimeout
	}
	if o.ErrorLimit <= 0 {
		o.ErrorLimit = DefaultErrorLimit
	}
	return o
}

// Execute submits records in ordered, contiguous batches, strictly one
// at a time. A failed batch does not stop execution; cancellation is
// honored only between batches, so a submitted batch always runs to
// completion. Fields the executor does not own (Dropped, Duplicates)
// are left zero for the caller to fill in.
func Execute(ctx context.Context, records []transform.Record, persist Persister, opts Options) Summary {
	opts = opts.withDefaults()
	start := time.Now()

	summary := Summary{Total: len(records)}
	if len(records) == 0 {
		summary.Duration = time.Since(start)
		return summary
	}

	batches := (len(records) + opts.BatchSize - 1) / opts.BatchSize
	processed := 0

	for i := 0; i < batches; i++ {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		lo := i * opts.BatchSize
		hi := lo + opts.BatchSize
		if hi > len(records) {
			hi = len(records)
		}
		batch := records[lo:hi]

		batchCtx, cancel := context.WithTimeout(context.Background(), opts.PersistTimeout)
		outcome, err := persist.PersistBatch(batchCtx, batch)
		cancel()

		result := BatchResult{BatchIndex: i, Records: len(batch)}
		if err != nil {
			result.Failed = len(batch)
			result.Err = err
			summary.BatchErrors = append(summary.BatchErrors, BatchError{
				BatchIndex: i,
				Message:    err.Error(),
			})
		} else {
			result.Imported = outcome.Imported
			result.Failed = len(outcome.Failures)
			result.Failures = outcome.Failures
			for _, f := range outcome.Failures {
				if len(summary.RowFailures) >= opts.ErrorLimit {
					break
				}
				summary.RowFailures = append(summary.RowFailures, f)
			}
		}
		summary.Imported += result.Imported
		summary.Failed += result.Failed

		if opts.OnBatch != nil {
			opts.OnBatch(result)
		}

		processed += len(batch)
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				Processed: processed,
				Total:     len(records),
				Percent:   float64(processed) / float64(len(records)) * 100,
				Batch:     i + 1,
				Batches:   batches,
			})
		}
	}

	summary.Duration = time.Since(start)
	return summary
}
