package importer

import (
	"context"
	"sync"

	"fieldimport/internal/transform"
)

// MemoryPersister accumulates batches in memory. Used for dry runs
// and tests.
type MemoryPersister struct {
	mu      sync.Mutex
	records []transform.Record
	batches int
}

// NewMemoryPersister creates an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

// PersistBatch stores the batch and reports every record imported.
func (p *MemoryPersister) PersistBatch(ctx context.Context, records []transform.Record) (BatchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return BatchOutcome{}, &TransportError{Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, records...)
	p.batches++
	return BatchOutcome{Imported: len(records)}, nil
}

// Records returns everything persisted so far.
func (p *MemoryPersister) Records() []transform.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]transform.Record, len(p.records))
	copy(out, p.records)
	return out
}

// Batches returns how many persistence calls were made.
func (p *MemoryPersister) Batches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batches
}
