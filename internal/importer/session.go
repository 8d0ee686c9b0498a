package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldimport/internal/catalog"
	"fieldimport/internal/ingest"
	"fieldimport/internal/match"
	"fieldimport/internal/transform"
)

// State is the lifecycle stage of one import session.
type State string

const (
	StateUpload    State = "upload"
	StateMapping   State = "mapping"
	StatePreview   State = "preview"
	StateImporting State = "importing"
	StateResults   State = "results"
)

// DefaultImportTimeout bounds a whole import run.
const DefaultImportTimeout = 10 * time.Minute

// DefaultSessionTTL is how long a finished session stays queryable.
const DefaultSessionTTL = 5 * time.Minute

// PersisterFactory builds a persistence collaborator scoped to one
// session.
type PersisterFactory func(sessionID string) (Persister, error)

// ServiceConfig configures the session service. Zero values get
// defaults.
type ServiceConfig struct {
	Match                match.Config
	Policy               transform.Policy
	Options              Options
	PreviewRows          int
	ImportTimeout        time.Duration
	SessionTTL           time.Duration
	MaxConcurrentImports int

	// ImportQueueWait is how long StartImport waits for a free
	// concurrency slot. Zero rejects immediately with
	// ErrTooManyImports.
	ImportQueueWait time.Duration

	Logger *slog.Logger
}

// ProgressEvent is pushed to subscribers as a session advances.
type ProgressEvent struct {
	SessionID string   `json:"session_id"`
	State     State    `json:"state"`
	Progress  Progress `json:"progress"`
	Error     string   `json:"error,omitempty"`
}

// Service owns the active import sessions and drives each one through
// upload, mapping, preview, and execution.
type Service struct {
	catalog      catalog.Catalog
	newPersister PersisterFactory
	cfg          ServiceConfig
	log          *slog.Logger
	limiter      *Limiter

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	ID       string
	FileName string

	mu         sync.Mutex
	state      State
	table      *ingest.Table
	resolver   *match.Resolver
	resolution *match.Resolution
	output     *transform.Output
	cancel     context.CancelFunc
	summary    *Summary

	Done       chan struct{}
	Listeners  []chan ProgressEvent
	ListenerMu sync.Mutex
	closed     bool
	progress   Progress
}

// NewService creates a session service over the given catalog and
// persistence factory.
func NewService(cat catalog.Catalog, factory PersisterFactory, cfg ServiceConfig) *Service {
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 5
	}
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		catalog:      cat,
		newPersister: factory,
		cfg:          cfg,
		log:          log,
		limiter:      NewLimiter(cfg.MaxConcurrentImports, cfg.ImportQueueWait),
		sessions:     make(map[string]*session),
	}
}

// WaitForImports blocks until all running imports finish or the context
// is cancelled. Used during graceful shutdown.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ImportStatus reports the concurrency limiter's current state.
func (s *Service) ImportStatus() LimiterStatus {
	return s.limiter.Status()
}

// SessionView is a snapshot of one session's externally visible state.
type SessionView struct {
	ID        string                `json:"id"`
	State     State                 `json:"state"`
	FileName  string                `json:"file_name"`
	Columns   []string              `json:"columns"`
	RowCount  int                   `json:"row_count"`
	Mappings  []match.ColumnMapping `json:"mappings,omitempty"`
	Auto      []string              `json:"auto,omitempty"`
	Unmatched []string              `json:"unmatched,omitempty"`
	Excluded  []string              `json:"excluded,omitempty"`
	Warnings  []string              `json:"warnings,omitempty"`
	Summary   *Summary              `json:"summary,omitempty"`
}

// StartSession parses the raw upload, takes a catalog snapshot, and
// auto-resolves the columns. The session comes back in the mapping
// state with every classification decision visible.
func (s *Service) StartSession(ctx context.Context, fileName, raw string) (SessionView, error) {
	table, err := ingest.Parse(raw)
	if err != nil {
		return SessionView{}, err
	}

	sess := &session{
		ID:       uuid.New().String(),
		FileName: fileName,
		state:    StateUpload,
		table:    table,
		Done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if err := s.startMapping(ctx, sess); err != nil {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
		return SessionView{}, err
	}

	s.log.Info("import session started",
		"session_id", sess.ID,
		"file", fileName,
		"columns", len(table.Headers),
		"rows", len(table.Rows),
	)
	return s.view(sess), nil
}

// startMapping takes a fresh catalog snapshot and auto-resolves.
func (s *Service) startMapping(ctx context.Context, sess *session) error {
	resolver, err := match.NewResolver(ctx, s.catalog, s.cfg.Match)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.resolver = resolver
	sess.resolution = resolver.Resolve(sess.table.Headers)
	sess.state = StateMapping
	return nil
}

// Session returns a snapshot of the session's current state.
func (s *Service) Session(id string) (SessionView, error) {
	sess, err := s.get(id)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

// SetMapping applies a manual column decision. An empty fieldKey skips
// the column. Adjusting from preview drops the preview and returns the
// session to mapping.
func (s *Service) SetMapping(id, column, fieldKey string) (SessionView, error) {
	sess, err := s.get(id)
	if err != nil {
		return SessionView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != StateMapping && sess.state != StatePreview {
		return SessionView{}, fmt.Errorf("invalid state %s for mapping adjustment", sess.state)
	}
	if err := sess.resolver.SetMapping(column, fieldKey); err != nil {
		return SessionView{}, err
	}
	sess.state = StateMapping
	sess.output = nil
	return s.viewLocked(sess), nil
}

// CreateField creates a new catalog field for a column and maps the
// column to it. On a duplicate key the mapping is left unresolved so
// the caller can retry with a different key; SuggestKey helps pick one.
func (s *Service) CreateField(ctx context.Context, id, column string, spec catalog.FieldSpec) (SessionView, error) {
	sess, err := s.get(id)
	if err != nil {
		return SessionView{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != StateMapping && sess.state != StatePreview {
		return SessionView{}, fmt.Errorf("invalid state %s for field creation", sess.state)
	}
	if _, err := sess.resolver.CreateFieldFor(ctx, column, spec); err != nil {
		return SessionView{}, err
	}
	sess.state = StateMapping
	sess.output = nil
	return s.viewLocked(sess), nil
}

// SuggestKey returns the next free variant of a proposed field key.
func (s *Service) SuggestKey(ctx context.Context, proposed string) (string, error) {
	return catalog.NextAvailableKey(ctx, s.catalog, catalog.NormalizeKey(proposed))
}

// PreviewResult shows what an import would do before it runs.
type PreviewResult struct {
	Session    SessionView        `json:"session"`
	Sample     []transform.Record `json:"sample"`
	Records    int                `json:"records"`
	Dropped    int                `json:"dropped"`
	Failed     int                `json:"failed"`
	Duplicates int                `json:"duplicates"`
	Batches    int                `json:"batches"`
}

// Preview runs the transform and moves the session to the preview
// state. Every column must be resolved first.
func (s *Service) Preview(id string) (PreviewResult, error) {
	sess, err := s.get(id)
	if err != nil {
		return PreviewResult{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != StateMapping && sess.state != StatePreview {
		return PreviewResult{}, fmt.Errorf("invalid state %s for preview", sess.state)
	}
	if unresolved := sess.resolver.Unresolved(); len(unresolved) > 0 {
		return PreviewResult{}, fmt.Errorf("unresolved columns: %v", unresolved)
	}

	out := transform.Transform(sess.table.Rows, sess.resolver.Mappings(), s.cfg.Policy)
	sess.output = &out
	sess.state = StatePreview

	batchSize := s.cfg.Options.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	sample := out.Records
	if len(sample) > s.cfg.PreviewRows {
		sample = sample[:s.cfg.PreviewRows]
	}

	return PreviewResult{
		Session:    s.viewLocked(sess),
		Sample:     sample,
		Records:    len(out.Records),
		Dropped:    out.Dropped,
		Failed:     out.Failed,
		Duplicates: out.Duplicates,
		Batches:    (len(out.Records) + batchSize - 1) / batchSize,
	}, nil
}

// StartImport begins the batched execution in the background. Progress
// is delivered to subscribers once per completed batch. With
// ImportQueueWait set the call waits that long for a concurrency slot;
// otherwise a full limiter rejects immediately.
func (s *Service) StartImport(ctx context.Context, id string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}

	if s.cfg.ImportQueueWait > 0 {
		if err := s.limiter.Acquire(ctx); err != nil {
			return err
		}
	} else if !s.limiter.TryAcquire() {
		return ErrTooManyImports
	}

	sess.mu.Lock()
	if sess.state != StatePreview {
		sess.mu.Unlock()
		s.limiter.Release()
		return fmt.Errorf("invalid state %s for import start", sess.state)
	}

	persist, err := s.newPersister(sess.ID)
	if err != nil {
		s.limiter.Release()
		sess.mu.Unlock()
		return fmt.Errorf("persistence setup: %w", err)
	}

	importCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ImportTimeout)
	sess.cancel = cancel
	sess.state = StateImporting
	output := *sess.output
	sess.mu.Unlock()

	// partial accumulates batch outcomes as they land so that an
	// aborted run still reports the work completed before the abort.
	// Only the import goroutine touches it.
	partial := &Summary{Total: len(output.Records)}

	opts := s.cfg.Options
	opts.OnBatch = func(br BatchResult) {
		partial.Imported += br.Imported
		partial.Failed += br.Failed
		if br.Err != nil {
			partial.BatchErrors = append(partial.BatchErrors, BatchError{
				BatchIndex: br.BatchIndex,
				Message:    br.Err.Error(),
			})
		}
	}
	opts.OnProgress = func(p Progress) {
		sess.mu.Lock()
		sess.progress = p
		sess.mu.Unlock()
		sess.notify(ProgressEvent{SessionID: sess.ID, State: StateImporting, Progress: p})
	}

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in import",
					"session_id", sess.ID,
					"panic", r,
				)
				best := *partial
				best.Dropped = output.Dropped
				best.Failed += output.Failed
				best.Duplicates = output.Duplicates
				sess.mu.Lock()
				sess.state = StateResults
				sess.summary = &best
				sess.mu.Unlock()
				sess.notify(ProgressEvent{
					SessionID: sess.ID,
					State:     StateResults,
					Error:     fmt.Sprintf("internal error: %v", r),
				})
			}
			sess.closeListeners()
			close(sess.Done)
			s.cleanup(sess.ID, s.cfg.SessionTTL)
		}()

		summary := Execute(importCtx, output.Records, persist, opts)
		summary.Dropped = output.Dropped
		summary.Failed += output.Failed
		summary.Duplicates = output.Duplicates

		if summary.Imported > 0 {
			s.recordUsage(importCtx, output.Records)
		}

		sess.mu.Lock()
		sess.summary = &summary
		sess.state = StateResults
		progress := sess.progress
		sess.mu.Unlock()

		s.log.Info("import finished",
			"session_id", sess.ID,
			"imported", summary.Imported,
			"failed", summary.Failed,
			"dropped", summary.Dropped,
			"duplicates", summary.Duplicates,
			"cancelled", summary.Cancelled,
			"duration", summary.Duration,
		)
		sess.notify(ProgressEvent{SessionID: sess.ID, State: StateResults, Progress: progress})
	}()

	return nil
}

// recordUsage bumps usage counters for the fields that received data.
// Best effort: usage stats never fail an import.
func (s *Service) recordUsage(ctx context.Context, records []transform.Record) {
	recorder, ok := s.catalog.(catalog.UsageRecorder)
	if !ok {
		return
	}
	if err := recorder.IncrementUsage(ctx, transform.FieldKeys(records)); err != nil {
		s.log.Warn("record field usage", "error", err)
	}
}

// SubscribeProgress returns a channel receiving progress events. The
// channel is closed when the session's import completes.
func (s *Service) SubscribeProgress(id string) (<-chan ProgressEvent, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan ProgressEvent, 10)

	sess.mu.Lock()
	current := ProgressEvent{SessionID: sess.ID, State: sess.state, Progress: sess.progress}
	sess.mu.Unlock()

	sess.ListenerMu.Lock()
	defer sess.ListenerMu.Unlock()

	// A finished session gets its final state and an immediate close.
	if sess.closed {
		ch <- current
		close(ch)
		return ch, nil
	}

	sess.Listeners = append(sess.Listeners, ch)
	select {
	case ch <- current:
	default:
	}

	return ch, nil
}

// Cancel stops a session. From mapping or preview it resets to the
// uploaded state, discarding all decisions. During import it requests
// a stop that takes effect at the next batch boundary.
func (s *Service) Cancel(id string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.state {
	case StateMapping, StatePreview:
		sess.state = StateUpload
		sess.resolver = nil
		sess.resolution = nil
		sess.output = nil
		return nil
	case StateImporting:
		if sess.cancel != nil {
			sess.cancel()
		}
		return nil
	default:
		return fmt.Errorf("invalid state %s for cancel", sess.state)
	}
}

// RestartMapping re-resolves a cancelled session against a fresh
// catalog snapshot.
func (s *Service) RestartMapping(ctx context.Context, id string) (SessionView, error) {
	sess, err := s.get(id)
	if err != nil {
		return SessionView{}, err
	}

	sess.mu.Lock()
	state := sess.state
	sess.mu.Unlock()
	if state != StateUpload {
		return SessionView{}, fmt.Errorf("invalid state %s for mapping restart", state)
	}

	if err := s.startMapping(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

// Result blocks until the import completes and returns the summary. A
// cancelled context releases the caller without waiting out the run.
func (s *Service) Result(ctx context.Context, id string) (*Summary, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-sess.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.summary, nil
}

func (s *Service) get(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return sess, nil
}

// cleanup removes the session from tracking after a delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	})
}

func (s *Service) view(sess *session) SessionView {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.viewLocked(sess)
}

// viewLocked builds a view; sess.mu must be held.
func (s *Service) viewLocked(sess *session) SessionView {
	v := SessionView{
		ID:       sess.ID,
		State:    sess.state,
		FileName: sess.FileName,
		Columns:  sess.table.Headers,
		RowCount: len(sess.table.Rows),
		Summary:  sess.summary,
	}
	if sess.resolver != nil {
		v.Mappings = sess.resolver.Mappings()
		for target, cols := range sess.resolver.DuplicateTargets() {
			v.Warnings = append(v.Warnings, fmt.Sprintf("columns %v all map to field %q", cols, target))
		}
	}
	if sess.resolution != nil {
		v.Auto = sess.resolution.Auto
		v.Unmatched = sess.resolution.Unmatched
		v.Excluded = sess.resolution.Excluded
	}
	return v
}

// notify sends an event to all listeners, skipping slow ones.
func (sess *session) notify(ev ProgressEvent) {
	sess.ListenerMu.Lock()
	defer sess.ListenerMu.Unlock()

	for _, ch := range sess.Listeners {
		select {
		case ch <- ev:
		default:
			// Listener is slow, skip this update
		}
	}
}

func (sess *session) closeListeners() {
	sess.ListenerMu.Lock()
	defer sess.ListenerMu.Unlock()

	for _, ch := range sess.Listeners {
		close(ch)
	}
	sess.Listeners = nil
	sess.closed = true
}
