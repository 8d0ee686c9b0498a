package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldimport/internal/catalog"
	"fieldimport/internal/transform"
)

func contactCatalog() *catalog.MemoryCatalog {
	return catalog.NewMemoryCatalog(
		catalog.CanonicalField{FieldKey: "email", Label: "Email", Type: catalog.TypeEmail},
		catalog.CanonicalField{FieldKey: "first_name", Label: "First Name", Type: catalog.TypeText},
		catalog.CanonicalField{FieldKey: "last_name", Label: "Last Name", Type: catalog.TypeText},
	)
}

func newTestService(cat *catalog.MemoryCatalog, persist Persister) *Service {
	return NewService(cat, func(string) (Persister, error) { return persist, nil }, ServiceConfig{})
}

func waitForResult(t *testing.T, svc *Service, id string) *Summary {
	t.Helper()
	done := make(chan *Summary, 1)
	go func() {
		summary, err := svc.Result(context.Background(), id)
		if err != nil {
			t.Errorf("Result: %v", err)
		}
		done <- summary
	}()
	select {
	case summary := <-done:
		return summary
	case <-time.After(5 * time.Second):
		t.Fatal("import did not finish")
		return nil
	}
}

// ============================================================================
// Full Pipeline Tests
// ============================================================================

func TestSession_FullPipeline(t *testing.T) {
	ctx := context.Background()
	cat := contactCatalog()
	persist := NewMemoryPersister()
	svc := newTestService(cat, persist)

	raw := "Email,First Name,Last Name,Notes\n" +
		"john@example.com,John,Doe,likes dogs\n" +
		"jane@example.com,Jane,Doe,\n"

	view, err := svc.StartSession(ctx, "contacts.csv", raw)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if view.State != StateMapping {
		t.Fatalf("state = %s, want mapping", view.State)
	}
	if len(view.Auto) != 3 {
		t.Errorf("auto = %v, want Email, First Name, Last Name", view.Auto)
	}
	if len(view.Unmatched) != 1 || view.Unmatched[0] != "Notes" {
		t.Errorf("unmatched = %v, want [Notes]", view.Unmatched)
	}

	// Resolve the unmatched column by creating a new field.
	view, err = svc.CreateField(ctx, view.ID, "Notes", catalog.FieldSpec{
		FieldKey: "notes",
		Label:    "Notes",
		Type:     catalog.TypeTextarea,
	})
	if err != nil {
		t.Fatalf("CreateField: %v", err)
	}

	preview, err := svc.Preview(view.ID)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if preview.Records != 2 || preview.Batches != 1 {
		t.Errorf("preview records=%d batches=%d, want 2 and 1", preview.Records, preview.Batches)
	}
	if preview.Sample[0].Fields["notes"] != "likes dogs" {
		t.Errorf("created field missing from record: %v", preview.Sample[0].Fields)
	}

	if err := svc.StartImport(ctx, view.ID); err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	summary := waitForResult(t, svc, view.ID)

	if summary.Imported != 2 || summary.Failed != 0 {
		t.Errorf("imported=%d failed=%d, want 2 and 0", summary.Imported, summary.Failed)
	}
	if got := len(persist.Records()); got != 2 {
		t.Errorf("persisted %d records, want 2", got)
	}

	// Completed import bumps usage for the fields that received data.
	fields, _ := cat.ListFields(ctx)
	for _, f := range fields {
		switch f.FieldKey {
		case "email", "first_name", "last_name", "notes":
			if f.UsageCount != 1 {
				t.Errorf("usage for %s = %d, want 1", f.FieldKey, f.UsageCount)
			}
		}
	}
}

func TestSession_PreviewRequiresResolvedColumns(t *testing.T) {
	svc := newTestService(contactCatalog(), NewMemoryPersister())

	view, err := svc.StartSession(context.Background(), "c.csv", "Email,Mystery\na@b.com,x\n")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	_, err = svc.Preview(view.ID)
	if err == nil || !strings.Contains(err.Error(), "unresolved columns") {
		t.Fatalf("Preview error = %v, want unresolved columns", err)
	}

	if _, err := svc.SetMapping(view.ID, "Mystery", ""); err != nil {
		t.Fatalf("SetMapping skip: %v", err)
	}
	if _, err := svc.Preview(view.ID); err != nil {
		t.Errorf("Preview after skip: %v", err)
	}
}

func TestSession_ManualAdjustFromPreviewReturnsToMapping(t *testing.T) {
	svc := newTestService(contactCatalog(), NewMemoryPersister())

	view, _ := svc.StartSession(context.Background(), "c.csv", "Email\na@b.com\n")
	if _, err := svc.Preview(view.ID); err != nil {
		t.Fatalf("Preview: %v", err)
	}

	view, err := svc.SetMapping(view.ID, "Email", "email")
	if err != nil {
		t.Fatalf("SetMapping from preview: %v", err)
	}
	if view.State != StateMapping {
		t.Errorf("state = %s, want mapping after adjustment", view.State)
	}

	// Import cannot start without a fresh preview.
	if err := svc.StartImport(context.Background(), view.ID); err == nil {
		t.Error("StartImport must fail outside the preview state")
	}
}

func TestSession_CancelFromMappingResetsToUpload(t *testing.T) {
	svc := newTestService(contactCatalog(), NewMemoryPersister())
	ctx := context.Background()

	view, _ := svc.StartSession(ctx, "c.csv", "Email\na@b.com\n")
	if err := svc.Cancel(view.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, _ := svc.Session(view.ID)
	if got.State != StateUpload {
		t.Errorf("state = %s, want upload after cancel", got.State)
	}

	restarted, err := svc.RestartMapping(ctx, view.ID)
	if err != nil {
		t.Fatalf("RestartMapping: %v", err)
	}
	if restarted.State != StateMapping {
		t.Errorf("state = %s, want mapping after restart", restarted.State)
	}
}

func TestSession_DuplicateFieldKeySurfacedForRetry(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(contactCatalog(), NewMemoryPersister())

	view, _ := svc.StartSession(ctx, "c.csv", "Email,Extra\na@b.com,x\n")

	_, err := svc.CreateField(ctx, view.ID, "Extra", catalog.FieldSpec{
		FieldKey: "email",
		Type:     catalog.TypeEmail,
	})
	if !catalog.IsDuplicateKey(err) {
		t.Fatalf("expected DuplicateKeyError, got %v", err)
	}

	key, err := svc.SuggestKey(ctx, "email")
	if err != nil {
		t.Fatalf("SuggestKey: %v", err)
	}
	if key != "email_2" {
		t.Errorf("SuggestKey = %q, want email_2", key)
	}
}

func TestSession_SummaryMergesTransformCounts(t *testing.T) {
	svc := newTestService(contactCatalog(), NewMemoryPersister())

	raw := "Email\n" +
		"a@b.com\n" +
		"a@b.com\n" + // duplicate
		"\n" // blank line, discarded at parse

	view, err := svc.StartSession(context.Background(), "c.csv", raw)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	preview, err := svc.Preview(view.ID)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if preview.Duplicates != 1 {
		t.Errorf("preview duplicates = %d, want 1", preview.Duplicates)
	}

	if err := svc.StartImport(context.Background(), view.ID); err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	summary := waitForResult(t, svc, view.ID)

	if summary.Imported != 1 || summary.Duplicates != 1 {
		t.Errorf("imported=%d duplicates=%d, want 1 and 1", summary.Imported, summary.Duplicates)
	}
}

func TestSession_ProgressSubscription(t *testing.T) {
	svc := newTestService(contactCatalog(), NewMemoryPersister())

	view, _ := svc.StartSession(context.Background(), "c.csv", "Email\na@b.com\n")
	if _, err := svc.Preview(view.ID); err != nil {
		t.Fatalf("Preview: %v", err)
	}

	ch, err := svc.SubscribeProgress(view.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}

	if err := svc.StartImport(context.Background(), view.ID); err != nil {
		t.Fatalf("StartImport: %v", err)
	}

	sawResults := false
	timeout := time.After(5 * time.Second)
	for !sawResults {
		select {
		case ev, ok := <-ch:
			if !ok {
				if !sawResults {
					t.Fatal("channel closed before results event")
				}
				return
			}
			if ev.State == StateResults {
				sawResults = true
			}
		case <-timeout:
			t.Fatal("no results event received")
		}
	}
}

func TestSession_NotFound(t *testing.T) {
	svc := newTestService(contactCatalog(), NewMemoryPersister())

	_, err := svc.Session("nope")
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Fatalf("error = %v, want session not found", err)
	}
	if MapError(err).Code != "SES001" {
		t.Errorf("MapError code = %s, want SES001", MapError(err).Code)
	}
}

// ============================================================================
// Error Mapping Tests
// ============================================================================

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"duplicate field key", &catalog.DuplicateKeyError{FieldKey: "email"}, "CAT001"},
		{"transport timeout", context.DeadlineExceeded, "SES005"},
		{"unknown", errors.New("segfault in flux capacitor"), "ERR000"},
		{"nil-safe fallback", &TransportError{Err: context.Canceled}, "SES004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err).Code; got != tt.want {
				t.Errorf("MapError(%v).Code = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(&catalog.DuplicateKeyError{FieldKey: "email"})
	if !strings.Contains(got, "CAT001") || !strings.Contains(got, "already exists") {
		t.Errorf("FormatUserError = %q", got)
	}
	if FormatUserError(nil) != "" {
		t.Error("nil error must format to empty string")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil is not user facing")
	}
	if !IsUserFacing(context.Canceled) {
		t.Error("context.Canceled should map to a known pattern")
	}
}

// ============================================================================
// Concurrency Limit Tests
// ============================================================================

// blockingPersister holds every batch until release is closed.
type blockingPersister struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPersister) PersistBatch(ctx context.Context, records []transform.Record) (BatchOutcome, error) {
	p.once.Do(func() { close(p.started) })
	<-p.release
	return BatchOutcome{Imported: len(records)}, nil
}

func TestSession_ConcurrentImportLimit(t *testing.T) {
	ctx := context.Background()
	cat := contactCatalog()
	persist := &blockingPersister{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewService(cat,
		func(string) (Persister, error) { return persist, nil },
		ServiceConfig{MaxConcurrentImports: 1},
	)

	raw := "Email,First Name,Last Name\na@example.com,Ada,Lovelace\n"

	startReady := func() string {
		view, err := svc.StartSession(ctx, "contacts.csv", raw)
		if err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		if _, err := svc.Preview(view.ID); err != nil {
			t.Fatalf("Preview: %v", err)
		}
		return view.ID
	}

	first := startReady()
	second := startReady()

	if err := svc.StartImport(ctx, first); err != nil {
		t.Fatalf("first StartImport: %v", err)
	}

	// Wait until the first import occupies its slot.
	select {
	case <-persist.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first import never reached the persister")
	}

	if err := svc.StartImport(ctx, second); !errors.Is(err, ErrTooManyImports) {
		t.Fatalf("second StartImport error = %v, want ErrTooManyImports", err)
	}
	if got := MapError(ErrTooManyImports).Code; got != "RATE002" {
		t.Errorf("concurrency error code = %s, want RATE002", got)
	}

	close(persist.release)
	waitForResult(t, svc, first)

	// The slot frees once the first import finishes.
	deadline := time.After(2 * time.Second)
	for {
		err := svc.StartImport(ctx, second)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTooManyImports) {
			t.Fatalf("retry StartImport error = %v", err)
		}
		select {
		case <-deadline:
			t.Fatal("slot never freed after first import finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
	waitForResult(t, svc, second)
}

func TestSession_QueuedImportWaitsForSlot(t *testing.T) {
	ctx := context.Background()
	persist := &blockingPersister{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewService(contactCatalog(),
		func(string) (Persister, error) { return persist, nil },
		ServiceConfig{MaxConcurrentImports: 1, ImportQueueWait: 3 * time.Second},
	)

	raw := "Email\na@example.com\n"
	startReady := func() string {
		view, err := svc.StartSession(ctx, "c.csv", raw)
		if err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		if _, err := svc.Preview(view.ID); err != nil {
			t.Fatalf("Preview: %v", err)
		}
		return view.ID
	}

	first := startReady()
	second := startReady()

	if err := svc.StartImport(ctx, first); err != nil {
		t.Fatalf("first StartImport: %v", err)
	}
	select {
	case <-persist.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first import never reached the persister")
	}

	// The second import queues instead of being rejected.
	errCh := make(chan error, 1)
	go func() { errCh <- svc.StartImport(ctx, second) }()

	select {
	case err := <-errCh:
		t.Fatalf("queued import returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(persist.release)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("queued StartImport: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("queued import never received the freed slot")
	}
	waitForResult(t, svc, first)
	waitForResult(t, svc, second)
}

// ============================================================================
// Failure Recovery Tests
// ============================================================================

// flakyPersister delivers the first ok batches, then panics.
type flakyPersister struct {
	ok    int
	calls int
}

func (p *flakyPersister) PersistBatch(ctx context.Context, records []transform.Record) (BatchOutcome, error) {
	p.calls++
	if p.calls > p.ok {
		panic("storage corrupted")
	}
	return BatchOutcome{Imported: len(records)}, nil
}

func TestSession_PanicPreservesPartialSummary(t *testing.T) {
	ctx := context.Background()
	svc := NewService(contactCatalog(),
		func(string) (Persister, error) { return &flakyPersister{ok: 1}, nil },
		ServiceConfig{Options: Options{BatchSize: 1}},
	)

	raw := "Email\na@example.com\nb@example.com\nc@example.com\n"
	view, err := svc.StartSession(ctx, "c.csv", raw)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := svc.Preview(view.ID); err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if err := svc.StartImport(ctx, view.ID); err != nil {
		t.Fatalf("StartImport: %v", err)
	}

	summary := waitForResult(t, svc, view.ID)
	if summary == nil {
		t.Fatal("no summary after recovered panic")
	}
	if summary.Total != 3 {
		t.Errorf("total = %d, want 3", summary.Total)
	}
	if summary.Imported != 1 {
		t.Errorf("imported = %d, want the batch completed before the failure (1)", summary.Imported)
	}

	got, err := svc.Session(view.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.State != StateResults {
		t.Errorf("state = %s, want results", got.State)
	}
}

func TestSession_ResultHonorsContext(t *testing.T) {
	persist := &blockingPersister{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := newTestService(contactCatalog(), persist)

	view, err := svc.StartSession(context.Background(), "c.csv", "Email\na@example.com\n")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := svc.Preview(view.ID); err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if err := svc.StartImport(context.Background(), view.ID); err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	<-persist.started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Result(ctx, view.ID)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Result error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Result did not release on context cancellation")
	}

	close(persist.release)
	waitForResult(t, svc, view.ID)
}
