package scan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"docdex/internal/errdef"
	"docdex/internal/index"
	"docdex/internal/locks"
	"docdex/internal/quarantine"
	"docdex/internal/store"
)

// ---------- fakes ----------

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	failOn  string
	replace bool
	skipAll bool
}

func (f *fakeIndexer) IndexDocument(_ context.Context, req index.Request) (*index.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.HasSuffix(req.SourceURI, f.failOn) {
		return nil, errdef.New(errdef.CodeProcessingFailed, "boom")
	}
	f.indexed = append(f.indexed, req.SourceURI)
	if f.skipAll {
		return &index.Result{Status: index.StatusSkipped, SourceURI: req.SourceURI}, nil
	}
	return &index.Result{
		Status:        index.StatusSuccess,
		SourceURI:     req.SourceURI,
		ChunksIndexed: 1,
		Replaced:      f.replace,
	}, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	holder   string // non-empty: every acquire is contended by this holder
	acquired []string
	released []string
}

func (f *fakeLocker) Acquire(_ context.Context, req locks.AcquireRequest) (*store.LockOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder != "" {
		return &store.LockOutcome{Holder: &store.DocumentLock{ClientID: f.holder}}, nil
	}
	f.acquired = append(f.acquired, req.SourceURI)
	return &store.LockOutcome{Acquired: true, Lock: &store.DocumentLock{
		SourceURI: req.SourceURI, ClientID: req.ClientID,
	}}, nil
}

func (f *fakeLocker) Release(_ context.Context, sourceURI, _ string, _ *uuid.UUID, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sourceURI)
	return nil
}

type fakeSweeper struct {
	report *quarantine.SweepReport
	swept  bool
}

func (f *fakeSweeper) SweepMissingSources(context.Context, string) (*quarantine.SweepReport, error) {
	f.swept = true
	return f.report, nil
}

func (f *fakeSweeper) MissingSources(context.Context, string) (*quarantine.SweepReport, error) {
	return f.report, nil
}

type fakeRuns struct {
	started   bool
	runID     uuid.UUID
	status    string
	counters  store.RunCounters
	runErrors []store.RunError
}

func (f *fakeRuns) StartRun(_ context.Context, _ string, _ *string, _ map[string]any, _ *string) (uuid.UUID, error) {
	f.started = true
	f.runID = uuid.New()
	return f.runID, nil
}

func (f *fakeRuns) CompleteRun(_ context.Context, _ uuid.UUID, status string, counters store.RunCounters, runErrors []store.RunError) error {
	f.status = status
	f.counters = counters
	f.runErrors = runErrors
	return nil
}

type fakeKeys struct {
	folder   string
	scope    string
	identity string
	count    int64
}

func (f *fakeKeys) BulkSetCanonicalKeys(_ context.Context, folderPath, scope, identity string) (int64, error) {
	f.folder = folderPath
	f.scope = scope
	f.identity = identity
	return f.count, nil
}

// ---------- helpers ----------

type testEngine struct {
	engine  *Engine
	indexer *fakeIndexer
	locker  *fakeLocker
	sweeper *fakeSweeper
	runs    *fakeRuns
	keys    *fakeKeys
}

func newTestEngine(t *testing.T, exclude ...string) *testEngine {
	t.Helper()
	te := &testEngine{
		indexer: &fakeIndexer{},
		locker:  &fakeLocker{},
		sweeper: &fakeSweeper{report: &quarantine.SweepReport{}},
		runs:    &fakeRuns{},
		keys:    &fakeKeys{},
	}
	te.engine = New(Config{
		Indexer:      te.indexer,
		Locks:        te.locker,
		Quarantine:   te.sweeper,
		Runs:         te.runs,
		Keys:         te.keys,
		Supported:    func(path string) bool { return filepath.Ext(path) != ".bin" },
		ExcludeGlobs: exclude,
		Logger:       nil,
	})
	return te
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------- tests ----------

func TestScanIndexesSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")
	writeFile(t, dir, "b.txt", "bravo")
	writeFile(t, dir, "c.bin", "\x00\x01")
	te := newTestEngine(t)

	result, err := te.engine.Scan(context.Background(), Request{FolderPath: dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Status != store.RunSuccess {
		t.Fatalf("status = %q, want success", result.Status)
	}
	if result.TotalFiles != 3 {
		t.Fatalf("total_files = %d, want 3", result.TotalFiles)
	}
	want := store.RunCounters{Scanned: 3, Added: 2, Skipped: 1}
	if result.Counters != want {
		t.Fatalf("counters = %+v, want %+v", result.Counters, want)
	}
	if len(te.indexer.indexed) != 2 {
		t.Fatalf("indexed %d files, want 2", len(te.indexer.indexed))
	}
	if len(te.locker.acquired) != 2 || len(te.locker.released) != 2 {
		t.Fatalf("locks acquired=%d released=%d, want 2/2",
			len(te.locker.acquired), len(te.locker.released))
	}
	if !te.sweeper.swept {
		t.Fatal("missing-source sweep did not run")
	}
	if !te.runs.started || te.runs.status != store.RunSuccess {
		t.Fatalf("run started=%v status=%q", te.runs.started, te.runs.status)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.engine.Scan(context.Background(), Request{
		FolderPath: filepath.Join(t.TempDir(), "nope"),
	})
	if !errdef.IsCode(err, errdef.CodePathValidationFailed) {
		t.Fatalf("error = %v, want PATH_VALIDATION_FAILED", err)
	}
	if !te.runs.started {
		t.Fatal("failed scan should still open a run")
	}
	if te.runs.status != store.RunFailed {
		t.Fatalf("run status = %q, want failed", te.runs.status)
	}
	if len(te.runs.runErrors) != 1 || te.runs.runErrors[0].Stage != "walk" {
		t.Fatalf("run errors = %+v", te.runs.runErrors)
	}
}

func TestScanRecordsPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.md", "fine")
	writeFile(t, dir, "bad.md", "broken")
	te := newTestEngine(t)
	te.indexer.failOn = "bad.md"

	result, err := te.engine.Scan(context.Background(), Request{FolderPath: dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Status != store.RunPartial {
		t.Fatalf("status = %q, want partial", result.Status)
	}
	if result.Counters.Failed != 1 || result.Counters.Added != 1 {
		t.Fatalf("counters = %+v", result.Counters)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %+v", result.Errors)
	}
	if result.Errors[0].Stage != "process" {
		t.Fatalf("stage = %q, want process", result.Errors[0].Stage)
	}
	if te.runs.status != store.RunPartial {
		t.Fatalf("run status = %q, want partial", te.runs.status)
	}
}

func TestScanSurfacesLockContention(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "contested.md", "text")
	te := newTestEngine(t)
	te.locker.holder = "other-client"

	result, err := te.engine.Scan(context.Background(), Request{FolderPath: dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Status != store.RunPartial {
		t.Fatalf("status = %q, want partial", result.Status)
	}
	if result.Counters.Failed != 1 {
		t.Fatalf("counters = %+v", result.Counters)
	}
	if len(result.Errors) != 1 || result.Errors[0].Stage != "lock" {
		t.Fatalf("errors = %+v", result.Errors)
	}
	if !strings.Contains(result.Errors[0].Error, "other-client") {
		t.Fatalf("lock error should name the holder: %q", result.Errors[0].Error)
	}
	if len(te.indexer.indexed) != 0 {
		t.Fatal("contested file must not be indexed")
	}
}

func TestScanDryRun(t *testing.T) {
	dir := t.TempDir()
	supported := writeFile(t, dir, "a.md", "alpha")
	writeFile(t, dir, "c.bin", "\x00")
	te := newTestEngine(t)
	te.sweeper.report = &quarantine.SweepReport{
		Checked:     2,
		Quarantined: []string{"/old/gone.md"},
	}

	result, err := te.engine.Scan(context.Background(), Request{FolderPath: dir, DryRun: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !result.DryRun {
		t.Fatal("result not marked dry_run")
	}
	if result.TotalFiles != 2 {
		t.Fatalf("total_files = %d, want 2", result.TotalFiles)
	}
	if len(result.WouldIndex) != 1 || result.WouldIndex[0] != supported {
		t.Fatalf("would_index = %v", result.WouldIndex)
	}
	if len(result.WouldQuarantine) != 1 || result.WouldQuarantine[0] != "/old/gone.md" {
		t.Fatalf("would_quarantine = %v", result.WouldQuarantine)
	}
	if te.runs.started {
		t.Fatal("dry run must not open a run")
	}
	if len(te.locker.acquired) != 0 {
		t.Fatal("dry run must not take locks")
	}
	if len(te.indexer.indexed) != 0 {
		t.Fatal("dry run must not index")
	}
}

func TestScanHonorsExcludeGlobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.md", "keep")
	writeFile(t, dir, "node_modules/dep.md", "dep")
	writeFile(t, dir, "debug.log", "log")
	te := newTestEngine(t, "node_modules/**", "*.log")

	result, err := te.engine.Scan(context.Background(), Request{FolderPath: dir})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.TotalFiles != 1 {
		t.Fatalf("total_files = %d, want 1", result.TotalFiles)
	}
	if len(te.indexer.indexed) != 1 || !strings.HasSuffix(te.indexer.indexed[0], "keep.md") {
		t.Fatalf("indexed = %v", te.indexer.indexed)
	}
}

func TestScanBackfillsCanonicalKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")
	te := newTestEngine(t)
	te.keys.count = 5
	rootID := uuid.New()

	result, err := te.engine.Scan(context.Background(), Request{
		FolderPath: dir,
		RootID:     &rootID,
		Scope:      "server",
		Identity:   rootID.String(),
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if te.keys.folder != dir || te.keys.scope != "server" || te.keys.identity != rootID.String() {
		t.Fatalf("backfill args: folder=%q scope=%q identity=%q",
			te.keys.folder, te.keys.scope, te.keys.identity)
	}
	if result.KeysBackfilled != 5 {
		t.Fatalf("keys_backfilled = %d, want 5", result.KeysBackfilled)
	}
}

func TestScanForceReindexCountsUpdated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")
	te := newTestEngine(t)
	te.indexer.replace = true

	result, err := te.engine.Scan(context.Background(), Request{
		FolderPath:   dir,
		ForceReindex: true,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Counters.Updated != 1 || result.Counters.Added != 0 {
		t.Fatalf("counters = %+v, want one update", result.Counters)
	}
}

func TestRequestForFolder(t *testing.T) {
	executor := "desktop-1"
	client := &store.WatchedFolder{
		FolderPath:     "/home/alice/docs",
		ExecutionScope: "client",
		ExecutorID:     &executor,
		RootID:         uuid.New(),
		MaxConcurrency: 4,
	}
	req := RequestForFolder(client, store.TriggerScheduled)
	if req.Identity != executor || req.ClientID == nil || *req.ClientID != executor {
		t.Fatalf("client request = %+v", req)
	}
	if req.MaxConcurrency != 4 {
		t.Fatalf("max_concurrency = %d, want 4", req.MaxConcurrency)
	}

	server := &store.WatchedFolder{
		FolderPath:     "/data/docs",
		ExecutionScope: "server",
		RootID:         uuid.New(),
		MaxConcurrency: 1,
	}
	req = RequestForFolder(server, store.TriggerScheduled)
	if req.Identity != server.RootID.String() {
		t.Fatalf("server identity = %q, want root id", req.Identity)
	}
	if req.ClientID != nil {
		t.Fatalf("server request carries client id %q", *req.ClientID)
	}
}
