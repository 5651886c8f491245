package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"docdex/internal/errdef"
	"docdex/internal/registry"
	"docdex/internal/scan"
	"docdex/internal/store"
)

// ---------- fakes ----------

type fakeLease struct {
	held     bool
	released bool
}

func (f *fakeLease) Held(context.Context) bool { return f.held }
func (f *fakeLease) Release(context.Context)   { f.released = true }

type fakeLeaser struct {
	lease *fakeLease // nil: another replica holds the lock
}

func (f *fakeLeaser) TryAcquireLease(context.Context) (Lease, error) {
	if f.lease == nil {
		return nil, nil
	}
	return f.lease, nil
}

type fakeRegistry struct {
	mu         sync.Mutex
	folders    []store.WatchedFolder
	started    []uuid.UUID
	completed  map[uuid.UUID]bool
	marked     []uuid.UUID
	resets     []uuid.UUID
	lastPaused *bool
}

func newFakeRegistry(folders ...store.WatchedFolder) *fakeRegistry {
	return &fakeRegistry{folders: folders, completed: map[uuid.UUID]bool{}}
}

func (f *fakeRegistry) ListFolders(_ context.Context, opts store.ListFoldersOptions) ([]store.WatchedFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.WatchedFolder
	for _, folder := range f.folders {
		if opts.Scope != "" && folder.ExecutionScope != opts.Scope {
			continue
		}
		if opts.EnabledOnly && !folder.Enabled {
			continue
		}
		out = append(out, folder)
	}
	return out, nil
}

func (f *fakeRegistry) GetFolderByRootID(_ context.Context, rootID uuid.UUID) (*store.WatchedFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.folders {
		if f.folders[i].RootID == rootID {
			folder := f.folders[i]
			return &folder, nil
		}
	}
	return nil, errdef.New(errdef.CodeDocumentNotFound, "watched folder not found")
}

func (f *fakeRegistry) UpdateFolder(_ context.Context, id uuid.UUID, patch registry.UpdatePatch) (*store.WatchedFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPaused = patch.Paused
	for i := range f.folders {
		if f.folders[i].ID == id {
			if patch.Paused != nil {
				f.folders[i].Paused = *patch.Paused
			}
			folder := f.folders[i]
			return &folder, nil
		}
	}
	return nil, errdef.New(errdef.CodeDocumentNotFound, "watched folder not found")
}

func (f *fakeRegistry) MarkScanned(_ context.Context, id uuid.UUID, _ *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeRegistry) RecordScanStarted(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRegistry) RecordScanCompleted(_ context.Context, id uuid.UUID, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = success
	return nil
}

func (f *fakeRegistry) ResetFailures(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, id)
	return nil
}

type fakeScanner struct {
	mu      sync.Mutex
	scanned []string
	result  *scan.Result
	err     error
	done    chan struct{}
}

func (f *fakeScanner) Scan(_ context.Context, req scan.Request) (*scan.Result, error) {
	f.mu.Lock()
	f.scanned = append(f.scanned, req.FolderPath)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &scan.Result{RunID: uuid.New(), Status: store.RunSuccess}, nil
}

func (f *fakeScanner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scanned)
}

type fakePurger struct{ called bool }

func (f *fakePurger) PurgeExpired(context.Context, int) (int64, error) {
	f.called = true
	return 0, nil
}

type fakeReaper struct{ called bool }

func (f *fakeReaper) ReapStaleRuns(context.Context) (int64, error) {
	f.called = true
	return 0, nil
}

type fakeJanitor struct{ called bool }

func (f *fakeJanitor) CleanupExpired(context.Context) (int64, error) {
	f.called = true
	return 0, nil
}

// ---------- helpers ----------

func serverFolder(paused bool, failures int) store.WatchedFolder {
	return store.WatchedFolder{
		ID:                  uuid.New(),
		RootID:              uuid.New(),
		FolderPath:          "/data/docs",
		ExecutionScope:      "server",
		ScheduleCron:        "0 */6 * * *",
		Enabled:             true,
		Paused:              paused,
		MaxConcurrency:      1,
		ConsecutiveFailures: failures,
	}
}

type testScheduler struct {
	sched    *Scheduler
	leaser   *fakeLeaser
	registry *fakeRegistry
	scanner  *fakeScanner
	purger   *fakePurger
	reaper   *fakeReaper
	janitor  *fakeJanitor
}

func newTestScheduler(t *testing.T, reg *fakeRegistry) *testScheduler {
	t.Helper()
	ts := &testScheduler{
		leaser:   &fakeLeaser{lease: &fakeLease{held: true}},
		registry: reg,
		scanner:  &fakeScanner{},
		purger:   &fakePurger{},
		reaper:   &fakeReaper{},
		janitor:  &fakeJanitor{},
	}
	sched, err := New(Config{
		Enabled:        true,
		PollInterval:   time.Minute,
		FailureBackoff: time.Hour,
		Leaser:         ts.leaser,
		Registry:       ts.registry,
		Scanner:        ts.scanner,
		Quarantine:     ts.purger,
		Audit:          ts.reaper,
		Locks:          ts.janitor,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts.sched = sched
	return ts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// ---------- tests ----------

func TestDueDecision(t *testing.T) {
	ts := newTestScheduler(t, newFakeRegistry())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	fresh := serverFolder(false, 0)
	if !ts.sched.due(&fresh, now) {
		t.Error("never-scanned root should be due")
	}

	paused := serverFolder(true, 0)
	if ts.sched.due(&paused, now) {
		t.Error("paused root must not be due")
	}

	recent := serverFolder(false, 0)
	scanned := now.Add(-time.Hour)
	recent.LastScannedAt = &scanned
	if ts.sched.due(&recent, now) {
		t.Error("root scanned 1h ago with 6h interval must not be due")
	}

	stale := serverFolder(false, 0)
	old := now.Add(-7 * time.Hour)
	stale.LastScannedAt = &old
	if !ts.sched.due(&stale, now) {
		t.Error("root scanned 7h ago with 6h interval should be due")
	}

	backoff := serverFolder(false, failureSkipThreshold)
	recentErr := now.Add(-10 * time.Minute)
	backoff.LastErrorAt = &recentErr
	if ts.sched.due(&backoff, now) {
		t.Error("root in failure backoff must not be due")
	}

	recovered := serverFolder(false, failureSkipThreshold)
	oldErr := now.Add(-2 * time.Hour)
	recovered.LastErrorAt = &oldErr
	if !ts.sched.due(&recovered, now) {
		t.Error("root past failure backoff should be due again")
	}

	fewFailures := serverFolder(false, failureSkipThreshold-1)
	fewFailures.LastErrorAt = &recentErr
	if !ts.sched.due(&fewFailures, now) {
		t.Error("root under the failure threshold should still be due")
	}
}

func TestPollScansDueRoots(t *testing.T) {
	due := serverFolder(false, 0)
	notDue := serverFolder(false, 0)
	scanned := time.Now()
	notDue.LastScannedAt = &scanned
	ts := newTestScheduler(t, newFakeRegistry(due, notDue))

	ts.sched.poll(context.Background())

	waitFor(t, func() bool { return ts.scanner.count() == 1 })
	waitFor(t, func() bool {
		ts.registry.mu.Lock()
		defer ts.registry.mu.Unlock()
		return len(ts.registry.marked) == 1 && ts.registry.completed[due.ID]
	})
	ts.registry.mu.Lock()
	defer ts.registry.mu.Unlock()
	if len(ts.registry.started) != 1 || ts.registry.started[0] != due.ID {
		t.Fatalf("started watermarks = %v", ts.registry.started)
	}
}

func TestPollWithoutLeaseStandsDown(t *testing.T) {
	ts := newTestScheduler(t, newFakeRegistry(serverFolder(false, 0)))
	ts.leaser.lease = nil

	ts.sched.poll(context.Background())

	time.Sleep(20 * time.Millisecond)
	if ts.scanner.count() != 0 {
		t.Fatal("leaseless replica must not scan")
	}
	if ts.sched.Status().LeaseHeld {
		t.Fatal("status reports a lease it does not hold")
	}
}

func TestExecuteScanFailureWatermark(t *testing.T) {
	folder := serverFolder(false, 0)
	ts := newTestScheduler(t, newFakeRegistry(folder))
	ts.scanner.err = errdef.New(errdef.CodePathValidationFailed, "gone")

	_, err := ts.sched.executeScan(context.Background(), &folder, store.TriggerScheduled)
	if err == nil {
		t.Fatal("expected scan error")
	}
	ts.registry.mu.Lock()
	defer ts.registry.mu.Unlock()
	if success, ok := ts.registry.completed[folder.ID]; !ok || success {
		t.Fatalf("completed watermark = (%v, %v), want recorded failure", success, ok)
	}
	if len(ts.registry.marked) != 0 {
		t.Fatal("failed scan must not mark the folder scanned")
	}
}

func TestScanNowRejectsClientScope(t *testing.T) {
	folder := serverFolder(false, 0)
	folder.ExecutionScope = "client"
	ts := newTestScheduler(t, newFakeRegistry(folder))

	_, err := ts.sched.ScanNow(context.Background(), folder.RootID)
	if !errdef.IsCode(err, errdef.CodeNotServerScope) {
		t.Fatalf("error = %v, want NOT_SERVER_SCOPE", err)
	}
}

func TestScanNowRunsServerRoot(t *testing.T) {
	folder := serverFolder(false, 0)
	ts := newTestScheduler(t, newFakeRegistry(folder))

	result, err := ts.sched.ScanNow(context.Background(), folder.RootID)
	if err != nil {
		t.Fatalf("ScanNow: %v", err)
	}
	if result.Status != store.RunSuccess {
		t.Fatalf("status = %q", result.Status)
	}
	if ts.scanner.count() != 1 {
		t.Fatalf("scans = %d, want 1", ts.scanner.count())
	}
}

func TestPauseAndResume(t *testing.T) {
	folder := serverFolder(false, 0)
	ts := newTestScheduler(t, newFakeRegistry(folder))

	paused, err := ts.sched.Pause(context.Background(), folder.RootID)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !paused.Paused {
		t.Fatal("folder not paused")
	}

	resumed, err := ts.sched.Resume(context.Background(), folder.RootID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Paused {
		t.Fatal("folder still paused")
	}
	ts.registry.mu.Lock()
	defer ts.registry.mu.Unlock()
	if len(ts.registry.resets) != 1 {
		t.Fatal("resume must reset the failure streak")
	}
}

func TestHousekeepingRequiresLease(t *testing.T) {
	ts := newTestScheduler(t, newFakeRegistry())

	// Never polled: no lease yet.
	ts.sched.housekeeping(context.Background())
	if ts.purger.called || ts.reaper.called || ts.janitor.called {
		t.Fatal("housekeeping ran without the lease")
	}

	ts.sched.poll(context.Background())
	ts.sched.housekeeping(context.Background())
	if !ts.purger.called || !ts.reaper.called || !ts.janitor.called {
		t.Fatalf("housekeeping skipped steps: purge=%v reap=%v locks=%v",
			ts.purger.called, ts.reaper.called, ts.janitor.called)
	}
}

func TestFlightGroupSingleFlight(t *testing.T) {
	var g flightGroup[string]
	release := make(chan struct{})
	running := make(chan struct{})

	go g.TryDo("root", func() {
		close(running)
		<-release
	})
	<-running

	if g.TryDo("root", func() { t.Error("second flight ran") }) {
		t.Fatal("TryDo accepted a key already in flight")
	}
	if g.Active() != 1 {
		t.Fatalf("active = %d, want 1", g.Active())
	}
	if !g.TryDo("other", func() {}) {
		t.Fatal("unrelated key refused")
	}

	close(release)
	waitFor(t, func() bool { return g.Active() == 0 })
	if !g.TryDo("root", func() {}) {
		t.Fatal("key not freed after flight finished")
	}
}

func TestStatusFields(t *testing.T) {
	ts := newTestScheduler(t, newFakeRegistry())

	st := ts.sched.Status()
	if st.LastPollAt != nil {
		t.Fatal("last_poll_at set before first poll")
	}
	if st.PollIntervalSeconds != 60 {
		t.Fatalf("poll_interval_seconds = %d, want 60", st.PollIntervalSeconds)
	}

	ts.sched.poll(context.Background())
	st = ts.sched.Status()
	if !st.LeaseHeld {
		t.Fatal("lease_held false after successful poll")
	}
	if st.LastPollAt == nil {
		t.Fatal("last_poll_at missing after poll")
	}
}
