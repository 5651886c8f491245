// Package scheduler drives periodic scans of server-scope roots. Exactly one
// replica runs scans at a time: the loop is gated on a Postgres advisory-lock
// lease, so standby replicas poll but stand down until the lease frees up.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/registry"
	"docdex/internal/scan"
	"docdex/internal/sourcekey"
	"docdex/internal/store"
)

const (
	// LeaseName is hashed into the advisory-lock key shared by all replicas.
	LeaseName = "docdex.server-scheduler"

	pollJobName         = "scheduler:poll"
	housekeepingJobName = "scheduler:housekeeping"

	// failureSkipThreshold is the consecutive-failure streak that puts a
	// root into backoff.
	failureSkipThreshold = 5

	housekeepingInterval = 24 * time.Hour
)

// Lease is the slice of store.Lease the scheduler needs.
type Lease interface {
	Held(ctx context.Context) bool
	Release(ctx context.Context)
}

// Leaser attempts to take the singleton lease. A nil Lease with nil error
// means another replica holds it.
type Leaser interface {
	TryAcquireLease(ctx context.Context) (Lease, error)
}

// StoreLeaser adapts the store's advisory-lock lease to Leaser.
type StoreLeaser struct {
	Store *store.Store
	Key   int64
}

func (s StoreLeaser) TryAcquireLease(ctx context.Context) (Lease, error) {
	lease, err := s.Store.TryAcquireLease(ctx, s.Key)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, nil
	}
	return lease, nil
}

// Registry is the root-registry surface the scheduler needs.
type Registry interface {
	ListFolders(ctx context.Context, opts store.ListFoldersOptions) ([]store.WatchedFolder, error)
	GetFolderByRootID(ctx context.Context, rootID uuid.UUID) (*store.WatchedFolder, error)
	UpdateFolder(ctx context.Context, id uuid.UUID, patch registry.UpdatePatch) (*store.WatchedFolder, error)
	MarkScanned(ctx context.Context, id uuid.UUID, runID *uuid.UUID) error
	RecordScanStarted(ctx context.Context, id uuid.UUID) error
	RecordScanCompleted(ctx context.Context, id uuid.UUID, success bool) error
	ResetFailures(ctx context.Context, id uuid.UUID) error
}

// Scanner executes one scan of one root.
type Scanner interface {
	Scan(ctx context.Context, req scan.Request) (*scan.Result, error)
}

// Purger is the quarantine surface used by housekeeping.
type Purger interface {
	PurgeExpired(ctx context.Context, overrideDays int) (int64, error)
}

// Reaper fails runs abandoned by dead workers.
type Reaper interface {
	ReapStaleRuns(ctx context.Context) (int64, error)
}

// Janitor clears expired document locks.
type Janitor interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Config wires the scheduler's collaborators.
type Config struct {
	Enabled        bool
	PollInterval   time.Duration
	FailureBackoff time.Duration

	Leaser     Leaser
	Registry   Registry
	Scanner    Scanner
	Quarantine Purger
	Audit      Reaper
	Locks      Janitor

	// Ready gates polling until startup initialization finished. Nil means
	// always ready.
	Ready  func() bool
	Logger *slog.Logger
}

// Status is the live state reported to the admin API.
type Status struct {
	Enabled             bool       `json:"enabled"`
	Running             bool       `json:"running"`
	LeaseHeld           bool       `json:"lease_held"`
	LastPollAt          *time.Time `json:"last_poll_at,omitempty"`
	ActiveScans         int        `json:"active_scans"`
	PollIntervalSeconds int        `json:"poll_interval_seconds"`
}

// Scheduler owns the poll and housekeeping loops.
type Scheduler struct {
	enabled        bool
	pollInterval   time.Duration
	failureBackoff time.Duration

	leaser     Leaser
	registry   Registry
	scanner    Scanner
	quarantine Purger
	audit      Reaper
	locks      Janitor
	ready      func() bool
	logger     *slog.Logger

	sched   gocron.Scheduler
	flights flightGroup[uuid.UUID]
	running atomic.Bool

	mu       sync.Mutex
	lease    Lease
	lastPoll time.Time

	now func() time.Time
}

func New(cfg Config) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeServiceInitFailed, "create scheduler", err)
	}
	ready := cfg.Ready
	if ready == nil {
		ready = func() bool { return true }
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = time.Hour
	}
	return &Scheduler{
		enabled:        cfg.Enabled,
		pollInterval:   cfg.PollInterval,
		failureBackoff: cfg.FailureBackoff,
		leaser:         cfg.Leaser,
		registry:       cfg.Registry,
		scanner:        cfg.Scanner,
		quarantine:     cfg.Quarantine,
		audit:          cfg.Audit,
		locks:          cfg.Locks,
		ready:          ready,
		logger:         logging.Default(cfg.Logger).With("component", "scheduler"),
		sched:          sched,
		now:            time.Now,
	}, nil
}

// Start registers the poll and housekeeping jobs and begins executing them.
// Disabled schedulers return immediately; all admin ops then report the
// disabled state instead of mutating anything.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.enabled {
		s.logger.Info("scheduler disabled")
		return nil
	}

	_, err := s.sched.NewJob(
		gocron.DurationJob(s.pollInterval),
		gocron.NewTask(func() { s.poll(ctx) }),
		gocron.WithName(pollJobName),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errdef.Wrap(errdef.CodeServiceInitFailed, "register poll job", err)
	}
	_, err = s.sched.NewJob(
		gocron.DurationJob(housekeepingInterval),
		gocron.NewTask(func() { s.housekeeping(ctx) }),
		gocron.WithName(housekeepingJobName),
	)
	if err != nil {
		return errdef.Wrap(errdef.CodeServiceInitFailed, "register housekeeping job", err)
	}

	s.sched.Start()
	s.running.Store(true)
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval)
	return nil
}

// Stop shuts the loops down and releases the lease.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.running.Swap(false) {
		return nil
	}
	err := s.sched.Shutdown()

	s.mu.Lock()
	lease := s.lease
	s.lease = nil
	s.mu.Unlock()
	if lease != nil {
		lease.Release(ctx)
	}
	s.logger.Info("scheduler stopped")
	return err
}

// poll is one scheduler tick: ensure the lease, list server roots, start a
// scan for each due root that is not already scanning.
func (s *Scheduler) poll(ctx context.Context) {
	if !s.ready() {
		s.logger.Debug("scheduler waiting for readiness")
		return
	}
	if !s.ensureLease(ctx) {
		return
	}

	now := s.now()
	s.mu.Lock()
	s.lastPoll = now
	s.mu.Unlock()

	folders, err := s.registry.ListFolders(ctx, store.ListFoldersOptions{
		Scope:       sourcekey.ScopeServer,
		EnabledOnly: true,
	})
	if err != nil {
		s.logger.Error("list server roots", "error", err)
		return
	}

	for _, folder := range folders {
		folder := folder
		if !s.due(&folder, now) {
			continue
		}
		go func() {
			if !s.flights.TryDo(folder.ID, func() {
				_, _ = s.executeScan(ctx, &folder, store.TriggerScheduled)
			}) {
				s.logger.Debug("scan already running", "root_id", folder.RootID)
			}
		}()
	}
}

// ensureLease reports whether this replica holds the singleton lease,
// acquiring or re-acquiring it as needed.
func (s *Scheduler) ensureLease(ctx context.Context) bool {
	s.mu.Lock()
	lease := s.lease
	s.mu.Unlock()

	if lease != nil && lease.Held(ctx) {
		return true
	}
	if lease != nil {
		// Connection died; the lock is already gone on the server side.
		lease.Release(ctx)
	}

	fresh, err := s.leaser.TryAcquireLease(ctx)
	if err != nil {
		s.logger.Error("acquire scheduler lease", "error", err)
		return false
	}
	s.mu.Lock()
	s.lease = fresh
	s.mu.Unlock()

	if fresh == nil {
		s.logger.Debug("scheduler lease held by another replica")
		return false
	}
	s.logger.Info("scheduler lease acquired")
	return true
}

// due decides whether a root should be scanned on this tick.
func (s *Scheduler) due(f *store.WatchedFolder, now time.Time) bool {
	if f.Paused {
		return false
	}
	if f.ConsecutiveFailures >= failureSkipThreshold &&
		f.LastErrorAt != nil && now.Sub(*f.LastErrorAt) < s.failureBackoff {
		return false
	}
	if f.LastScannedAt == nil {
		return true
	}
	interval := time.Duration(CronToSeconds(f.ScheduleCron)) * time.Second
	return now.Sub(*f.LastScannedAt) >= interval
}

// executeScan runs one scan with watermark bookkeeping. Panics inside the
// engine become errors and error watermarks, never a dead loop.
func (s *Scheduler) executeScan(ctx context.Context, folder *store.WatchedFolder, trigger string) (result *scan.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errdef.Newf(errdef.CodeInternal, "scan panicked: %v", r)
			s.logger.Error("scan panicked", "root_id", folder.RootID, "panic", r)
			if wErr := s.registry.RecordScanCompleted(ctx, folder.ID, false); wErr != nil {
				s.logger.Error("record scan watermark", "root_id", folder.RootID, "error", wErr)
			}
		}
	}()

	if wErr := s.registry.RecordScanStarted(ctx, folder.ID); wErr != nil {
		s.logger.Warn("record scan start", "root_id", folder.RootID, "error", wErr)
	}

	result, err = s.scanner.Scan(ctx, scan.RequestForFolder(folder, trigger))
	success := err == nil && result != nil && result.Status != store.RunFailed
	if wErr := s.registry.RecordScanCompleted(ctx, folder.ID, success); wErr != nil {
		s.logger.Warn("record scan watermark", "root_id", folder.RootID, "error", wErr)
	}
	if err != nil {
		s.logger.Error("scheduled scan failed", "root_id", folder.RootID, "error", err)
		return nil, err
	}

	var runID *uuid.UUID
	if result.RunID != uuid.Nil {
		rid := result.RunID
		runID = &rid
	}
	if mErr := s.registry.MarkScanned(ctx, folder.ID, runID); mErr != nil {
		s.logger.Warn("mark folder scanned", "root_id", folder.RootID, "error", mErr)
	}
	return result, nil
}

// housekeeping purges expired quarantine, reaps stale runs and clears
// expired locks. Only the lease holder runs it; each step is independent.
func (s *Scheduler) housekeeping(ctx context.Context) {
	s.mu.Lock()
	lease := s.lease
	s.mu.Unlock()
	if lease == nil || !lease.Held(ctx) {
		return
	}

	if _, err := s.quarantine.PurgeExpired(ctx, 0); err != nil {
		s.logger.Error("housekeeping: purge quarantine", "error", err)
	}
	if _, err := s.audit.ReapStaleRuns(ctx); err != nil {
		s.logger.Error("housekeeping: reap stale runs", "error", err)
	}
	if _, err := s.locks.CleanupExpired(ctx); err != nil {
		s.logger.Error("housekeeping: cleanup locks", "error", err)
	}
}

// Pause stops scheduling the root until resumed. Takes effect on the next
// poll; a scan already in flight finishes.
func (s *Scheduler) Pause(ctx context.Context, rootID uuid.UUID) (*store.WatchedFolder, error) {
	folder, err := s.registry.GetFolderByRootID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	paused := true
	return s.registry.UpdateFolder(ctx, folder.ID, registry.UpdatePatch{Paused: &paused})
}

// Resume re-enables scheduling and clears the failure streak so the root is
// not still stuck in backoff.
func (s *Scheduler) Resume(ctx context.Context, rootID uuid.UUID) (*store.WatchedFolder, error) {
	folder, err := s.registry.GetFolderByRootID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	paused := false
	updated, err := s.registry.UpdateFolder(ctx, folder.ID, registry.UpdatePatch{Paused: &paused})
	if err != nil {
		return nil, err
	}
	if err := s.registry.ResetFailures(ctx, folder.ID); err != nil {
		return nil, err
	}
	return updated, nil
}

// ScanNow runs a scan for the root synchronously, outside its schedule.
// Only server-scope roots are eligible; a root already scanning conflicts.
func (s *Scheduler) ScanNow(ctx context.Context, rootID uuid.UUID) (*scan.Result, error) {
	folder, err := s.registry.GetFolderByRootID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if folder.ExecutionScope != sourcekey.ScopeServer {
		return nil, errdef.ErrNotServerScope
	}

	var (
		result  *scan.Result
		scanErr error
	)
	ran := s.flights.TryDo(folder.ID, func() {
		result, scanErr = s.executeScan(ctx, folder, store.TriggerManual)
	})
	if !ran {
		return nil, errdef.New(errdef.CodeConflict, "scan already running for this root")
	}
	return result, scanErr
}

// Status reports the live scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	lastPoll := s.lastPoll
	leaseHeld := s.lease != nil
	s.mu.Unlock()

	st := Status{
		Enabled:             s.enabled,
		Running:             s.running.Load(),
		LeaseHeld:           leaseHeld,
		ActiveScans:         s.flights.Active(),
		PollIntervalSeconds: int(s.pollInterval / time.Second),
	}
	if !lastPoll.IsZero() {
		st.LastPollAt = &lastPoll
	}
	return st
}
