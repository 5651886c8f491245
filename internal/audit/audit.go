// Package audit records indexing runs and the append-only activity log.
// Every scan, upload or admin mutation leaves a run row and/or an activity
// entry so operators can reconstruct what touched the index and when.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/store"
)

// StaleRunAge is how long a run may sit in `running` before the reaper
// declares its worker dead and fails it.
const StaleRunAge = 24 * time.Hour

// Store is the persistence surface the recorder needs.
type Store interface {
	InsertRun(ctx context.Context, trigger string, sourceURI *string, metadata map[string]any, clientID *string) (uuid.UUID, error)
	CompleteRun(ctx context.Context, id uuid.UUID, status string, counters store.RunCounters, runErrors []store.RunError) error
	GetRun(ctx context.Context, id uuid.UUID) (*store.IndexingRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]store.IndexingRun, int, error)
	SummarizeRuns(ctx context.Context) (*store.RunSummary, error)
	DeleteTerminalRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	FailStaleRuns(ctx context.Context, cutoff time.Time) (int64, error)
	AppendActivity(ctx context.Context, e store.ActivityEntry) error
	ListActivity(ctx context.Context, f store.ActivityFilter) ([]store.ActivityEntry, int, error)
	DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder writes and reads runs and activity entries.
type Recorder struct {
	store  Store
	logger *slog.Logger

	now func() time.Time
}

func New(st Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  st,
		logger: logging.Default(logger).With("component", "audit"),
		now:    time.Now,
	}
}

func validTrigger(trigger string) bool {
	switch trigger {
	case store.TriggerManual, store.TriggerUpload, store.TriggerCLI, store.TriggerScheduled, store.TriggerAPI:
		return true
	}
	return false
}

func terminalStatus(status string) bool {
	switch status {
	case store.RunSuccess, store.RunPartial, store.RunFailed:
		return true
	}
	return false
}

// StartRun opens a run in `running` state and returns its id.
func (r *Recorder) StartRun(ctx context.Context, trigger string, sourceURI *string, metadata map[string]any, clientID *string) (uuid.UUID, error) {
	if !validTrigger(trigger) {
		return uuid.Nil, errdef.Newf(errdef.CodeInvalidArgument, "unknown run trigger %q", trigger)
	}
	id, err := r.store.InsertRun(ctx, trigger, sourceURI, metadata, clientID)
	if err != nil {
		return uuid.Nil, errdef.Wrap(errdef.CodeDBQuery, "start run", err)
	}
	r.logger.Debug("run started", "run_id", id, "trigger", trigger)
	return id, nil
}

// CompleteRun moves a run to a terminal state with its counters and
// per-file errors.
func (r *Recorder) CompleteRun(ctx context.Context, id uuid.UUID, status string, counters store.RunCounters, runErrors []store.RunError) error {
	if !terminalStatus(status) {
		return errdef.Newf(errdef.CodeInvalidArgument, "non-terminal run status %q", status)
	}
	if err := r.store.CompleteRun(ctx, id, status, counters, runErrors); err != nil {
		return errdef.Wrap(errdef.CodeDBQuery, "complete run", err)
	}
	r.logger.Info("run completed",
		"run_id", id,
		"status", status,
		"scanned", counters.Scanned,
		"added", counters.Added,
		"updated", counters.Updated,
		"skipped", counters.Skipped,
		"failed", counters.Failed)
	return nil
}

// GetRun returns one run by id.
func (r *Recorder) GetRun(ctx context.Context, id uuid.UUID) (*store.IndexingRun, error) {
	run, err := r.store.GetRun(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, errdef.New(errdef.CodeDocumentNotFound, "indexing run not found")
		}
		return nil, errdef.Wrap(errdef.CodeDBQuery, "get run", err)
	}
	return run, nil
}

// ListRuns pages runs most recent first.
func (r *Recorder) ListRuns(ctx context.Context, limit, offset int) ([]store.IndexingRun, int, error) {
	runs, total, err := r.store.ListRuns(ctx, limit, offset)
	if err != nil {
		return nil, 0, errdef.Wrap(errdef.CodeDBQuery, "list runs", err)
	}
	return runs, total, nil
}

// Summary aggregates run history.
func (r *Recorder) Summary(ctx context.Context) (*store.RunSummary, error) {
	summary, err := r.store.SummarizeRuns(ctx)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "summarize runs", err)
	}
	return summary, nil
}

// Log appends one activity entry. Append failures are returned, never
// retried; the action itself already happened.
func (r *Recorder) Log(ctx context.Context, e store.ActivityEntry) error {
	if e.Action == "" {
		return errdef.New(errdef.CodeInvalidArgument, "activity action is required")
	}
	if err := r.store.AppendActivity(ctx, e); err != nil {
		return errdef.Wrap(errdef.CodeDBQuery, "append activity", err)
	}
	return nil
}

// ListActivity pages log entries most recent first.
func (r *Recorder) ListActivity(ctx context.Context, f store.ActivityFilter) ([]store.ActivityEntry, int, error) {
	entries, total, err := r.store.ListActivity(ctx, f)
	if err != nil {
		return nil, 0, errdef.Wrap(errdef.CodeDBQuery, "list activity", err)
	}
	return entries, total, nil
}

// ApplyActivityRetention hard-deletes entries older than the window.
func (r *Recorder) ApplyActivityRetention(ctx context.Context, days int) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -days)
	n, err := r.store.DeleteActivityBefore(ctx, cutoff)
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeDBQuery, "activity retention", err)
	}
	return n, nil
}

// ApplyRunsRetention hard-deletes terminal runs older than the window. Runs
// still in `running` state are never touched.
func (r *Recorder) ApplyRunsRetention(ctx context.Context, days int) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -days)
	n, err := r.store.DeleteTerminalRunsBefore(ctx, cutoff)
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeDBQuery, "runs retention", err)
	}
	return n, nil
}

// ReapStaleRuns fails runs stuck in `running` longer than StaleRunAge.
// Crashed workers leave such rows behind; without the reaper they would
// pin the root's failure accounting forever.
func (r *Recorder) ReapStaleRuns(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-StaleRunAge)
	n, err := r.store.FailStaleRuns(ctx, cutoff)
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeDBQuery, "reap stale runs", err)
	}
	if n > 0 {
		r.logger.Warn("stale runs failed", "count", n, "older_than", StaleRunAge)
	}
	return n, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
