// Package scan walks a watched root and drives every eligible file through
// the indexer pipeline under a per-document lock. A scan is recorded as one
// indexing run; per-file failures land in the run's error list and never
// abort the walk.
package scan

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docdex/internal/errdef"
	"docdex/internal/index"
	"docdex/internal/locks"
	"docdex/internal/logging"
	"docdex/internal/quarantine"
	"docdex/internal/sourcekey"
	"docdex/internal/store"
)

// ServerLockHolder is the client_id used for locks taken by server-executed
// scans, where no external client is attributed.
const ServerLockHolder = "server"

// Indexer is the pipeline surface the engine drives per file.
type Indexer interface {
	IndexDocument(ctx context.Context, req index.Request) (*index.Result, error)
}

// Locker serializes per-document access between concurrent scanners.
type Locker interface {
	Acquire(ctx context.Context, req locks.AcquireRequest) (*store.LockOutcome, error)
	Release(ctx context.Context, sourceURI, clientID string, rootID *uuid.UUID, relativePath *string) error
}

// Sweeper reconciles the index against the filesystem after a walk.
type Sweeper interface {
	SweepMissingSources(ctx context.Context, folderPath string) (*quarantine.SweepReport, error)
	MissingSources(ctx context.Context, folderPath string) (*quarantine.SweepReport, error)
}

// RunRecorder persists run lifecycle records.
type RunRecorder interface {
	StartRun(ctx context.Context, trigger string, sourceURI *string, metadata map[string]any, clientID *string) (uuid.UUID, error)
	CompleteRun(ctx context.Context, id uuid.UUID, status string, counters store.RunCounters, runErrors []store.RunError) error
}

// KeyBackfiller stamps canonical source keys onto chunks under a root.
type KeyBackfiller interface {
	BulkSetCanonicalKeys(ctx context.Context, folderPath, scope, identity string) (int64, error)
}

// Config wires the engine's collaborators.
type Config struct {
	Indexer      Indexer
	Locks        Locker
	Quarantine   Sweeper
	Runs         RunRecorder
	Keys         KeyBackfiller
	Supported    func(path string) bool
	ExcludeGlobs []string
	Logger       *slog.Logger
}

// Engine executes scans.
type Engine struct {
	indexer    Indexer
	locks      Locker
	quarantine Sweeper
	runs       RunRecorder
	keys       KeyBackfiller
	supported  func(path string) bool
	exclude    []string
	logger     *slog.Logger
}

func New(cfg Config) *Engine {
	supported := cfg.Supported
	if supported == nil {
		supported = func(string) bool { return true }
	}
	return &Engine{
		indexer:    cfg.Indexer,
		locks:      cfg.Locks,
		quarantine: cfg.Quarantine,
		runs:       cfg.Runs,
		keys:       cfg.Keys,
		supported:  supported,
		exclude:    cfg.ExcludeGlobs,
		logger:     logging.Default(cfg.Logger).With("component", "scan"),
	}
}

// Request describes one scan of one root.
type Request struct {
	FolderPath string
	// Trigger is a store.Trigger* constant; empty defaults to manual.
	Trigger string
	// ClientID attributes the scan to an external client; nil means the
	// server itself executes.
	ClientID *string
	// RootID, Scope and Identity enable the canonical-key backfill and the
	// dual-key lock identity. All come from the watched folder row.
	RootID   *uuid.UUID
	Scope    string
	Identity string
	// DryRun previews without mutating anything, the run record included.
	DryRun         bool
	ForceReindex   bool
	MaxConcurrency int
}

// Result summarizes one scan.
type Result struct {
	RunID           uuid.UUID         `json:"run_id,omitempty"`
	Status          string            `json:"status"`
	DryRun          bool              `json:"dry_run,omitempty"`
	TotalFiles      int               `json:"total_files"`
	Counters        store.RunCounters `json:"counters"`
	Errors          []store.RunError  `json:"errors,omitempty"`
	WouldIndex      []string          `json:"would_index,omitempty"`
	WouldQuarantine []string          `json:"would_quarantine,omitempty"`
	Quarantined     int               `json:"quarantined,omitempty"`
	Restored        int               `json:"restored,omitempty"`
	KeysBackfilled  int64             `json:"keys_backfilled,omitempty"`
}

// RequestForFolder derives the scan request for a watched folder row. The
// canonical identity is the executor for client roots and the root id text
// for server roots.
func RequestForFolder(f *store.WatchedFolder, trigger string) Request {
	req := Request{
		FolderPath:     f.FolderPath,
		Trigger:        trigger,
		Scope:          f.ExecutionScope,
		MaxConcurrency: f.MaxConcurrency,
	}
	rootID := f.RootID
	req.RootID = &rootID
	switch f.ExecutionScope {
	case sourcekey.ScopeClient:
		if f.ExecutorID != nil {
			req.Identity = *f.ExecutorID
			req.ClientID = f.ExecutorID
		}
	case sourcekey.ScopeServer:
		req.Identity = rootID.String()
	}
	return req
}

// Scan walks the root and indexes what it finds. Dry runs preview: no run
// row, no locks, no writes.
func (e *Engine) Scan(ctx context.Context, req Request) (*Result, error) {
	if req.FolderPath == "" {
		return nil, errdef.New(errdef.CodeInvalidArgument, "folder_path is required")
	}
	if req.Trigger == "" {
		req.Trigger = store.TriggerManual
	}
	if req.MaxConcurrency < 1 {
		req.MaxConcurrency = 1
	}

	if req.DryRun {
		return e.dryRun(ctx, req)
	}

	runID, err := e.runs.StartRun(ctx, req.Trigger, &req.FolderPath, runMetadata(req), req.ClientID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("scan started",
		"run_id", runID, "folder", req.FolderPath, "trigger", req.Trigger)

	if info, statErr := os.Stat(req.FolderPath); statErr != nil || !info.IsDir() {
		runErr := store.RunError{SourceURI: req.FolderPath, Error: "directory does not exist", Stage: "walk"}
		if cErr := e.runs.CompleteRun(ctx, runID, store.RunFailed, store.RunCounters{}, []store.RunError{runErr}); cErr != nil {
			e.logger.Error("complete run", "run_id", runID, "error", cErr)
		}
		scansTotal.WithLabelValues(store.RunFailed).Inc()
		return nil, errdef.Newf(errdef.CodePathValidationFailed,
			"folder %q is not an existing directory", req.FolderPath)
	}

	files, walkErr := e.enumerate(ctx, req.FolderPath)
	if walkErr != nil {
		runErr := store.RunError{SourceURI: req.FolderPath, Error: walkErr.Error(), Stage: "walk"}
		if cErr := e.runs.CompleteRun(ctx, runID, store.RunFailed, store.RunCounters{}, []store.RunError{runErr}); cErr != nil {
			e.logger.Error("complete run", "run_id", runID, "error", cErr)
		}
		scansTotal.WithLabelValues(store.RunFailed).Inc()
		return nil, errdef.Wrap(errdef.CodeProcessingFailed, "walk folder", walkErr)
	}

	agg := &aggregate{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.MaxConcurrency)
	for _, path := range files {
		path := path
		g.Go(func() error {
			e.indexOne(gctx, req, path, agg)
			return nil
		})
	}
	// Workers record failures in agg and never return errors.
	_ = g.Wait()

	result := &Result{
		RunID:      runID,
		TotalFiles: len(files),
		Counters:   agg.counters,
		Errors:     agg.errors,
	}

	if report, sweepErr := e.quarantine.SweepMissingSources(ctx, req.FolderPath); sweepErr != nil {
		result.Errors = append(result.Errors, store.RunError{
			SourceURI: req.FolderPath, Error: sweepErr.Error(), Stage: "quarantine",
		})
	} else {
		result.Quarantined = len(report.Quarantined)
		result.Restored = len(report.Restored)
	}

	if req.RootID != nil && req.Scope != "" && req.Identity != "" {
		n, keyErr := e.keys.BulkSetCanonicalKeys(ctx, req.FolderPath, req.Scope, req.Identity)
		if keyErr != nil {
			result.Errors = append(result.Errors, store.RunError{
				SourceURI: req.FolderPath, Error: keyErr.Error(), Stage: "canonical_keys",
			})
		} else {
			result.KeysBackfilled = n
		}
	}

	result.Status = store.RunSuccess
	if len(result.Errors) > 0 {
		result.Status = store.RunPartial
	}
	if err := e.runs.CompleteRun(ctx, runID, result.Status, result.Counters, result.Errors); err != nil {
		e.logger.Error("complete run", "run_id", runID, "error", err)
	}
	observeScan(result)

	e.logger.Info("scan completed",
		"run_id", runID,
		"status", result.Status,
		"scanned", result.Counters.Scanned,
		"added", result.Counters.Added,
		"updated", result.Counters.Updated,
		"skipped", result.Counters.Skipped,
		"failed", result.Counters.Failed)
	return result, nil
}

// dryRun enumerates and predicts without touching the database.
func (e *Engine) dryRun(ctx context.Context, req Request) (*Result, error) {
	if info, err := os.Stat(req.FolderPath); err != nil || !info.IsDir() {
		return nil, errdef.Newf(errdef.CodePathValidationFailed,
			"folder %q is not an existing directory", req.FolderPath)
	}
	files, err := e.enumerate(ctx, req.FolderPath)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeProcessingFailed, "walk folder", err)
	}

	result := &Result{
		DryRun:     true,
		Status:     store.RunSuccess,
		TotalFiles: len(files),
	}
	for _, path := range files {
		if e.supported(path) {
			result.WouldIndex = append(result.WouldIndex, path)
		}
	}
	preview, err := e.quarantine.MissingSources(ctx, req.FolderPath)
	if err != nil {
		return nil, err
	}
	result.WouldQuarantine = preview.Quarantined
	return result, nil
}

// aggregate collects per-file outcomes across workers.
type aggregate struct {
	mu       sync.Mutex
	counters store.RunCounters
	errors   []store.RunError
}

func (a *aggregate) scanned() {
	a.mu.Lock()
	a.counters.Scanned++
	a.mu.Unlock()
}

func (a *aggregate) skipped() {
	a.mu.Lock()
	a.counters.Skipped++
	a.mu.Unlock()
}

func (a *aggregate) added() {
	a.mu.Lock()
	a.counters.Added++
	a.mu.Unlock()
}

func (a *aggregate) updated() {
	a.mu.Lock()
	a.counters.Updated++
	a.mu.Unlock()
}

func (a *aggregate) failed(path string, stage string, err error) {
	a.mu.Lock()
	a.counters.Failed++
	a.errors = append(a.errors, store.RunError{SourceURI: path, Error: err.Error(), Stage: stage})
	a.mu.Unlock()
}

// indexOne locks, indexes and releases a single file, recording the outcome.
func (e *Engine) indexOne(ctx context.Context, req Request, path string, agg *aggregate) {
	agg.scanned()
	if !e.supported(path) {
		agg.skipped()
		return
	}

	holder := ServerLockHolder
	if req.ClientID != nil {
		holder = *req.ClientID
	}
	var relPath *string
	if req.RootID != nil {
		rp := sourcekey.RelativePath(req.FolderPath, path)
		relPath = &rp
	}

	outcome, err := e.locks.Acquire(ctx, locks.AcquireRequest{
		SourceURI:    path,
		ClientID:     holder,
		RootID:       req.RootID,
		RelativePath: relPath,
	})
	if err != nil {
		agg.failed(path, "lock", err)
		return
	}
	if !outcome.Acquired {
		agg.failed(path, "lock", errdef.Newf(errdef.CodeLockHeld,
			"lock held by %s", outcome.Holder.ClientID))
		return
	}
	defer func() {
		if err := e.locks.Release(ctx, path, holder, req.RootID, relPath); err != nil {
			e.logger.Warn("release lock", "source_uri", path, "error", err)
		}
	}()

	res, err := e.indexer.IndexDocument(ctx, index.Request{
		SourceURI:    path,
		ForceReindex: req.ForceReindex,
	})
	if err != nil {
		agg.failed(path, stageFor(err), err)
		return
	}
	switch {
	case res.Status == index.StatusSkipped:
		agg.skipped()
	case res.Replaced:
		agg.updated()
	default:
		agg.added()
	}
}

// enumerate lists regular files under root, honoring exclude globs. Glob
// patterns match the slash-normalized path relative to the root.
func (e *Engine) enumerate(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtree: skip it rather than failing the scan.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path != root && e.excluded(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if e.excluded(rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (e *Engine) excluded(rel string) bool {
	for _, pattern := range e.exclude {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func runMetadata(req Request) map[string]any {
	md := map[string]any{"folder_path": req.FolderPath}
	if req.Scope != "" {
		md["scope"] = req.Scope
	}
	if req.ForceReindex {
		md["force_reindex"] = true
	}
	return md
}

// stageFor buckets a per-file error into the pipeline stage it came from.
func stageFor(err error) string {
	switch errdef.CodeOf(err) {
	case errdef.CodeUnsupportedFmt, errdef.CodeProcessingFailed, errdef.CodeEncryptedPDF:
		return "process"
	case errdef.CodeDBQuery, errdef.CodeDBConnection:
		return "store"
	default:
		return "index"
	}
}
