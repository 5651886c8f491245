// Package registry manages watched folders: the configuration rows that tell
// the scheduler and scan engine which directories to keep indexed.
//
// The registry owns the execution-scope invariant: a client-scope root always
// names its executor, a server-scope root never does. Paths are stored twice,
// raw and normalized; the normalized form carries the per-scope uniqueness
// constraints. Scope moves never happen through plain updates, only through
// TransitionScope, which checks the target scope for path conflicts
// atomically.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/sourcekey"
	"docdex/internal/store"
)

// Store is the persistence surface the registry needs.
type Store interface {
	UpsertFolder(ctx context.Context, f store.WatchedFolder) (*store.WatchedFolder, error)
	UpdateFolder(ctx context.Context, id uuid.UUID, patch store.FolderPatch) (*store.WatchedFolder, error)
	TransitionFolderScope(ctx context.Context, id uuid.UUID, targetScope string, executorID *string) (*store.WatchedFolder, error)
	GetFolder(ctx context.Context, id uuid.UUID) (*store.WatchedFolder, error)
	GetFolderByRootID(ctx context.Context, rootID uuid.UUID) (*store.WatchedFolder, error)
	ListFolders(ctx context.Context, opts store.ListFoldersOptions) ([]store.WatchedFolder, error)
	DeleteFolder(ctx context.Context, id uuid.UUID) error
	MarkFolderScanned(ctx context.Context, id uuid.UUID, runID *uuid.UUID) error
	UpdateScanWatermarks(ctx context.Context, id uuid.UUID, event store.WatermarkEvent) error
}

// DefaultScheduleCron is applied when a folder is added without a schedule:
// every six hours.
const DefaultScheduleCron = "0 */6 * * *"

// Service validates and persists watched folder configuration.
type Service struct {
	store  Store
	logger *slog.Logger

	// dirExists is swapped by tests; production uses the real filesystem.
	dirExists func(path string) bool
}

// New builds the registry service.
func New(st Store, logger *slog.Logger) *Service {
	return &Service{
		store:     st,
		logger:    logging.Default(logger).With("component", "registry"),
		dirExists: dirExists,
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// AddRequest carries the fields of a new watched folder. Zero values get
// defaults: enabled=true unless Disabled is set, max concurrency 1, the
// six-hour schedule.
type AddRequest struct {
	FolderPath   string
	ScheduleCron string
	Scope        string
	ExecutorID   *string
	Disabled     bool
	Paused       bool
	// MaxConcurrency caps parallel file work within one scan of this root.
	MaxConcurrency int
	Metadata       map[string]any
}

// AddFolder validates and upserts a watched folder. Re-adding a path already
// watched in the same scope updates that row instead of failing.
func (s *Service) AddFolder(ctx context.Context, req AddRequest) (*store.WatchedFolder, error) {
	if req.FolderPath == "" {
		return nil, errdef.New(errdef.CodePathValidationFailed, "folder path required")
	}
	executorID, err := checkScopePair(req.Scope, req.ExecutorID)
	if err != nil {
		return nil, err
	}
	if req.Scope == sourcekey.ScopeServer && !s.dirExists(req.FolderPath) {
		return nil, errdef.Newf(errdef.CodePathValidationFailed,
			"server-scope path %q is not an existing directory", req.FolderPath)
	}

	cron := req.ScheduleCron
	if cron == "" {
		cron = DefaultScheduleCron
	}
	if err := ValidateCron(cron); err != nil {
		return nil, err
	}

	maxConcurrency := req.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	folder, err := s.store.UpsertFolder(ctx, store.WatchedFolder{
		FolderPath:           req.FolderPath,
		NormalizedFolderPath: sourcekey.NormalizePath(req.FolderPath),
		ExecutionScope:       req.Scope,
		ExecutorID:           executorID,
		ScheduleCron:         cron,
		Enabled:              !req.Disabled,
		Paused:               req.Paused,
		MaxConcurrency:       maxConcurrency,
		Metadata:             req.Metadata,
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.logger.Info("watched folder added",
		"id", folder.ID, "path", folder.FolderPath, "scope", folder.ExecutionScope)
	return folder, nil
}

// UpdatePatch is a partial folder update. A scope or executor change is
// rejected here; use TransitionScope.
type UpdatePatch struct {
	FolderPath     *string
	ScheduleCron   *string
	Enabled        *bool
	Paused         *bool
	MaxConcurrency *int
	Metadata       map[string]any
	// Scope is never updatable; a non-nil value makes the patch fail with
	// SCOPE_CHANGE_FORBIDDEN so callers learn about TransitionScope.
	Scope *string
}

// UpdateFolder applies a partial update.
func (s *Service) UpdateFolder(ctx context.Context, id uuid.UUID, patch UpdatePatch) (*store.WatchedFolder, error) {
	if patch.Scope != nil {
		return nil, errdef.ErrScopeChangeForbidden
	}
	if patch.ScheduleCron != nil {
		if err := ValidateCron(*patch.ScheduleCron); err != nil {
			return nil, err
		}
	}
	if patch.MaxConcurrency != nil && *patch.MaxConcurrency < 1 {
		one := 1
		patch.MaxConcurrency = &one
	}

	sp := store.FolderPatch{
		FolderPath:     patch.FolderPath,
		ScheduleCron:   patch.ScheduleCron,
		Enabled:        patch.Enabled,
		Paused:         patch.Paused,
		MaxConcurrency: patch.MaxConcurrency,
		Metadata:       patch.Metadata,
	}
	if patch.FolderPath != nil {
		sp.NormalizedFolderPath = sourcekey.NormalizePath(*patch.FolderPath)
	}

	folder, err := s.store.UpdateFolder(ctx, id, sp)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return folder, nil
}

// TransitionScope moves a folder between execution scopes. Moving to client
// scope requires the new executor; moving to server scope drops the executor
// and requires the path to exist on this host, since the server will be the
// one walking it from now on.
func (s *Service) TransitionScope(ctx context.Context, id uuid.UUID, targetScope string, executorID *string) (*store.WatchedFolder, error) {
	executorID, err := checkScopePair(targetScope, executorID)
	if err != nil {
		return nil, err
	}

	if targetScope == sourcekey.ScopeServer {
		current, err := s.store.GetFolder(ctx, id)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if !s.dirExists(current.FolderPath) {
			return nil, errdef.Newf(errdef.CodePathValidationFailed,
				"cannot adopt %q as server scope: not an existing directory on this host", current.FolderPath)
		}
	}

	folder, err := s.store.TransitionFolderScope(ctx, id, targetScope, executorID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	s.logger.Info("watched folder scope transitioned",
		"id", folder.ID, "scope", folder.ExecutionScope)
	return folder, nil
}

// GetFolder fetches one folder by ID.
func (s *Service) GetFolder(ctx context.Context, id uuid.UUID) (*store.WatchedFolder, error) {
	folder, err := s.store.GetFolder(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return folder, nil
}

// GetFolderByRootID fetches one folder by its globally unique root ID.
func (s *Service) GetFolderByRootID(ctx context.Context, rootID uuid.UUID) (*store.WatchedFolder, error) {
	folder, err := s.store.GetFolderByRootID(ctx, rootID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return folder, nil
}

// ListFolders returns folders matching the options.
func (s *Service) ListFolders(ctx context.Context, opts store.ListFoldersOptions) ([]store.WatchedFolder, error) {
	return s.store.ListFolders(ctx, opts)
}

// RemoveFolder deletes a watched folder. Indexed chunks survive removal;
// they just stop being rescanned.
func (s *Service) RemoveFolder(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteFolder(ctx, id); err != nil {
		return mapStoreErr(err)
	}
	s.logger.Info("watched folder removed", "id", id)
	return nil
}

// MarkScanned stamps the scheduler's poll watermark.
func (s *Service) MarkScanned(ctx context.Context, id uuid.UUID, runID *uuid.UUID) error {
	return mapStoreErr(s.store.MarkFolderScanned(ctx, id, runID))
}

// RecordScanStarted stamps the start-of-scan watermark.
func (s *Service) RecordScanStarted(ctx context.Context, id uuid.UUID) error {
	return mapStoreErr(s.store.UpdateScanWatermarks(ctx, id, store.WatermarkStarted))
}

// RecordScanCompleted stamps the end-of-scan watermark. Success clears the
// failure streak; failure stamps the error time and increments it.
func (s *Service) RecordScanCompleted(ctx context.Context, id uuid.UUID, success bool) error {
	event := store.WatermarkSuccess
	if !success {
		event = store.WatermarkError
	}
	return mapStoreErr(s.store.UpdateScanWatermarks(ctx, id, event))
}

// ResetFailures clears a folder's consecutive failure counter, letting the
// scheduler pick it up again before the backoff window lapses.
func (s *Service) ResetFailures(ctx context.Context, id uuid.UUID) error {
	return mapStoreErr(s.store.UpdateScanWatermarks(ctx, id, store.WatermarkReset))
}

// ValidateCron checks a 5-field cron expression.
func ValidateCron(expr string) error {
	cr := gocron.NewDefaultCron(false)
	if err := cr.IsValid(expr, time.UTC, time.Now()); err != nil {
		return errdef.Wrap(errdef.CodeInvalidArgument, fmt.Sprintf("invalid cron expression %q", expr), err)
	}
	return nil
}

// checkScopePair enforces the scope/executor invariant and returns the
// executor to store: the given one for client scope, nil for server scope.
func checkScopePair(scope string, executorID *string) (*string, error) {
	switch scope {
	case sourcekey.ScopeClient:
		if executorID == nil || *executorID == "" {
			return nil, errdef.New(errdef.CodeInvalidScope, "client scope requires executor_id")
		}
		return executorID, nil
	case sourcekey.ScopeServer:
		return nil, nil
	default:
		return nil, errdef.Newf(errdef.CodeInvalidScope, "unknown execution scope %q", scope)
	}
}

// mapStoreErr converts store sentinels into registry domain errors.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return errdef.Wrap(errdef.CodeDocumentNotFound, "watched folder not found", err)
	case errors.Is(err, store.ErrConflict):
		return errdef.Wrap(errdef.CodeConflict, "a folder with this path already exists in the target scope", err)
	default:
		return err
	}
}
