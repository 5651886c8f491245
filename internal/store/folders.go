package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const folderColumns = `id, folder_path, normalized_folder_path, execution_scope,
	executor_id, root_id, schedule_cron, enabled, paused, max_concurrency,
	consecutive_failures, last_scan_started_at, last_scan_completed_at,
	last_successful_scan_at, last_error_at, last_scanned_at, last_run_id,
	metadata, created_at, updated_at`

func scanFolder(row pgx.Row) (*WatchedFolder, error) {
	var (
		f        WatchedFolder
		metadata []byte
	)
	err := row.Scan(&f.ID, &f.FolderPath, &f.NormalizedFolderPath, &f.ExecutionScope,
		&f.ExecutorID, &f.RootID, &f.ScheduleCron, &f.Enabled, &f.Paused,
		&f.MaxConcurrency, &f.ConsecutiveFailures, &f.LastScanStartedAt,
		&f.LastScanCompletedAt, &f.LastSuccessfulScanAt, &f.LastErrorAt,
		&f.LastScannedAt, &f.LastRunID, &metadata, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan watched folder: %w", err)
	}
	f.Metadata, err = unmarshalMap(metadata)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFolder inserts a watched folder, or updates the existing row that
// shares its normalized path within the same scope. The caller is expected
// to have validated the scope/executor pairing and normalized the path.
func (s *Store) UpsertFolder(ctx context.Context, f WatchedFolder) (*WatchedFolder, error) {
	metadata, err := marshalJSON(f.Metadata, "{}")
	if err != nil {
		return nil, err
	}

	conflictTarget := `(normalized_folder_path) WHERE execution_scope = 'server'`
	if f.ExecutionScope == "client" {
		conflictTarget = `(executor_id, normalized_folder_path) WHERE execution_scope = 'client'`
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO watched_folders
			(folder_path, normalized_folder_path, execution_scope, executor_id,
			 schedule_cron, enabled, paused, max_concurrency, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT %s DO UPDATE SET
			folder_path = EXCLUDED.folder_path,
			schedule_cron = EXCLUDED.schedule_cron,
			enabled = EXCLUDED.enabled,
			paused = EXCLUDED.paused,
			max_concurrency = EXCLUDED.max_concurrency,
			metadata = EXCLUDED.metadata
		RETURNING `+folderColumns, conflictTarget),
		f.FolderPath, f.NormalizedFolderPath, f.ExecutionScope, f.ExecutorID,
		f.ScheduleCron, f.Enabled, f.Paused, f.MaxConcurrency, metadata)

	folder, err := scanFolder(row)
	if err != nil {
		if isUnique(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return folder, nil
}

// UpdateFolder applies a partial update. Scope and executor are deliberately
// not updatable here; scope moves go through TransitionFolderScope.
func (s *Store) UpdateFolder(ctx context.Context, id uuid.UUID, patch FolderPatch) (*WatchedFolder, error) {
	set := []string{}
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.FolderPath != nil {
		add("folder_path", *patch.FolderPath)
		add("normalized_folder_path", patch.NormalizedFolderPath)
	}
	if patch.ScheduleCron != nil {
		add("schedule_cron", *patch.ScheduleCron)
	}
	if patch.Enabled != nil {
		add("enabled", *patch.Enabled)
	}
	if patch.Paused != nil {
		add("paused", *patch.Paused)
	}
	if patch.MaxConcurrency != nil {
		add("max_concurrency", *patch.MaxConcurrency)
	}
	if patch.Metadata != nil {
		metadata, err := marshalJSON(patch.Metadata, "{}")
		if err != nil {
			return nil, err
		}
		add("metadata", metadata)
	}
	if len(set) == 0 {
		return s.GetFolder(ctx, id)
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE watched_folders SET %s
		WHERE id = $1
		RETURNING `+folderColumns, strings.Join(set, ", ")), args...)

	folder, err := scanFolder(row)
	if err != nil {
		if isUnique(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return folder, nil
}

// TransitionFolderScope atomically moves a folder between scopes. The
// conflict check against the target scope's path uniqueness and the update
// happen in one transaction, so two opposing transitions cannot interleave.
func (s *Store) TransitionFolderScope(ctx context.Context, id uuid.UUID, targetScope string, executorID *string) (*WatchedFolder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin scope transition: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanFolder(tx.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM watched_folders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	var conflictQuery string
	var conflictArgs []any
	if targetScope == "client" {
		conflictQuery = `
			SELECT EXISTS (
				SELECT 1 FROM watched_folders
				WHERE execution_scope = 'client'
				  AND executor_id = $1
				  AND normalized_folder_path = $2
				  AND id <> $3)`
		conflictArgs = []any{executorID, current.NormalizedFolderPath, id}
	} else {
		conflictQuery = `
			SELECT EXISTS (
				SELECT 1 FROM watched_folders
				WHERE execution_scope = 'server'
				  AND normalized_folder_path = $1
				  AND id <> $2)`
		conflictArgs = []any{current.NormalizedFolderPath, id}
	}

	var exists bool
	if err := tx.QueryRow(ctx, conflictQuery, conflictArgs...).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check transition conflict: %w", err)
	}
	if exists {
		return nil, ErrConflict
	}

	row := tx.QueryRow(ctx, `
		UPDATE watched_folders
		SET execution_scope = $2, executor_id = $3
		WHERE id = $1
		RETURNING `+folderColumns, id, targetScope, executorID)
	folder, err := scanFolder(row)
	if err != nil {
		if isUnique(err) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit scope transition: %w", err)
	}
	return folder, nil
}

// GetFolder fetches one watched folder by primary key.
func (s *Store) GetFolder(ctx context.Context, id uuid.UUID) (*WatchedFolder, error) {
	return scanFolder(s.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM watched_folders WHERE id = $1`, id))
}

// GetFolderByRootID fetches one watched folder by its globally unique root ID.
func (s *Store) GetFolderByRootID(ctx context.Context, rootID uuid.UUID) (*WatchedFolder, error) {
	return scanFolder(s.pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM watched_folders WHERE root_id = $1`, rootID))
}

// ListFolders returns watched folders matching the options, oldest first.
func (s *Store) ListFolders(ctx context.Context, opts ListFoldersOptions) ([]WatchedFolder, error) {
	where := []string{"TRUE"}
	var args []any
	if opts.EnabledOnly {
		where = append(where, "enabled")
	}
	if opts.Scope != "" {
		args = append(args, opts.Scope)
		where = append(where, fmt.Sprintf("execution_scope = $%d", len(args)))
	}
	if opts.ExecutorID != "" {
		args = append(args, opts.ExecutorID)
		where = append(where, fmt.Sprintf("executor_id = $%d", len(args)))
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+folderColumns+`
		FROM watched_folders
		WHERE %s
		ORDER BY created_at`, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("list watched folders: %w", err)
	}
	defer rows.Close()

	var folders []WatchedFolder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watched folders: %w", err)
	}
	return folders, nil
}

// DeleteFolder removes a watched folder.
func (s *Store) DeleteFolder(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watched_folders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete watched folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFolderScanned stamps the poll watermark the scheduler reads to decide
// when the root is next due.
func (s *Store) MarkFolderScanned(ctx context.Context, id uuid.UUID, runID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE watched_folders
		SET last_scanned_at = now(), last_run_id = $2
		WHERE id = $1`, id, runID)
	if err != nil {
		return fmt.Errorf("mark folder scanned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateScanWatermarks applies one scan lifecycle event atomically:
// started stamps the start time; success stamps completion and clears the
// failure streak; error stamps the failure and increments the streak; reset
// only clears the streak.
func (s *Store) UpdateScanWatermarks(ctx context.Context, id uuid.UUID, event WatermarkEvent) error {
	var query string
	switch event {
	case WatermarkStarted:
		query = `UPDATE watched_folders SET last_scan_started_at = now() WHERE id = $1`
	case WatermarkSuccess:
		query = `UPDATE watched_folders
			SET last_scan_completed_at = now(),
			    last_successful_scan_at = now(),
			    consecutive_failures = 0
			WHERE id = $1`
	case WatermarkError:
		query = `UPDATE watched_folders
			SET last_scan_completed_at = now(),
			    last_error_at = now(),
			    consecutive_failures = consecutive_failures + 1
			WHERE id = $1`
	case WatermarkReset:
		query = `UPDATE watched_folders SET consecutive_failures = 0 WHERE id = $1`
	default:
		return fmt.Errorf("unknown watermark event %q", event)
	}

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("update scan watermarks: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
