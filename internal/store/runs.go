package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const runColumns = `id, trigger, source_uri, started_at, completed_at, status,
	files_scanned, files_added, files_updated, files_skipped, files_failed,
	errors, metadata, client_id`

func scanRun(row pgx.Row) (*IndexingRun, error) {
	var (
		r        IndexingRun
		errsJSON []byte
		metadata []byte
	)
	err := row.Scan(&r.ID, &r.Trigger, &r.SourceURI, &r.StartedAt, &r.CompletedAt,
		&r.Status, &r.Counters.Scanned, &r.Counters.Added, &r.Counters.Updated,
		&r.Counters.Skipped, &r.Counters.Failed, &errsJSON, &metadata, &r.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan indexing run: %w", err)
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &r.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal run errors: %w", err)
		}
	}
	r.Metadata, err = unmarshalMap(metadata)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertRun creates a run in the running state and returns its ID.
func (s *Store) InsertRun(ctx context.Context, trigger string, sourceURI *string, metadata map[string]any, clientID *string) (uuid.UUID, error) {
	md, err := marshalJSON(metadata, "{}")
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO indexing_runs (trigger, source_uri, status, metadata, client_id)
		VALUES ($1, $2, 'running', $3, $4)
		RETURNING id`, trigger, sourceURI, md, clientID).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert indexing run: %w", err)
	}
	return id, nil
}

// CompleteRun moves a run to a terminal state with its final counters and
// error list.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, status string, counters RunCounters, runErrors []RunError) error {
	errs, err := marshalJSON(runErrors, "[]")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE indexing_runs
		SET completed_at = now(), status = $2,
		    files_scanned = $3, files_added = $4, files_updated = $5,
		    files_skipped = $6, files_failed = $7, errors = $8
		WHERE id = $1`,
		id, status, counters.Scanned, counters.Added, counters.Updated,
		counters.Skipped, counters.Failed, errs)
	if err != nil {
		return fmt.Errorf("complete indexing run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*IndexingRun, error) {
	return scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM indexing_runs WHERE id = $1`, id))
}

// ListRuns pages runs most recent first and returns the total row count.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]IndexingRun, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM indexing_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count indexing runs: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM indexing_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list indexing runs: %w", err)
	}
	defer rows.Close()

	var runs []IndexingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate indexing runs: %w", err)
	}
	return runs, total, nil
}

// SummarizeRuns aggregates run counts by status and trigger plus total file
// counters.
func (s *Store) SummarizeRuns(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		ByStatus:  map[string]int{},
		ByTrigger: map[string]int{},
	}

	err := s.pool.QueryRow(ctx, `
		SELECT count(*)::int,
		       coalesce(sum(files_scanned), 0)::int,
		       coalesce(sum(files_added), 0)::int,
		       coalesce(sum(files_updated), 0)::int,
		       coalesce(sum(files_skipped), 0)::int,
		       coalesce(sum(files_failed), 0)::int,
		       max(completed_at)
		FROM indexing_runs`).Scan(&summary.Total,
		&summary.Counters.Scanned, &summary.Counters.Added, &summary.Counters.Updated,
		&summary.Counters.Skipped, &summary.Counters.Failed, &summary.LastCompletedAt)
	if err != nil {
		return nil, fmt.Errorf("summarize indexing runs: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, trigger, count(*)::int FROM indexing_runs GROUP BY status, trigger`)
	if err != nil {
		return nil, fmt.Errorf("summarize runs by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, trigger string
		var n int
		if err := rows.Scan(&status, &trigger, &n); err != nil {
			return nil, fmt.Errorf("scan run summary row: %w", err)
		}
		summary.ByStatus[status] += n
		summary.ByTrigger[trigger] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run summary rows: %w", err)
	}
	return summary, nil
}

// DeleteTerminalRunsBefore removes terminal-state runs started before the
// cutoff. Rows still in the running state are never touched, whatever their
// age; the stale-run reaper is responsible for moving those to failed first.
func (s *Store) DeleteTerminalRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM indexing_runs
		WHERE status IN ('success', 'partial', 'failed') AND started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FailStaleRuns marks running rows older than the cutoff as failed. These
// are runs whose process died mid-scan and will never complete on their own.
func (s *Store) FailStaleRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE indexing_runs
		SET status = 'failed', completed_at = now(),
		    errors = '[{"source_uri": "", "error": "run abandoned: process terminated mid-scan"}]'
		WHERE status = 'running' AND started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
