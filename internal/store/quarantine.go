package store

import (
	"context"
	"fmt"
	"time"

	"docdex/internal/sourcekey"
)

// QuarantineChunks soft-deletes every live chunk of a source. Already
// quarantined rows keep their original timestamp and reason, so the call is
// idempotent. Returns rows transitioned.
func (s *Store) QuarantineChunks(ctx context.Context, sourceURI, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE document_chunks
		SET quarantined_at = now(), quarantine_reason = $2
		WHERE source_uri = $1 AND quarantined_at IS NULL`, sourceURI, reason)
	if err != nil {
		return 0, fmt.Errorf("quarantine chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RestoreQuarantinedChunks clears quarantine state for a source. A second
// call is a no-op. Returns rows restored.
func (s *Store) RestoreQuarantinedChunks(ctx context.Context, sourceURI string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE document_chunks
		SET quarantined_at = NULL, quarantine_reason = NULL
		WHERE source_uri = $1 AND quarantined_at IS NOT NULL`, sourceURI)
	if err != nil {
		return 0, fmt.Errorf("restore quarantined chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeQuarantinedBefore hard-deletes chunks quarantined before the cutoff.
// Returns rows deleted.
func (s *Store) PurgeQuarantinedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM document_chunks
		WHERE quarantined_at IS NOT NULL AND quarantined_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge quarantined chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SourcesUnderFolder lists every distinct indexed source at or under the
// folder, with its quarantine state. The scan engine walks this after each
// pass to reconcile the index with the filesystem.
func (s *Store) SourcesUnderFolder(ctx context.Context, folderPath string) ([]SourceState, error) {
	var args []any
	prefix := sourcePrefixWhere(sourcekey.NormalizePath(folderPath), &args)
	rows, err := s.pool.Query(ctx, `
		SELECT source_uri, bool_or(quarantined_at IS NOT NULL)
		FROM document_chunks
		WHERE `+prefix+`
		GROUP BY source_uri
		ORDER BY source_uri`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources under folder: %w", err)
	}
	defer rows.Close()

	var sources []SourceState
	for rows.Next() {
		var st SourceState
		if err := rows.Scan(&st.SourceURI, &st.Quarantined); err != nil {
			return nil, fmt.Errorf("scan source state: %w", err)
		}
		sources = append(sources, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source states: %w", err)
	}
	return sources, nil
}

// QuarantineStats summarizes the quarantine backlog.
func (s *Store) QuarantineStats(ctx context.Context) (QuarantineStats, error) {
	stats := QuarantineStats{ByReason: map[string]int{}}

	err := s.pool.QueryRow(ctx, `
		SELECT count(*)::int, count(DISTINCT document_id)::int, min(quarantined_at)
		FROM document_chunks
		WHERE quarantined_at IS NOT NULL`).Scan(&stats.Chunks, &stats.Documents, &stats.Oldest)
	if err != nil {
		return stats, fmt.Errorf("quarantine stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT coalesce(quarantine_reason, ''), count(*)::int
		FROM document_chunks
		WHERE quarantined_at IS NOT NULL
		GROUP BY quarantine_reason`)
	if err != nil {
		return stats, fmt.Errorf("quarantine stats by reason: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return stats, fmt.Errorf("scan quarantine reason: %w", err)
		}
		stats.ByReason[reason] = n
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate quarantine reasons: %w", err)
	}
	return stats, nil
}

// ListQuarantinedSources pages through quarantined sources, most recent
// first. Returns the page and the total distinct source count.
func (s *Store) ListQuarantinedSources(ctx context.Context, limit, offset int) ([]QuarantinedSource, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT count(DISTINCT source_uri)
		FROM document_chunks
		WHERE quarantined_at IS NOT NULL`).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count quarantined sources: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source_uri,
		       coalesce(min(quarantine_reason), ''),
		       min(quarantined_at),
		       count(*)::int
		FROM document_chunks
		WHERE quarantined_at IS NOT NULL
		GROUP BY source_uri
		ORDER BY min(quarantined_at) DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list quarantined sources: %w", err)
	}
	defer rows.Close()

	var sources []QuarantinedSource
	for rows.Next() {
		var q QuarantinedSource
		if err := rows.Scan(&q.SourceURI, &q.Reason, &q.QuarantinedAt, &q.ChunkCount); err != nil {
			return nil, 0, fmt.Errorf("scan quarantined source: %w", err)
		}
		sources = append(sources, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate quarantined sources: %w", err)
	}
	return sources, total, nil
}
