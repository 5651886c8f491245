package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const activityColumns = `id, ts, action, client_id, user_id, details,
	executor_scope, executor_id, root_id, run_id`

func scanActivity(row pgx.Row) (*ActivityEntry, error) {
	var (
		e       ActivityEntry
		details []byte
	)
	err := row.Scan(&e.ID, &e.Timestamp, &e.Action, &e.ClientID, &e.UserID,
		&details, &e.ExecutorScope, &e.ExecutorID, &e.RootID, &e.RunID)
	if err != nil {
		return nil, fmt.Errorf("scan activity entry: %w", err)
	}
	e.Details, err = unmarshalMap(details)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendActivity writes one entry to the append-only activity log.
func (s *Store) AppendActivity(ctx context.Context, e ActivityEntry) error {
	details, err := marshalJSON(e.Details, "{}")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO activity_log (action, client_id, user_id, details, executor_scope, executor_id, root_id, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Action, e.ClientID, e.UserID, details, e.ExecutorScope, e.ExecutorID, e.RootID, e.RunID)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ActivityFilter narrows ListActivity. Zero values mean no constraint.
type ActivityFilter struct {
	Action   string
	ClientID string
	Since    time.Time
	Limit    int
	Offset   int
}

// ListActivity pages log entries most recent first.
func (s *Store) ListActivity(ctx context.Context, f ActivityFilter) ([]ActivityEntry, int, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	where := "TRUE"
	args := []any{}
	n := 1
	if f.Action != "" {
		where += fmt.Sprintf(" AND action = $%d", n)
		args = append(args, f.Action)
		n++
	}
	if f.ClientID != "" {
		where += fmt.Sprintf(" AND client_id = $%d", n)
		args = append(args, f.ClientID)
		n++
	}
	if !f.Since.IsZero() {
		where += fmt.Sprintf(" AND ts >= $%d", n)
		args = append(args, f.Since)
		n++
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM activity_log WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM activity_log
		WHERE %s
		ORDER BY ts DESC
		LIMIT $%d OFFSET $%d`, activityColumns, where, n, n+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, total, nil
}

// DeleteActivityBefore removes log entries older than the cutoff.
func (s *Store) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM activity_log WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete activity: %w", err)
	}
	return tag.RowsAffected(), nil
}
