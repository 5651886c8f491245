package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const clientColumns = `id, display_name, last_seen_at, metadata, created_at`

func scanClient(row pgx.Row) (*Client, error) {
	var (
		c        Client
		metadata []byte
	)
	err := row.Scan(&c.ID, &c.DisplayName, &c.LastSeenAt, &metadata, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	c.Metadata, err = unmarshalMap(metadata)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchClient registers a client on first contact and refreshes last_seen_at
// on every later one. Empty display names and metadata leave the stored
// values alone so bare heartbeats stay non-destructive.
func (s *Store) TouchClient(ctx context.Context, id, displayName string, metadata map[string]any) (*Client, error) {
	md, err := marshalJSON(metadata, "{}")
	if err != nil {
		return nil, err
	}
	return scanClient(s.pool.QueryRow(ctx, `
		INSERT INTO clients (id, display_name, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE clients.display_name END,
			last_seen_at = now(),
			metadata = CASE WHEN EXCLUDED.metadata <> '{}'::jsonb THEN EXCLUDED.metadata ELSE clients.metadata END
		RETURNING `+clientColumns, id, displayName, md))
}

// GetClient looks up one registered client.
func (s *Store) GetClient(ctx context.Context, id string) (*Client, error) {
	return scanClient(s.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

// ListClients returns all registered clients, most recently seen first.
func (s *Store) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return clients, nil
}
