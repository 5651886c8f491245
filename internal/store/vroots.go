package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const vrootColumns = `id, name, local_path, client_id, created_at, updated_at`

func scanVRoot(row pgx.Row) (*VirtualRoot, error) {
	var v VirtualRoot
	err := row.Scan(&v.ID, &v.Name, &v.LocalPath, &v.ClientID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan virtual root: %w", err)
	}
	return &v, nil
}

// UpsertVirtualRoot registers or re-points a named root for one client.
// The (name, client_id) pair is the identity; re-registering updates the
// local path.
func (s *Store) UpsertVirtualRoot(ctx context.Context, name, localPath, clientID string) (*VirtualRoot, error) {
	return scanVRoot(s.pool.QueryRow(ctx, `
		INSERT INTO virtual_roots (name, local_path, client_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (name, client_id)
		DO UPDATE SET local_path = EXCLUDED.local_path, updated_at = now()
		RETURNING `+vrootColumns, name, localPath, clientID))
}

// GetVirtualRoot resolves a root name for one client.
func (s *Store) GetVirtualRoot(ctx context.Context, name, clientID string) (*VirtualRoot, error) {
	return scanVRoot(s.pool.QueryRow(ctx, `
		SELECT `+vrootColumns+` FROM virtual_roots
		WHERE name = $1 AND client_id = $2`, name, clientID))
}

// ListVirtualRoots returns roots, optionally limited to one client.
func (s *Store) ListVirtualRoots(ctx context.Context, clientID string) ([]VirtualRoot, error) {
	query := `SELECT ` + vrootColumns + ` FROM virtual_roots ORDER BY name, client_id`
	args := []any{}
	if clientID != "" {
		query = `SELECT ` + vrootColumns + ` FROM virtual_roots WHERE client_id = $1 ORDER BY name`
		args = append(args, clientID)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list virtual roots: %w", err)
	}
	defer rows.Close()

	var roots []VirtualRoot
	for rows.Next() {
		v, err := scanVRoot(rows)
		if err != nil {
			return nil, err
		}
		roots = append(roots, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate virtual roots: %w", err)
	}
	return roots, nil
}

// DeleteVirtualRoot removes a root registration by ID.
func (s *Store) DeleteVirtualRoot(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM virtual_roots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete virtual root: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
