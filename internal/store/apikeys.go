package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const apiKeyColumns = `id, key_hash, key_prefix, name, created_at, last_used_at, revoked_at, expires_at`

func scanAPIKey(row pgx.Row) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name,
		&k.CreatedAt, &k.LastUsedAt, &k.RevokedAt, &k.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}

// InsertAPIKey stores a new key fingerprint. The plaintext key never reaches
// this layer.
func (s *Store) InsertAPIKey(ctx context.Context, keyHash, keyPrefix, name string, expiresAt *time.Time) (*APIKey, error) {
	k, err := scanAPIKey(s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, name, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+apiKeyColumns, keyHash, keyPrefix, name, expiresAt))
	if err != nil && isUnique(err) {
		return nil, fmt.Errorf("api key hash collision: %w", ErrConflict)
	}
	return k, err
}

// GetAPIKeyByHash looks up a key by its SHA-256 fingerprint.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	return scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash))
}

// GetAPIKey fetches one key record by ID.
func (s *Store) GetAPIKey(ctx context.Context, id uuid.UUID) (*APIKey, error) {
	return scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
}

// ListAPIKeys returns every key record, newest first. Hashes are included;
// callers decide what to expose.
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey stamps revoked_at. Revoking an already-revoked key is a no-op
// so the operation stays idempotent.
func (s *Store) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already revoked.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM api_keys WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// TouchAPIKey refreshes last_used_at. Called on successful authentication;
// failures are ignored upstream since usage tracking is best effort.
func (s *Store) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
