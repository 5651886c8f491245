package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const lockColumns = `id, source_uri, client_id, locked_at, expires_at, lock_reason,
	root_id, relative_path`

func scanLock(row pgx.Row) (*DocumentLock, error) {
	var l DocumentLock
	err := row.Scan(&l.ID, &l.SourceURI, &l.ClientID, &l.LockedAt, &l.ExpiresAt,
		&l.LockReason, &l.RootID, &l.RelativePath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan document lock: %w", err)
	}
	return &l, nil
}

// lockIdentity returns the predicate and advisory key string for a lock
// identity: (root_id, relative_path) when both are present, the raw source
// URI otherwise. The dual key is what keeps one logical document from being
// indexed twice under different absolute paths.
func lockIdentity(sourceURI string, rootID *uuid.UUID, relativePath *string, args *[]any) (where, advisoryKey string) {
	if rootID != nil && relativePath != nil {
		*args = append(*args, *rootID)
		rn := len(*args)
		*args = append(*args, *relativePath)
		pn := len(*args)
		return fmt.Sprintf("root_id = $%d AND relative_path = $%d", rn, pn),
			"lock:" + rootID.String() + ":" + *relativePath
	}
	*args = append(*args, sourceURI)
	return fmt.Sprintf("source_uri = $%d", len(*args)), "lock:" + sourceURI
}

// Lock statements run with a short local timeout so row contention fails
// fast instead of stalling a scan.
const lockStatementTimeout = `SET LOCAL statement_timeout = '3s'`

// AcquireLock claims a document for a client. In one transaction it drops
// any expired lock for the identity, then either extends the caller's own
// active lock, reports the conflicting holder, or inserts a fresh lock. An
// advisory transaction lock on the identity serializes racing acquirers.
func (s *Store) AcquireLock(ctx context.Context, req LockRequest) (*LockOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin lock acquire: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockStatementTimeout); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	var args []any
	where, advisoryKey := lockIdentity(req.SourceURI, req.RootID, req.RelativePath, &args)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, advisoryKey); err != nil {
		return nil, fmt.Errorf("serialize lock acquire: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_locks WHERE expires_at <= now() AND `+where, args...); err != nil {
		return nil, fmt.Errorf("drop expired lock: %w", err)
	}

	active, err := scanLock(tx.QueryRow(ctx,
		`SELECT `+lockColumns+` FROM document_locks WHERE expires_at > now() AND `+where+` LIMIT 1`,
		args...))
	if err != nil {
		return nil, err
	}

	outcome := &LockOutcome{}
	switch {
	case active != nil && active.ClientID == req.ClientID:
		extended, err := scanLock(tx.QueryRow(ctx, `
			UPDATE document_locks
			SET expires_at = now() + $2, lock_reason = $3
			WHERE id = $1
			RETURNING `+lockColumns, active.ID, req.TTL, req.Reason))
		if err != nil {
			return nil, err
		}
		outcome.Acquired = true
		outcome.Extended = true
		outcome.Lock = extended

	case active != nil:
		outcome.Holder = active

	default:
		created, err := scanLock(tx.QueryRow(ctx, `
			INSERT INTO document_locks
				(source_uri, client_id, expires_at, lock_reason, root_id, relative_path)
			VALUES ($1, $2, now() + $3, $4, $5, $6)
			RETURNING `+lockColumns,
			req.SourceURI, req.ClientID, req.TTL, req.Reason, req.RootID, req.RelativePath))
		if err != nil {
			return nil, err
		}
		outcome.Acquired = true
		outcome.Lock = created
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit lock acquire: %w", err)
	}
	return outcome, nil
}

// ReleaseLock removes the caller's own lock for the identity. Returns false
// when no matching lock was held.
func (s *Store) ReleaseLock(ctx context.Context, sourceURI, clientID string, rootID *uuid.UUID, relativePath *string) (bool, error) {
	var args []any
	where, _ := lockIdentity(sourceURI, rootID, relativePath, &args)
	args = append(args, clientID)

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM document_locks WHERE %s AND client_id = $%d`, where, len(args)), args...)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ForceReleaseLock removes any lock for the identity regardless of holder.
func (s *Store) ForceReleaseLock(ctx context.Context, sourceURI string, rootID *uuid.UUID, relativePath *string) (bool, error) {
	var args []any
	where, _ := lockIdentity(sourceURI, rootID, relativePath, &args)

	tag, err := s.pool.Exec(ctx, `DELETE FROM document_locks WHERE `+where, args...)
	if err != nil {
		return false, fmt.Errorf("force release lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetActiveLock returns the unexpired lock for the identity, or nil.
func (s *Store) GetActiveLock(ctx context.Context, sourceURI string, rootID *uuid.UUID, relativePath *string) (*DocumentLock, error) {
	var args []any
	where, _ := lockIdentity(sourceURI, rootID, relativePath, &args)

	return scanLock(s.pool.QueryRow(ctx,
		`SELECT `+lockColumns+` FROM document_locks WHERE expires_at > now() AND `+where+` LIMIT 1`,
		args...))
}

// CleanupExpiredLocks deletes every expired lock. Returns rows deleted.
func (s *Store) CleanupExpiredLocks(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM document_locks WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
