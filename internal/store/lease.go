package store

import (
	"context"
	"fmt"
	"hash/crc32"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseKey derives a stable advisory-lock key from a name. Every replica
// computes the same key for the same name, which is what makes the lease a
// cluster-wide singleton.
func LeaseKey(name string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(name)))
}

// Lease is a session-scoped advisory lock pinned to one pooled connection.
// It is held until Release is called or the connection drops, at which point
// Postgres frees the lock and another replica can take it.
type Lease struct {
	key  int64
	conn *pgxpool.Conn
}

// TryAcquireLease attempts to take the advisory lock without blocking.
// It returns (nil, nil) when another session already holds it.
func (s *Store) TryAcquireLease(ctx context.Context, key int64) (*Lease, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lease connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, nil
	}
	return &Lease{key: key, conn: conn}, nil
}

// Held verifies the lease connection is still alive. A false result means
// the lock was lost and the holder must stand down.
func (l *Lease) Held(ctx context.Context) bool {
	if l == nil || l.conn == nil {
		return false
	}
	return l.conn.Ping(ctx) == nil
}

// Release unlocks and returns the connection to the pool. Safe to call more
// than once.
func (l *Lease) Release(ctx context.Context) {
	if l == nil || l.conn == nil {
		return
	}
	// Best effort: if the connection already died the lock is gone anyway.
	_, _ = l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
}
