// Package store is the PostgreSQL persistence layer. One Store owns the
// connection pool; every repository method hangs off it. Embeddings use the
// pgvector column type, registered on each pooled connection.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"docdex/internal/logging"
)

// Sentinel errors shared by all repositories. Callers translate these into
// their own domain errors.
var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

const uniqueViolation = "23505"

// Config holds connection settings for Open.
type Config struct {
	// URL is the PostgreSQL connection string.
	URL string
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration
	// StatementTimeout is applied to every session as the default.
	StatementTimeout time.Duration
	// MaxConns caps the pool; 0 keeps the pgx default.
	MaxConns int
	// Logger for structured logging.
	Logger *slog.Logger
}

// Store wraps the pgx pool with typed repository methods.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to PostgreSQL, registers the pgvector codecs on every new
// connection, and verifies connectivity with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.StatementTimeout > 0 {
		ms := strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
		pc.ConnConfig.RuntimeParams["statement_timeout"] = ms
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logging.Default(cfg.Logger).With("component", "store"),
	}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// VerifyEmbeddingDimension checks that the schema's vector width matches the
// configured embedder. A mismatch means the operator changed models without
// migrating the column; refusing to start beats inserting garbage.
func (s *Store) VerifyEmbeddingDimension(ctx context.Context, want int) error {
	var typmod int
	err := s.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'document_chunks'::regclass AND attname = 'embedding'`).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("read embedding column dimension: %w", err)
	}
	if typmod != want {
		return fmt.Errorf("embedding dimension mismatch: schema has vector(%d), embedder produces %d", typmod, want)
	}
	return nil
}

// isUnique reports whether err is a unique constraint violation.
func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// marshalJSON encodes v for a JSONB column; nil maps become the given empty
// literal ("{}" or "[]") so columns stay NOT NULL.
func marshalJSON(v any, empty string) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return []byte(empty), nil
		}
	case []RunError:
		if t == nil {
			return []byte(empty), nil
		}
	case []string:
		if t == nil {
			return []byte(empty), nil
		}
	case nil:
		return []byte(empty), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

// unmarshalMap decodes a JSONB column into a map; empty input yields nil.
func unmarshalMap(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// likeEscape escapes LIKE wildcards in a literal prefix. Paths commonly
// contain underscores, which would otherwise match any character.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// normSource is the SQL expression normalizing a stored source_uri to
// forward slashes for prefix matching.
const normSource = `replace(source_uri, '\', '/')`

// sourcePrefixWhere builds a predicate matching sources at or under a
// normalized folder path. Returns the clause and appends its argument.
func sourcePrefixWhere(normalizedFolder string, args *[]any) string {
	*args = append(*args, normalizedFolder)
	eq := len(*args)
	*args = append(*args, likeEscape(normalizedFolder)+"/%")
	like := len(*args)
	return fmt.Sprintf(`(%s = $%d OR %s LIKE $%d ESCAPE '\')`, normSource, eq, normSource, like)
}

// visibilityWhere builds the ownership predicate for the requesting identity.
// Admins see everything; anonymous callers see shared only; everyone else
// sees shared plus their own private documents.
func visibilityWhere(requester *Identity, args *[]any) string {
	if requester != nil && requester.IsAdmin {
		return ""
	}
	if requester == nil || requester.UserID == "" {
		return `(visibility IS NULL OR visibility = 'shared')`
	}
	*args = append(*args, requester.UserID)
	return fmt.Sprintf(`(visibility IS NULL OR visibility = 'shared' OR (visibility = 'private' AND owner_id = $%d))`, len(*args))
}

// filtersWhere appends predicates for the given chunk filters.
func filtersWhere(f ChunkFilters, args *[]any) []string {
	var where []string
	if !f.IncludeQuarantined {
		where = append(where, "quarantined_at IS NULL")
	}
	if f.DocumentID != "" {
		*args = append(*args, f.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(*args)))
	}
	if f.SourceURI != "" {
		*args = append(*args, f.SourceURI)
		where = append(where, fmt.Sprintf("source_uri = $%d", len(*args)))
	}
	if f.SourcePrefix != "" {
		where = append(where, sourcePrefixWhere(f.SourcePrefix, args))
	}
	if f.FileType != "" {
		*args = append(*args, f.FileType)
		where = append(where, fmt.Sprintf("metadata->>'file_type' = $%d", len(*args)))
	}
	if f.OwnerID != "" {
		*args = append(*args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(*args)))
	}
	for k, v := range f.Metadata {
		*args = append(*args, k)
		kn := len(*args)
		*args = append(*args, v)
		vn := len(*args)
		where = append(where, fmt.Sprintf("metadata->>$%d = $%d", kn, vn))
	}
	return where
}
