package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"docdex/internal/sourcekey"
)

// NewChunk is one row of a bulk chunk insert.
type NewChunk struct {
	DocumentID         string
	ChunkIndex         int
	Content            string
	SourceURI          string
	Embedding          []float32
	Metadata           map[string]any
	CanonicalSourceKey *string
	OwnerID            *string
	Visibility         *string
}

const chunkColumns = `id, document_id, chunk_index, content, source_uri, embedding,
	metadata, indexed_at, updated_at, canonical_source_key, owner_id, visibility,
	quarantined_at, quarantine_reason`

func scanChunk(row pgx.Row) (Chunk, error) {
	var (
		c        Chunk
		vec      pgvector.Vector
		metadata []byte
	)
	err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.SourceURI,
		&vec, &metadata, &c.IndexedAt, &c.UpdatedAt, &c.CanonicalSourceKey,
		&c.OwnerID, &c.Visibility, &c.QuarantinedAt, &c.QuarantineReason)
	if err != nil {
		return Chunk{}, err
	}
	c.Embedding = vec.Slice()
	c.Metadata, err = unmarshalMap(metadata)
	if err != nil {
		return Chunk{}, err
	}
	return c, nil
}

// InsertChunks bulk-inserts a document's chunks in one transaction, in the
// order given. Any failure rolls the whole document back; no partial
// documents survive.
func (s *Store) InsertChunks(ctx context.Context, chunks []NewChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk insert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadata, err := marshalJSON(c.Metadata, "{}")
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO document_chunks
				(document_id, chunk_index, content, source_uri, embedding,
				 metadata, canonical_source_key, owner_id, visibility)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.DocumentID, c.ChunkIndex, c.Content, c.SourceURI,
			pgvector.NewVector(c.Embedding), metadata,
			c.CanonicalSourceKey, c.OwnerID, c.Visibility)
	}

	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isUnique(err) {
				return fmt.Errorf("insert chunks: %w", ErrConflict)
			}
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close chunk batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk insert: %w", err)
	}
	return nil
}

// DocumentExists reports whether any chunk row (quarantined or not) carries
// the document ID.
func (s *Store) DocumentExists(ctx context.Context, documentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM document_chunks WHERE document_id = $1)`,
		documentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document exists: %w", err)
	}
	return exists, nil
}

// DeleteDocument removes every chunk of a document. Returns rows deleted.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete document: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetDocumentChunks returns a document's chunks ordered by chunk index.
func (s *Store) GetDocumentChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+`
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

func collectChunks(rows pgx.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// ListDocumentsOptions narrow and order the grouped document listing.
type ListDocumentsOptions struct {
	SortBy       string
	SortDir      string
	SourcePrefix string
	Limit        int
	Offset       int
	Requester    *Identity
}

// listSortColumns whitelists sort keys; user input never reaches SQL raw.
var listSortColumns = map[string]string{
	"indexed_at":    "min(indexed_at)",
	"last_updated":  "max(updated_at)",
	"source_uri":    "min(source_uri)",
	"document_type": "coalesce(min(metadata->>'file_type'), '')",
	"chunk_count":   "count(*)",
	"document_id":   "document_id",
}

// ListDocuments returns one summary row per document, plus the total count
// matching the filter.
func (s *Store) ListDocuments(ctx context.Context, opts ListDocumentsOptions) ([]DocumentSummary, int, error) {
	sortExpr, ok := listSortColumns[opts.SortBy]
	if !ok {
		sortExpr = listSortColumns["indexed_at"]
	}
	dir := "DESC"
	if strings.EqualFold(opts.SortDir, "asc") {
		dir = "ASC"
	}
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var args []any
	where := []string{"quarantined_at IS NULL"}
	if opts.SourcePrefix != "" {
		where = append(where, sourcePrefixWhere(sourcekey.NormalizePath(opts.SourcePrefix), &args))
	}
	if v := visibilityWhere(opts.Requester, &args); v != "" {
		where = append(where, v)
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT count(DISTINCT document_id) FROM document_chunks WHERE `+whereSQL,
		args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	args = append(args, limit)
	limitN := len(args)
	args = append(args, opts.Offset)
	offsetN := len(args)

	query := fmt.Sprintf(`
		SELECT document_id,
		       min(source_uri),
		       count(*)::int,
		       min(indexed_at),
		       max(updated_at),
		       coalesce(min(visibility), 'shared'),
		       min(owner_id),
		       coalesce(min(metadata->>'file_type'), '')
		FROM document_chunks
		WHERE %s
		GROUP BY document_id
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d`, whereSQL, sortExpr, dir, limitN, offsetN)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.DocumentID, &d.SourceURI, &d.ChunkCount,
			&d.IndexedAt, &d.UpdatedAt, &d.Visibility, &d.OwnerID, &d.FileType); err != nil {
			return nil, 0, fmt.Errorf("scan document summary: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, total, nil
}

// BulkDeletePreview reports what BulkDeleteChunks would remove: the distinct
// document count and a small sample of matching documents.
func (s *Store) BulkDeletePreview(ctx context.Context, filters ChunkFilters) (int, []DocumentSummary, error) {
	var args []any
	where := filtersWhere(filters, &args)
	whereSQL := "TRUE"
	if len(where) > 0 {
		whereSQL = strings.Join(where, " AND ")
	}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(DISTINCT document_id) FROM document_chunks WHERE `+whereSQL,
		args...).Scan(&count)
	if err != nil {
		return 0, nil, fmt.Errorf("preview bulk delete: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT document_id, min(source_uri), count(*)::int, min(indexed_at), max(updated_at)
		FROM document_chunks
		WHERE %s
		GROUP BY document_id
		ORDER BY document_id
		LIMIT 10`, whereSQL), args...)
	if err != nil {
		return 0, nil, fmt.Errorf("sample bulk delete: %w", err)
	}
	defer rows.Close()

	var sample []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.DocumentID, &d.SourceURI, &d.ChunkCount, &d.IndexedAt, &d.UpdatedAt); err != nil {
			return 0, nil, fmt.Errorf("scan bulk delete sample: %w", err)
		}
		sample = append(sample, d)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate bulk delete sample: %w", err)
	}
	return count, sample, nil
}

// BulkDeleteChunks removes every chunk matching the filters. Returns rows
// deleted.
func (s *Store) BulkDeleteChunks(ctx context.Context, filters ChunkFilters) (int64, error) {
	var args []any
	where := filtersWhere(filters, &args)
	whereSQL := "TRUE"
	if len(where) > 0 {
		whereSQL = strings.Join(where, " AND ")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE `+whereSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExportChunks returns full chunk rows (including embeddings) matching the
// filters, ordered for a stable round-trip with ImportChunks.
func (s *Store) ExportChunks(ctx context.Context, filters ChunkFilters) ([]Chunk, error) {
	var args []any
	where := filtersWhere(filters, &args)
	whereSQL := "TRUE"
	if len(where) > 0 {
		whereSQL = strings.Join(where, " AND ")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+`
		FROM document_chunks
		WHERE `+whereSQL+`
		ORDER BY document_id, chunk_index`, args...)
	if err != nil {
		return nil, fmt.Errorf("export chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ImportChunks inserts previously exported rows. Rows colliding on
// (document_id, chunk_index) are skipped, not replaced. Returns inserted and
// skipped counts.
func (s *Store) ImportChunks(ctx context.Context, chunks []Chunk) (inserted, skipped int, err error) {
	if len(chunks) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin chunk import: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadata, merr := marshalJSON(c.Metadata, "{}")
		if merr != nil {
			return 0, 0, merr
		}
		batch.Queue(`
			INSERT INTO document_chunks
				(document_id, chunk_index, content, source_uri, embedding, metadata,
				 canonical_source_key, owner_id, visibility, quarantined_at, quarantine_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (document_id, chunk_index) DO NOTHING`,
			c.DocumentID, c.ChunkIndex, c.Content, c.SourceURI,
			pgvector.NewVector(c.Embedding), metadata,
			c.CanonicalSourceKey, c.OwnerID, c.Visibility,
			c.QuarantinedAt, c.QuarantineReason)
	}

	br := tx.SendBatch(ctx, batch)
	for range chunks {
		tag, execErr := br.Exec()
		if execErr != nil {
			br.Close()
			return 0, 0, fmt.Errorf("import chunks: %w", execErr)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		} else {
			skipped++
		}
	}
	if err := br.Close(); err != nil {
		return 0, 0, fmt.Errorf("close import batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit chunk import: %w", err)
	}
	return inserted, skipped, nil
}

// SetDocumentVisibility updates visibility and ownership on every chunk of a
// document. Returns rows updated.
func (s *Store) SetDocumentVisibility(ctx context.Context, documentID, visibility string, ownerID *string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE document_chunks
		SET visibility = $2, owner_id = $3
		WHERE document_id = $1`, documentID, visibility, ownerID)
	if err != nil {
		return 0, fmt.Errorf("set document visibility: %w", err)
	}
	return tag.RowsAffected(), nil
}

// BulkSetCanonicalKeys computes and stores the canonical source key for every
// chunk under folderPath that does not have one yet. Key material comes from
// the watched root: its scope and identity plus each chunk's path relative to
// the root. Returns chunks updated.
func (s *Store) BulkSetCanonicalKeys(ctx context.Context, folderPath, scope, identity string) (int64, error) {
	normalized := sourcekey.NormalizePath(folderPath)

	var args []any
	prefix := sourcePrefixWhere(normalized, &args)
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT source_uri
		FROM document_chunks
		WHERE canonical_source_key IS NULL AND `+prefix, args...)
	if err != nil {
		return 0, fmt.Errorf("find sources missing canonical key: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return 0, fmt.Errorf("scan source uri: %w", err)
		}
		sources = append(sources, uri)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate source uris: %w", err)
	}
	if len(sources) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin canonical key backfill: %w", err)
	}
	defer tx.Rollback(ctx)

	var updated int64
	for _, uri := range sources {
		rel := sourcekey.RelativePath(normalized, uri)
		key := sourcekey.Build(scope, identity, rel)
		tag, err := tx.Exec(ctx, `
			UPDATE document_chunks
			SET canonical_source_key = $2
			WHERE source_uri = $1 AND canonical_source_key IS NULL`, uri, key)
		if err != nil {
			return 0, fmt.Errorf("set canonical key for %s: %w", uri, err)
		}
		updated += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit canonical key backfill: %w", err)
	}
	return updated, nil
}

// FindByCanonicalKey returns the chunks carrying the key, ordered by chunk
// index.
func (s *Store) FindByCanonicalKey(ctx context.Context, key string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chunkColumns+`
		FROM document_chunks
		WHERE canonical_source_key = $1
		ORDER BY chunk_index`, key)
	if err != nil {
		return nil, fmt.Errorf("find by canonical key: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}
