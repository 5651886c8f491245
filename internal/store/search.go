package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// SearchChunks runs a similarity query over non-quarantined chunks. Scores
// are cosine similarity in [0,1]; hybrid mode blends in a full-text rank:
//
//	score = alpha * vector + (1-alpha) * keyword
//
// Visibility predicates for the requester are always applied. Ordering is by
// score descending, bounded by Limit.
func (s *Store) SearchChunks(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 10
	}

	var args []any
	args = append(args, pgvector.NewVector(p.Embedding))
	vecN := len(args)

	// Pure vector mode orders by raw distance so the HNSW index drives the
	// scan; hybrid scoring forces an explicit sort.
	scoreExpr := fmt.Sprintf("1 - (embedding <=> $%d)", vecN)
	orderExpr := fmt.Sprintf("embedding <=> $%d", vecN)
	if p.Hybrid && strings.TrimSpace(p.Query) != "" {
		args = append(args, p.Query)
		queryN := len(args)
		args = append(args, p.Alpha)
		alphaN := len(args)
		scoreExpr = fmt.Sprintf(
			"$%d * (1 - (embedding <=> $%d)) + (1 - $%d) * least(ts_rank_cd(to_tsvector('english', content), plainto_tsquery('english', $%d)), 1.0)",
			alphaN, vecN, alphaN, queryN)
		orderExpr = "score DESC"
	}

	where := filtersWhere(p.Filters, &args)
	if v := visibilityWhere(p.Requester, &args); v != "" {
		where = append(where, v)
	}
	where = append(where, "embedding IS NOT NULL")

	args = append(args, limit)
	limitN := len(args)

	query := fmt.Sprintf(`
		SELECT `+chunkColumns+`, %s AS score
		FROM document_chunks
		WHERE %s
		ORDER BY %s
		LIMIT $%d`, scoreExpr, strings.Join(where, " AND "), orderExpr, limitN)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			c        Chunk
			vec      pgvector.Vector
			metadata []byte
			score    float64
		)
		err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.SourceURI,
			&vec, &metadata, &c.IndexedAt, &c.UpdatedAt, &c.CanonicalSourceKey,
			&c.OwnerID, &c.Visibility, &c.QuarantinedAt, &c.QuarantineReason, &score)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		c.Embedding = vec.Slice()
		c.Metadata, err = unmarshalMap(metadata)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}
