// Package search answers similarity queries over the chunk index.
//
// The query text is embedded with the same model as the corpus, then matched
// by cosine similarity. Hybrid mode blends in a keyword rank weighted by
// alpha. Results below the caller's minimum score are dropped after ranking.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"docdex/internal/embedding"
	"docdex/internal/errdef"
	"docdex/internal/index"
	"docdex/internal/logging"
	"docdex/internal/store"
)

// defaultTimeout bounds one search end to end, embedding included.
const defaultTimeout = 30 * time.Second

// Query is one search request.
type Query struct {
	Query     string
	TopK      int
	MinScore  float64
	Filters   map[string]any
	UseHybrid bool
	// Alpha weights vector similarity against keyword rank in hybrid mode.
	// Zero means the default of 0.5; values are clamped to [0,1].
	Alpha     float64
	Requester *store.Identity
}

// Match is one ranked result.
type Match struct {
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	SourceURI  string         `json:"source_uri"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Searcher is the store surface this service needs.
type Searcher interface {
	SearchChunks(ctx context.Context, p store.SearchParams) ([]store.SearchResult, error)
}

// Service embeds queries and delegates ranking to the store.
type Service struct {
	embedder embedding.Embedder
	searcher Searcher
	timeout  time.Duration
	logger   *slog.Logger
}

// New builds the search service.
func New(emb embedding.Embedder, searcher Searcher, logger *slog.Logger) *Service {
	return &Service{
		embedder: emb,
		searcher: searcher,
		timeout:  defaultTimeout,
		logger:   logging.Default(logger).With("component", "search"),
	}
}

// Search embeds the query and returns ranked matches.
func (s *Service) Search(ctx context.Context, q Query) ([]Match, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, errdef.New(errdef.CodeProcessingFailed, "query text required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vectors, err := s.embedder.EmbedBatch(ctx, []string{q.Query})
	if err != nil {
		return nil, timeoutOr(ctx, errdef.Wrap(errdef.CodeProcessingFailed, "embed query", err))
	}

	alpha := q.Alpha
	if alpha == 0 {
		alpha = 0.5
	}
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	results, err := s.searcher.SearchChunks(ctx, store.SearchParams{
		Embedding: vectors[0],
		Query:     q.Query,
		Limit:     q.TopK,
		Hybrid:    q.UseHybrid,
		Alpha:     alpha,
		Filters:   index.ParseFilters(q.Filters),
		Requester: q.Requester,
	})
	if err != nil {
		return nil, timeoutOr(ctx, errdef.Wrap(errdef.CodeDBQuery, "search query", err))
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Score < q.MinScore {
			continue
		}
		matches = append(matches, Match{
			DocumentID: r.Chunk.DocumentID,
			ChunkIndex: r.Chunk.ChunkIndex,
			Content:    r.Chunk.Content,
			SourceURI:  r.Chunk.SourceURI,
			Score:      r.Score,
			Metadata:   r.Chunk.Metadata,
		})
	}

	s.logger.Debug("search served",
		"results", len(matches), "hybrid", q.UseHybrid, "top_k", q.TopK)
	return matches, nil
}

// timeoutOr maps a deadline expiry to the search timeout code, otherwise
// returns the given error unchanged.
func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errdef.Wrap(errdef.CodeSearchTimeout, "search timed out", err)
	}
	return err
}
