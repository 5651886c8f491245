package search

import (
	"context"
	"errors"
	"testing"

	"docdex/internal/embedding"
	"docdex/internal/errdef"
	"docdex/internal/store"
)

// ---------- fake searcher ----------

type fakeSearcher struct {
	gotParams store.SearchParams
	results   []store.SearchResult
	err       error
}

func (f *fakeSearcher) SearchChunks(_ context.Context, p store.SearchParams) ([]store.SearchResult, error) {
	f.gotParams = p
	return f.results, f.err
}

func result(docID string, score float64) store.SearchResult {
	return store.SearchResult{
		Chunk: store.Chunk{DocumentID: docID, Content: "body", SourceURI: "/x.txt"},
		Score: score,
	}
}

// ---------- tests ----------

func TestSearchMinScoreFilters(t *testing.T) {
	fake := &fakeSearcher{results: []store.SearchResult{
		result("aaa", 0.9),
		result("bbb", 0.4),
		result("ccc", 0.1),
	}}
	svc := New(embedding.NewHash(16), fake, nil)

	matches, err := svc.Search(context.Background(), Query{Query: "machine learning", MinScore: 0.3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].DocumentID != "aaa" || matches[1].DocumentID != "bbb" {
		t.Fatalf("wrong matches: %+v", matches)
	}
}

func TestSearchPassesEmbeddingAndFilters(t *testing.T) {
	fake := &fakeSearcher{}
	svc := New(embedding.NewHash(16), fake, nil)

	requester := &store.Identity{UserID: "u1"}
	_, err := svc.Search(context.Background(), Query{
		Query:     "contract law",
		TopK:      7,
		UseHybrid: true,
		Filters:   map[string]any{"file_type": "pdf", "metadata.dept": "legal"},
		Requester: requester,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	p := fake.gotParams
	if len(p.Embedding) != 16 {
		t.Errorf("embedding width = %d", len(p.Embedding))
	}
	if p.Limit != 7 || !p.Hybrid || p.Query != "contract law" {
		t.Errorf("params = %+v", p)
	}
	if p.Alpha != 0.5 {
		t.Errorf("alpha default = %v, want 0.5", p.Alpha)
	}
	if p.Filters.FileType != "pdf" || p.Filters.Metadata["dept"] != "legal" {
		t.Errorf("filters = %+v", p.Filters)
	}
	if p.Requester != requester {
		t.Error("requester identity not forwarded")
	}
}

func TestSearchAlphaClamped(t *testing.T) {
	fake := &fakeSearcher{}
	svc := New(embedding.NewHash(8), fake, nil)

	if _, err := svc.Search(context.Background(), Query{Query: "q", UseHybrid: true, Alpha: 3}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if fake.gotParams.Alpha != 1 {
		t.Fatalf("alpha = %v, want clamped to 1", fake.gotParams.Alpha)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := New(embedding.NewHash(8), &fakeSearcher{}, nil)
	if _, err := svc.Search(context.Background(), Query{Query: "   "}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestSearchStoreErrorMapped(t *testing.T) {
	fake := &fakeSearcher{err: errors.New("connection refused")}
	svc := New(embedding.NewHash(8), fake, nil)

	_, err := svc.Search(context.Background(), Query{Query: "q"})
	if !errdef.IsCode(err, errdef.CodeDBQuery) {
		t.Fatalf("error = %v, want DATABASE_QUERY_ERROR", err)
	}
}
