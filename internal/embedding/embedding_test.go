package embedding

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"docdex/internal/logging"
)

func testLogger() *slog.Logger { return logging.Discard() }

// ---------- fake embedder ----------

type countingEmbedder struct {
	dimension int
	calls     int
	batches   [][]string
}

func (f *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batches = append(f.batches, texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dimension)
		vec[0] = float32(len(text))
		out[i] = vec
	}
	return out, nil
}

func (f *countingEmbedder) Dimension() int { return f.dimension }
func (f *countingEmbedder) Model() string  { return "counting" }

// ---------- hash embedder ----------

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHash(384)

	a, err := h.EmbedBatch(context.Background(), []string{"the quick brown fox"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	b, err := h.EmbedBatch(context.Background(), []string{"the quick brown fox"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}

	if len(a[0]) != 384 {
		t.Fatalf("dimension = %d, want 384", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("component %d differs between identical inputs", i)
		}
	}
}

func TestHashEmbedderUnitNorm(t *testing.T) {
	h := NewHash(128)
	vecs, err := h.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, vec := range vecs {
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
			t.Errorf("vector %d norm = %f, want 1", i, math.Sqrt(norm))
		}
	}
}

func TestHashEmbedderDistinctInputsDiffer(t *testing.T) {
	h := NewHash(64)
	vecs, err := h.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	same := true
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("distinct inputs produced identical vectors")
	}
}

// ---------- cache ----------

func TestCacheServesRepeatsWithoutReEmbedding(t *testing.T) {
	inner := &countingEmbedder{dimension: 8}
	c, err := NewCache(inner, 16)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	ctx := context.Background()
	if _, err := c.EmbedBatch(ctx, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls after first batch = %d, want 1", inner.calls)
	}

	// Second batch repeats two texts; only "d" should reach the inner embedder.
	out, err := c.EmbedBatch(ctx, []string{"a", "d", "c"})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("calls after second batch = %d, want 2", inner.calls)
	}
	if got := inner.batches[1]; len(got) != 1 || got[0] != "d" {
		t.Fatalf("second inner batch = %v, want [d]", got)
	}
	if len(out) != 3 {
		t.Fatalf("output length = %d, want 3", len(out))
	}
	// "a" comes from cache and still carries its encoding.
	if out[0][0] != 1 {
		t.Errorf("cached vector for %q lost its value: %v", "a", out[0][0])
	}
}

func TestCacheFullyCachedBatch(t *testing.T) {
	inner := &countingEmbedder{dimension: 4}
	c, err := NewCache(inner, 16)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	ctx := context.Background()
	if _, err := c.EmbedBatch(ctx, []string{"x", "y"}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if _, err := c.EmbedBatch(ctx, []string{"y", "x"}); err != nil {
		t.Fatalf("cached: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1 (second batch fully cached)", inner.calls)
	}
}

// ---------- ollama ----------

func TestOllamaEmbedBatch(t *testing.T) {
	var gotReq ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(gotReq.Input))}
		for i := range resp.Embeddings {
			resp.Embeddings[i] = []float32{0.1, 0.2, 0.3}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "all-minilm:l6-v2", 3, testLogger())
	vecs, err := o.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if gotReq.Model != "all-minilm:l6-v2" {
		t.Errorf("model sent = %q", gotReq.Model)
	}
	if len(gotReq.Input) != 2 {
		t.Errorf("inputs sent = %d, want 2", len(gotReq.Input))
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Fatalf("got %d vectors of width %d", len(vecs), len(vecs[0]))
	}
}

func TestOllamaDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{0.1, 0.2}},
		})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "m", 3, testLogger())
	if _, err := o.EmbedBatch(context.Background(), []string{"one"}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "missing", 3, testLogger())
	if _, err := o.EmbedBatch(context.Background(), []string{"one"}); err == nil {
		t.Fatal("expected error from 404 response")
	}
}

func TestOllamaEmptyBatch(t *testing.T) {
	o := NewOllama("http://127.0.0.1:1", "m", 3, testLogger())
	vecs, err := o.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if vecs != nil {
		t.Fatalf("EmbedBatch(nil) = %v, want nil", vecs)
	}
}
