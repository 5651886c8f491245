package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache wraps an Embedder with an LRU keyed on the exact text. Re-indexing
// the same files keeps hitting the same chunk texts, so this saves most
// model round trips on rescans.
type Cache struct {
	inner Embedder
	lru   *lru.Cache[string, []float32]
}

// NewCache wraps inner with an LRU of the given entry capacity.
func NewCache(inner Embedder, size int) (*Cache, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cache{inner: inner, lru: c}, nil
}

// EmbedBatch serves hits from the cache and forwards only misses to the
// inner embedder, preserving input order in the result.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v, ok := c.lru.Get(text); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			c.lru.Add(missTexts[j], vec)
		}
	}
	return out, nil
}

// Dimension delegates to the inner embedder.
func (c *Cache) Dimension() int { return c.inner.Dimension() }

// Model delegates to the inner embedder.
func (c *Cache) Model() string { return c.inner.Model() }
