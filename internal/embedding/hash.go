package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Hash is a deterministic, model-free embedder. The same text always maps
// to the same unit vector, so similarity search stays self-consistent even
// though the geometry carries no semantics. Intended for development and
// air-gapped deployments.
type Hash struct {
	dimension int
}

// NewHash builds a hash embedder with the given vector width.
func NewHash(dimension int) *Hash {
	return &Hash{dimension: dimension}
}

// EmbedBatch derives each vector from iterated SHA-256 over the text.
func (h *Hash) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *Hash) embed(text string) []float32 {
	vec := make([]float32, h.dimension)

	// Stretch the digest across the vector by re-hashing with a counter.
	// Each digest yields eight float32 components.
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := 0; i < h.dimension; {
		block := sha256.Sum256(append(seed[:], byte(i), byte(i>>8)))
		for j := 0; j+4 <= len(block) && i < h.dimension; j += 4 {
			bits := binary.BigEndian.Uint32(block[j : j+4])
			// Map to (-1, 1).
			v := float64(bits)/float64(math.MaxUint32)*2 - 1
			vec[i] = float32(v)
			norm += v * v
			i++
		}
	}

	// L2 normalize so cosine distance behaves like the model providers'.
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// Dimension is the configured vector width.
func (h *Hash) Dimension() int { return h.dimension }

// Model names the scheme.
func (h *Hash) Model() string { return fmt.Sprintf("hash-sha256-%d", h.dimension) }
