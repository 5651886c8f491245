// Package embedding turns text into fixed-width vectors.
//
// Two providers exist: an Ollama HTTP client and a deterministic hash
// embedder used when no model server is available. Both sit behind the
// Embedder interface and are normally wrapped in an LRU cache so repeated
// chunks are only encoded once.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docdex/internal/config"
	"docdex/internal/logging"
)

// Embedder converts batches of text into equal-dimension vectors.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the fixed vector width this embedder produces.
	Dimension() int
	// Model names the underlying model or scheme.
	Model() string
}

// probeTimeout bounds the availability check in auto mode.
const probeTimeout = 3 * time.Second

// New builds the configured embedder wrapped in an LRU cache.
//
// Provider "auto" probes the Ollama server once and falls back to the hash
// embedder when it is unreachable, so development setups work without a
// model server while production fails loudly when "ollama" is pinned.
func New(cfg *config.Config, logger *slog.Logger) (Embedder, error) {
	logger = logging.Default(logger).With("component", "embedding")

	var inner Embedder
	switch cfg.EmbeddingProvider {
	case "ollama":
		inner = NewOllama(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDimension, logger)
	case "hash":
		inner = NewHash(cfg.EmbeddingDimension)
	case "auto":
		ollama := NewOllama(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDimension, logger)
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if err := ollama.Probe(ctx); err != nil {
			logger.Warn("ollama unreachable, using hash embedder",
				"url", cfg.OllamaURL, "error", err)
			inner = NewHash(cfg.EmbeddingDimension)
		} else {
			inner = ollama
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	cached, err := NewCache(inner, cfg.EmbeddingCacheSize)
	if err != nil {
		return nil, err
	}
	logger.Info("embedder ready",
		"model", cached.Model(), "dimension", cached.Dimension(), "cache_size", cfg.EmbeddingCacheSize)
	return cached, nil
}
