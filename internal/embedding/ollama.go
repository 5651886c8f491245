package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ollama embeds text through an Ollama server's /api/embed endpoint.
type Ollama struct {
	client    *http.Client
	baseURL   string
	model     string
	dimension int
	logger    *slog.Logger
}

// NewOllama builds an Ollama client. The dimension is declared, not probed;
// a mismatch against the schema is caught at startup by the store.
func NewOllama(baseURL, model string, dimension int, logger *slog.Logger) *Ollama {
	return &Ollama{
		client:    &http.Client{Timeout: 60 * time.Second},
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		logger:    logger,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Probe checks that the server answers at all. Used by auto provider
// selection.
func (o *Ollama) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe ollama: status %d", resp.StatusCode)
	}
	return nil
}

// EmbedBatch sends all texts in one request. Ollama accepts array input and
// returns embeddings in input order.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embed request: status %d: %s", resp.StatusCode, detail)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed response: got %d vectors for %d texts", len(out.Embeddings), len(texts))
	}
	for i, v := range out.Embeddings {
		if len(v) != o.dimension {
			return nil, fmt.Errorf("embed response: vector %d has dimension %d, want %d", i, len(v), o.dimension)
		}
	}
	return out.Embeddings, nil
}

// Dimension is the declared vector width.
func (o *Ollama) Dimension() int { return o.dimension }

// Model names the served model.
func (o *Ollama) Model() string { return o.model }
