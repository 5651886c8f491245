// Package index is the indexer pipeline: process a document into chunks,
// embed them, and bulk-insert the rows in one transaction.
//
// Document identity is the URI hash from the processor, so indexing the same
// source twice is a skip unless the caller forces a reindex. A force deletes
// the existing rows first; a failed insert rolls back whole, never leaving a
// partial document.
package index

import (
	"context"
	"log/slog"

	"docdex/internal/embedding"
	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/processor"
	"docdex/internal/store"
)

// Statuses reported by IndexDocument.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
)

// Result is the outcome of one index operation.
type Result struct {
	Status        string `json:"status"`
	DocumentID    string `json:"document_id"`
	SourceURI     string `json:"source_uri"`
	ChunksIndexed int    `json:"chunks_indexed"`
	// Replaced is true when a force reindex overwrote existing rows.
	Replaced bool `json:"replaced,omitempty"`
}

// Request drives IndexDocument.
type Request struct {
	SourceURI    string
	ForceReindex bool
	// CustomMetadata merges over extraction metadata; caller keys win except
	// the reserved identity keys.
	CustomMetadata map[string]any
	// OCRMode is accepted for API compatibility. Native extraction has no
	// OCR stage, so it only lands in metadata.
	OCRMode string
}

// ChunkStore is the persistence surface the pipeline needs.
type ChunkStore interface {
	DocumentExists(ctx context.Context, documentID string) (bool, error)
	DeleteDocument(ctx context.Context, documentID string) (int64, error)
	InsertChunks(ctx context.Context, chunks []store.NewChunk) error
	BulkDeletePreview(ctx context.Context, filters store.ChunkFilters) (int, []store.DocumentSummary, error)
	BulkDeleteChunks(ctx context.Context, filters store.ChunkFilters) (int64, error)
	ExportChunks(ctx context.Context, filters store.ChunkFilters) ([]store.Chunk, error)
	ImportChunks(ctx context.Context, chunks []store.Chunk) (inserted, skipped int, err error)
}

// Service wires the processor, embedder and store into the pipeline.
type Service struct {
	processor *processor.Processor
	embedder  embedding.Embedder
	chunks    ChunkStore
	encrypted *encryptedRing
	logger    *slog.Logger
}

// New builds the pipeline service.
func New(proc *processor.Processor, emb embedding.Embedder, chunks ChunkStore, logger *slog.Logger) *Service {
	return &Service{
		processor: proc,
		embedder:  emb,
		chunks:    chunks,
		encrypted: newEncryptedRing(encryptedRingCap),
		logger:    logging.Default(logger).With("component", "index"),
	}
}

// IndexDocument runs the pipeline for a file on disk. The source URI is the
// file path, preserved raw.
func (s *Service) IndexDocument(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.processor.ProcessFile(ctx, req.SourceURI)
	if err != nil {
		if errdef.IsCode(err, errdef.CodeEncryptedPDF) {
			s.encrypted.record(req.SourceURI, err)
		}
		return nil, err
	}
	return s.indexProcessed(ctx, doc, req)
}

// indexProcessed is the shared tail of the pipeline: dedup check, embed,
// bulk insert.
func (s *Service) indexProcessed(ctx context.Context, doc *processor.ProcessedDocument, req Request) (*Result, error) {
	exists, err := s.chunks.DocumentExists(ctx, doc.DocumentID)
	if err != nil {
		return nil, err
	}
	if exists {
		if !req.ForceReindex {
			s.logger.Debug("document already indexed, skipping",
				"document_id", doc.DocumentID, "source_uri", doc.SourceURI)
			documentsIndexedTotal.WithLabelValues(StatusSkipped).Inc()
			return &Result{
				Status:     StatusSkipped,
				DocumentID: doc.DocumentID,
				SourceURI:  doc.SourceURI,
			}, nil
		}
		if _, err := s.chunks.DeleteDocument(ctx, doc.DocumentID); err != nil {
			return nil, err
		}
	}
	replaced := exists

	vectors, err := s.embedder.EmbedBatch(ctx, doc.Chunks)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeProcessingFailed, "embed chunks", err)
	}

	metadata := mergeMetadata(doc, req)
	rows := make([]store.NewChunk, len(doc.Chunks))
	for i, text := range doc.Chunks {
		rows[i] = store.NewChunk{
			DocumentID: doc.DocumentID,
			ChunkIndex: i,
			Content:    text,
			SourceURI:  doc.SourceURI,
			Embedding:  vectors[i],
			Metadata:   metadata,
		}
	}
	if err := s.chunks.InsertChunks(ctx, rows); err != nil {
		return nil, err
	}

	documentsIndexedTotal.WithLabelValues(StatusSuccess).Inc()
	chunksIndexedTotal.Add(float64(len(rows)))

	s.logger.Info("document indexed",
		"document_id", doc.DocumentID, "source_uri", doc.SourceURI, "chunks", len(rows))
	return &Result{
		Status:        StatusSuccess,
		DocumentID:    doc.DocumentID,
		SourceURI:     doc.SourceURI,
		ChunksIndexed: len(rows),
		Replaced:      replaced,
	}, nil
}

// mergeMetadata layers caller metadata over extraction metadata. Caller keys
// win, except document identity which is always pipeline-derived.
func mergeMetadata(doc *processor.ProcessedDocument, req Request) map[string]any {
	merged := make(map[string]any, len(doc.Metadata)+len(req.CustomMetadata)+3)
	for k, v := range doc.Metadata {
		merged[k] = v
	}
	for k, v := range req.CustomMetadata {
		merged[k] = v
	}
	if req.OCRMode != "" {
		merged["ocr_mode"] = req.OCRMode
	}
	merged["document_id"] = doc.DocumentID
	merged["source_uri"] = doc.SourceURI
	return merged
}
