package index

import (
	"context"
	"strconv"
	"strings"

	"docdex/internal/errdef"
	"docdex/internal/store"
)

// BulkDeleteResult reports either a preview or an executed bulk delete.
type BulkDeleteResult struct {
	Preview         bool                    `json:"preview"`
	DocumentCount   int                     `json:"document_count"`
	SampleDocuments []store.DocumentSummary `json:"sample_documents,omitempty"`
	ChunksDeleted   int64                   `json:"chunks_deleted,omitempty"`
	FiltersApplied  map[string]any          `json:"filters_applied"`
}

// Delete removes every chunk of a document.
func (s *Service) Delete(ctx context.Context, documentID string) (int64, error) {
	deleted, err := s.chunks.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if deleted == 0 {
		return 0, errdef.Newf(errdef.CodeDocumentNotFound, "document %s not found", documentID)
	}
	s.logger.Info("document deleted", "document_id", documentID, "chunks", deleted)
	return deleted, nil
}

// BulkDelete removes chunks matching the filters, or previews the blast
// radius when preview is set.
func (s *Service) BulkDelete(ctx context.Context, rawFilters map[string]any, preview bool) (*BulkDeleteResult, error) {
	filters := ParseFilters(rawFilters)

	if preview {
		count, samples, err := s.chunks.BulkDeletePreview(ctx, filters)
		if err != nil {
			return nil, err
		}
		return &BulkDeleteResult{
			Preview:         true,
			DocumentCount:   count,
			SampleDocuments: samples,
			FiltersApplied:  rawFilters,
		}, nil
	}

	deleted, err := s.chunks.BulkDeleteChunks(ctx, filters)
	if err != nil {
		return nil, err
	}
	s.logger.Info("bulk delete executed", "chunks", deleted, "filters", rawFilters)
	return &BulkDeleteResult{
		ChunksDeleted:  deleted,
		FiltersApplied: rawFilters,
	}, nil
}

// Export returns full chunk rows, embeddings included, for backup.
func (s *Service) Export(ctx context.Context, rawFilters map[string]any) ([]store.Chunk, error) {
	return s.chunks.ExportChunks(ctx, ParseFilters(rawFilters))
}

// Restore inserts exported rows back. Rows whose (document_id, chunk_index)
// already exist are skipped, so restoring over a live index is additive.
func (s *Service) Restore(ctx context.Context, chunks []store.Chunk) (inserted, skipped int, err error) {
	inserted, skipped, err = s.chunks.ImportChunks(ctx, chunks)
	if err != nil {
		return 0, 0, err
	}
	s.logger.Info("documents restored", "inserted", inserted, "skipped", skipped)
	return inserted, skipped, nil
}

// ParseFilters converts a wire filter map into typed chunk filters.
// Recognized top-level keys map to dedicated columns; `metadata.<key>`
// entries compare JSONB values as text; anything else is a metadata key too.
func ParseFilters(raw map[string]any) store.ChunkFilters {
	var f store.ChunkFilters
	for k, v := range raw {
		if k == "include_quarantined" {
			if b, ok := v.(bool); ok {
				f.IncludeQuarantined = b
			} else if s, ok := v.(string); ok {
				f.IncludeQuarantined = s == "true"
			}
			continue
		}
		val := filterString(v)
		if val == "" {
			continue
		}
		switch k {
		case "document_id":
			f.DocumentID = val
		case "source_uri":
			f.SourceURI = val
		case "source_prefix":
			f.SourcePrefix = val
		case "file_type":
			f.FileType = val
		case "owner_id":
			f.OwnerID = val
		default:
			if f.Metadata == nil {
				f.Metadata = make(map[string]string)
			}
			f.Metadata[strings.TrimPrefix(k, "metadata.")] = val
		}
	}
	return f
}

// filterString renders a filter value the way JSONB ->> would, so numeric
// and boolean JSON values still compare.
func filterString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}
