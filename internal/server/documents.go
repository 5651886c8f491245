package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"docdex/internal/auth"
	"docdex/internal/errdef"
	"docdex/internal/index"
	"docdex/internal/search"
	"docdex/internal/store"
)

type indexRequest struct {
	SourceURI    string         `json:"source_uri"`
	ForceReindex bool           `json:"force_reindex"`
	Metadata     map[string]any `json:"metadata"`
	OCRMode      string         `json:"ocr_mode"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req indexRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SourceURI == "" {
		s.writeError(w, r, errdef.New(errdef.CodeInvalidArgument, "source_uri is required"))
		return
	}
	result, err := s.cfg.Indexer.IndexDocument(r.Context(), index.Request{
		SourceURI:      req.SourceURI,
		ForceReindex:   req.ForceReindex,
		CustomMetadata: req.Metadata,
		OCRMode:        req.OCRMode,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "document.indexed", map[string]any{
		"document_id": result.DocumentID,
		"source_uri":  result.SourceURI,
		"status":      result.Status,
	})
	s.writeJSON(w, http.StatusOK, result)
}

// uploadMemoryLimit bounds how much of a multipart body stays in memory
// before spilling to disk.
const uploadMemoryLimit = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		s.writeError(w, r, errdef.Wrap(errdef.CodeInvalidArgument, "invalid multipart form", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errdef.Wrap(errdef.CodeInvalidArgument, "file field is required", err))
		return
	}
	defer file.Close()

	force, _ := strconv.ParseBool(r.FormValue("force_reindex"))
	metadata := map[string]any{}
	if dt := r.FormValue("document_type"); dt != "" {
		metadata["document_type"] = dt
	}
	if mode := r.FormValue("ocr_mode"); mode != "" {
		metadata["ocr_mode"] = mode
	}

	result, err := s.cfg.Indexer.IndexUpload(r.Context(), index.Upload{
		Filename:        header.Filename,
		CustomSourceURI: r.FormValue("custom_source_uri"),
		Content:         file,
		CustomMetadata:  metadata,
		ForceReindex:    force,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "document.uploaded", map[string]any{
		"document_id": result.DocumentID,
		"source_uri":  result.SourceURI,
		"filename":    header.Filename,
	})
	s.writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Query     string         `json:"query"`
	TopK      int            `json:"top_k"`
	MinScore  float64        `json:"min_score"`
	Filters   map[string]any `json:"filters"`
	UseHybrid bool           `json:"use_hybrid"`
	Alpha     float64        `json:"alpha"`
}

type searchResponse struct {
	Results []search.Match `json:"results"`
	Count   int            `json:"count"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req searchRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	matches, err := s.cfg.Search.Search(r.Context(), search.Query{
		Query:     req.Query,
		TopK:      req.TopK,
		MinScore:  req.MinScore,
		Filters:   req.Filters,
		UseHybrid: req.UseHybrid,
		Alpha:     req.Alpha,
		Requester: s.requester(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []search.Match{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: matches, Count: len(matches)})
}

type documentsResponse struct {
	Documents []store.DocumentSummary `json:"documents"`
	Total     int                     `json:"total"`
	Limit     int                     `json:"limit"`
	Offset    int                     `json:"offset"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50)
	offset := intParam(q.Get("offset"), 0)
	docs, total, err := s.cfg.Documents.ListDocuments(r.Context(), store.ListDocumentsOptions{
		SortBy:       q.Get("sort_by"),
		SortDir:      q.Get("sort_dir"),
		SourcePrefix: q.Get("source_prefix"),
		Limit:        limit,
		Offset:       offset,
		Requester:    s.requester(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.DocumentSummary{}
	}
	s.writeJSON(w, http.StatusOK, documentsResponse{
		Documents: docs,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsDelete); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	deleted, err := s.cfg.Indexer.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "document.deleted", map[string]any{
		"document_id": id,
		"chunks":      deleted,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"document_id":    id,
		"chunks_deleted": deleted,
	})
}

type bulkDeleteRequest struct {
	Filters map[string]any `json:"filters"`
	Preview bool           `json:"preview"`
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsDelete); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req bulkDeleteRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.cfg.Indexer.BulkDelete(r.Context(), req.Filters, req.Preview)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Preview {
		s.logActivity(r, "documents.bulk_deleted", map[string]any{
			"documents": result.DocumentCount,
			"chunks":    result.ChunksDeleted,
		})
	}
	s.writeJSON(w, http.StatusOK, result)
}

type exportRequest struct {
	Filters map[string]any `json:"filters"`
}

type exportResponse struct {
	Chunks []store.Chunk `json:"chunks"`
	Count  int           `json:"count"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req exportRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	chunks, err := s.cfg.Indexer.Export(r.Context(), req.Filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []store.Chunk{}
	}
	s.writeJSON(w, http.StatusOK, exportResponse{Chunks: chunks, Count: len(chunks)})
}

type restoreRequest struct {
	Chunks []store.Chunk `json:"chunks"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req restoreRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	inserted, skipped, err := s.cfg.Indexer.Restore(r.Context(), req.Chunks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "documents.restored", map[string]any{
		"inserted": inserted,
		"skipped":  skipped,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{
		"inserted": inserted,
		"skipped":  skipped,
	})
}

func (s *Server) handleEncryptedFiles(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	files := s.cfg.Indexer.EncryptedFiles()
	if files == nil {
		files = []index.EncryptedFile{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"encrypted_files": files,
		"count":           len(files),
	})
}

// intParam parses a positive integer query parameter, falling back to def
// on anything unparseable.
func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
