package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"docdex/internal/auth"
	"docdex/internal/errdef"
	"docdex/internal/registry"
	"docdex/internal/scan"
	"docdex/internal/sourcekey"
	"docdex/internal/store"
)

// folderResponse is the wire shape of a watched folder.
type folderResponse struct {
	ID                   uuid.UUID      `json:"id"`
	FolderPath           string         `json:"folder_path"`
	NormalizedFolderPath string         `json:"normalized_folder_path"`
	ExecutionScope       string         `json:"execution_scope"`
	ExecutorID           *string        `json:"executor_id,omitempty"`
	RootID               uuid.UUID      `json:"root_id"`
	ScheduleCron         string         `json:"schedule_cron"`
	Enabled              bool           `json:"enabled"`
	Paused               bool           `json:"paused"`
	MaxConcurrency       int            `json:"max_concurrency"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	LastScanStartedAt    *time.Time     `json:"last_scan_started_at,omitempty"`
	LastScanCompletedAt  *time.Time     `json:"last_scan_completed_at,omitempty"`
	LastSuccessfulScanAt *time.Time     `json:"last_successful_scan_at,omitempty"`
	LastErrorAt          *time.Time     `json:"last_error_at,omitempty"`
	LastScannedAt        *time.Time     `json:"last_scanned_at,omitempty"`
	LastRunID            *uuid.UUID     `json:"last_run_id,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func toFolderResponse(f *store.WatchedFolder) folderResponse {
	return folderResponse{
		ID:                   f.ID,
		FolderPath:           f.FolderPath,
		NormalizedFolderPath: f.NormalizedFolderPath,
		ExecutionScope:       f.ExecutionScope,
		ExecutorID:           f.ExecutorID,
		RootID:               f.RootID,
		ScheduleCron:         f.ScheduleCron,
		Enabled:              f.Enabled,
		Paused:               f.Paused,
		MaxConcurrency:       f.MaxConcurrency,
		ConsecutiveFailures:  f.ConsecutiveFailures,
		LastScanStartedAt:    f.LastScanStartedAt,
		LastScanCompletedAt:  f.LastScanCompletedAt,
		LastSuccessfulScanAt: f.LastSuccessfulScanAt,
		LastErrorAt:          f.LastErrorAt,
		LastScannedAt:        f.LastScannedAt,
		LastRunID:            f.LastRunID,
		Metadata:             f.Metadata,
		CreatedAt:            f.CreatedAt,
		UpdatedAt:            f.UpdatedAt,
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errdef.Wrap(errdef.CodeInvalidArgument, "invalid id", err)
	}
	return id, nil
}

type addFolderRequest struct {
	FolderPath     string         `json:"folder_path"`
	ScheduleCron   string         `json:"schedule_cron"`
	Scope          string         `json:"scope"`
	ExecutorID     *string        `json:"executor_id"`
	Disabled       bool           `json:"disabled"`
	Paused         bool           `json:"paused"`
	MaxConcurrency int            `json:"max_concurrency"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Server) handleAddFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermScansRun); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addFolderRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	executorID := req.ExecutorID
	if executorID == nil && req.Scope == sourcekey.ScopeClient {
		// Client-scope roots default to the calling client.
		if cid := s.clientID(r, ""); cid != "" {
			executorID = &cid
		}
	}
	folder, err := s.cfg.Registry.AddFolder(r.Context(), registry.AddRequest{
		FolderPath:     req.FolderPath,
		ScheduleCron:   req.ScheduleCron,
		Scope:          req.Scope,
		ExecutorID:     executorID,
		Disabled:       req.Disabled,
		Paused:         req.Paused,
		MaxConcurrency: req.MaxConcurrency,
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "folder.added", map[string]any{
		"root_id":     folder.RootID.String(),
		"folder_path": folder.FolderPath,
		"scope":       folder.ExecutionScope,
	})
	s.writeJSON(w, http.StatusCreated, toFolderResponse(folder))
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	folders, err := s.cfg.Registry.ListFolders(r.Context(), store.ListFoldersOptions{
		Scope:       q.Get("scope"),
		ExecutorID:  q.Get("executor_id"),
		EnabledOnly: q.Get("enabled_only") == "true",
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]folderResponse, len(folders))
	for i := range folders {
		out[i] = toFolderResponse(&folders[i])
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"folders": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	folder, err := s.cfg.Registry.GetFolder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toFolderResponse(folder))
}

type updateFolderRequest struct {
	FolderPath     *string        `json:"folder_path"`
	ScheduleCron   *string        `json:"schedule_cron"`
	Enabled        *bool          `json:"enabled"`
	Paused         *bool          `json:"paused"`
	MaxConcurrency *int           `json:"max_concurrency"`
	Metadata       map[string]any `json:"metadata"`
	Scope          *string        `json:"scope"`
}

func (s *Server) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermScansRun); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateFolderRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	folder, err := s.cfg.Registry.UpdateFolder(r.Context(), id, registry.UpdatePatch{
		FolderPath:     req.FolderPath,
		ScheduleCron:   req.ScheduleCron,
		Enabled:        req.Enabled,
		Paused:         req.Paused,
		MaxConcurrency: req.MaxConcurrency,
		Metadata:       req.Metadata,
		Scope:          req.Scope,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "folder.updated", map[string]any{"root_id": folder.RootID.String()})
	s.writeJSON(w, http.StatusOK, toFolderResponse(folder))
}

func (s *Server) handleRemoveFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermScansRun); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Registry.RemoveFolder(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "folder.removed", map[string]any{"id": id.String()})
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

type scanFolderRequest struct {
	ClientID     string `json:"client_id"`
	DryRun       bool   `json:"dry_run"`
	ForceReindex bool   `json:"force_reindex"`
}

func (s *Server) handleScanFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermScansRun); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req scanFolderRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	folder, err := s.cfg.Registry.GetFolder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	clientID := s.clientID(r, req.ClientID)
	if folder.ExecutionScope == sourcekey.ScopeServer && clientID != "" {
		s.writeError(w, r, errdef.Newf(errdef.CodeNotServerScope,
			"root %s is server scope; client-attributed scans are not allowed", folder.RootID))
		return
	}

	scanReq := scan.RequestForFolder(folder, store.TriggerAPI)
	scanReq.DryRun = req.DryRun
	scanReq.ForceReindex = req.ForceReindex
	if clientID != "" {
		scanReq.ClientID = &clientID
	}
	result, err := s.cfg.Scan.Scan(r.Context(), scanReq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.DryRun {
		s.logActivity(r, "folder.scanned", map[string]any{
			"root_id": folder.RootID.String(),
			"run_id":  result.RunID.String(),
			"status":  result.Status,
		})
	}
	s.writeJSON(w, http.StatusOK, result)
}

type transitionScopeRequest struct {
	TargetScope string  `json:"target_scope"`
	ExecutorID  *string `json:"executor_id"`
}

func (s *Server) handleTransitionScope(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermScansRun); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req transitionScopeRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	folder, err := s.cfg.Registry.TransitionScope(r.Context(), id, req.TargetScope, req.ExecutorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "folder.scope_transitioned", map[string]any{
		"root_id": folder.RootID.String(),
		"scope":   folder.ExecutionScope,
	})
	s.writeJSON(w, http.StatusOK, toFolderResponse(folder))
}
