package server

import (
	"net/http"

	"github.com/google/uuid"

	"docdex/internal/auth"
	"docdex/internal/errdef"
)

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.cfg.Scheduler == nil {
		s.writeError(w, r, errdef.New(errdef.CodeNotImplemented, "scheduler is not configured"))
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Scheduler.Status())
}

type schedulerTarget struct {
	RootID string `json:"root_id"`
}

func (st *schedulerTarget) parse() (uuid.UUID, error) {
	id, err := uuid.Parse(st.RootID)
	if err != nil {
		return uuid.Nil, errdef.Wrap(errdef.CodeInvalidArgument, "invalid root_id", err)
	}
	return id, nil
}

func (s *Server) schedulerMutation(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if err := s.requirePerm(r, auth.PermScansRun); err != nil {
		s.writeError(w, r, err)
		return uuid.Nil, false
	}
	if s.cfg.Scheduler == nil {
		s.writeError(w, r, errdef.New(errdef.CodeNotImplemented, "scheduler is not configured"))
		return uuid.Nil, false
	}
	var target schedulerTarget
	if err := decode(r, &target, false); err != nil {
		s.writeError(w, r, err)
		return uuid.Nil, false
	}
	id, err := target.parse()
	if err != nil {
		s.writeError(w, r, err)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleSchedulerPause(w http.ResponseWriter, r *http.Request) {
	rootID, ok := s.schedulerMutation(w, r)
	if !ok {
		return
	}
	folder, err := s.cfg.Scheduler.Pause(r.Context(), rootID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "scheduler.paused", map[string]any{"root_id": rootID.String()})
	s.writeJSON(w, http.StatusOK, toFolderResponse(folder))
}

func (s *Server) handleSchedulerResume(w http.ResponseWriter, r *http.Request) {
	rootID, ok := s.schedulerMutation(w, r)
	if !ok {
		return
	}
	folder, err := s.cfg.Scheduler.Resume(r.Context(), rootID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "scheduler.resumed", map[string]any{"root_id": rootID.String()})
	s.writeJSON(w, http.StatusOK, toFolderResponse(folder))
}

func (s *Server) handleSchedulerScanNow(w http.ResponseWriter, r *http.Request) {
	rootID, ok := s.schedulerMutation(w, r)
	if !ok {
		return
	}
	result, err := s.cfg.Scheduler.ScanNow(r.Context(), rootID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "scheduler.scan_now", map[string]any{
		"root_id": rootID.String(),
		"run_id":  result.RunID.String(),
	})
	s.writeJSON(w, http.StatusOK, result)
}
