package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"docdex/internal/auth"
	"docdex/internal/errdef"
	"docdex/internal/locks"
	"docdex/internal/store"
)

type lockRequest struct {
	SourceURI    string  `json:"source_uri"`
	ClientID     string  `json:"client_id"`
	TTLSeconds   int     `json:"ttl_seconds"`
	Reason       string  `json:"reason"`
	RootID       *string `json:"root_id"`
	RelativePath *string `json:"relative_path"`
}

// lockIdentity resolves the optional (root_id, relative_path) pair.
func (req *lockRequest) lockIdentity() (*uuid.UUID, *string, error) {
	if req.RootID == nil {
		return nil, req.RelativePath, nil
	}
	id, err := uuid.Parse(*req.RootID)
	if err != nil {
		return nil, nil, errdef.Wrap(errdef.CodeInvalidArgument, "invalid root_id", err)
	}
	return &id, req.RelativePath, nil
}

// clientID prefers the body value, then the X-Client-ID identity.
func (s *Server) clientID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if id := auth.IdentityFrom(r.Context()); id != nil {
		return id.ClientID
	}
	return ""
}

// lockAcquireResponse serves both outcomes: 200 on acquire/extend, 409
// with the current holder on contention.
type lockAcquireResponse struct {
	OK        bool                `json:"ok"`
	Extended  bool                `json:"extended,omitempty"`
	Lock      *store.DocumentLock `json:"lock,omitempty"`
	ErrorCode string              `json:"error_code,omitempty"`
	Message   string              `json:"message,omitempty"`
	Holder    *store.DocumentLock `json:"holder,omitempty"`
}

func (s *Server) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req lockRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rootID, relPath, err := req.lockIdentity()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outcome, err := s.cfg.Locks.Acquire(r.Context(), locks.AcquireRequest{
		SourceURI:    req.SourceURI,
		ClientID:     s.clientID(r, req.ClientID),
		TTL:          time.Duration(req.TTLSeconds) * time.Second,
		Reason:       req.Reason,
		RootID:       rootID,
		RelativePath: relPath,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !outcome.Acquired {
		s.writeJSON(w, http.StatusConflict, lockAcquireResponse{
			OK:        false,
			ErrorCode: string(errdef.CodeLockHeld),
			Message:   errdef.ErrLockHeld.Error(),
			Holder:    outcome.Holder,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, lockAcquireResponse{
		OK:       true,
		Extended: outcome.Extended,
		Lock:     outcome.Lock,
	})
}

func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req lockRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rootID, relPath, err := req.lockIdentity()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Locks.Release(r.Context(), req.SourceURI, s.clientID(r, req.ClientID), rootID, relPath); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"released": true})
}

func (s *Server) handleLockForceRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req lockRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rootID, relPath, err := req.lockIdentity()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Locks.ForceRelease(r.Context(), req.SourceURI, rootID, relPath); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "lock.force_released", map[string]any{"source_uri": req.SourceURI})
	s.writeJSON(w, http.StatusOK, map[string]any{"released": true})
}

func (s *Server) handleLockCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req lockRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rootID, relPath, err := req.lockIdentity()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lock, err := s.cfg.Locks.Check(r.Context(), req.SourceURI, rootID, relPath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"locked": lock != nil,
		"lock":   lock,
	})
}

func (s *Server) handleLockCleanup(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	deleted, err := s.cfg.Locks.CleanupExpired(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
