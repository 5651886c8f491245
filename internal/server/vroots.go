package server

import (
	"net/http"

	"docdex/internal/auth"
	"docdex/internal/errdef"
	"docdex/internal/store"
)

type upsertVRootRequest struct {
	Name      string `json:"name"`
	LocalPath string `json:"local_path"`
	ClientID  string `json:"client_id"`
}

func (s *Server) handleUpsertVRoot(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req upsertVRootRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == "" || req.LocalPath == "" {
		s.writeError(w, r, errdef.New(errdef.CodeInvalidArgument, "name and local_path are required"))
		return
	}
	clientID := s.clientID(r, req.ClientID)
	if clientID == "" {
		s.writeError(w, r, errdef.New(errdef.CodeInvalidArgument, "client_id is required"))
		return
	}
	vroot, err := s.cfg.VRoots.UpsertVirtualRoot(r.Context(), req.Name, req.LocalPath, clientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "virtual_root.upserted", map[string]any{
		"name":      vroot.Name,
		"client_id": vroot.ClientID,
	})
	s.writeJSON(w, http.StatusOK, vroot)
}

func (s *Server) handleListVRoots(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	clientID := s.clientID(r, r.URL.Query().Get("client_id"))
	vroots, err := s.cfg.VRoots.ListVirtualRoots(r.Context(), clientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if vroots == nil {
		vroots = []store.VirtualRoot{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"virtual_roots": vroots,
		"count":         len(vroots),
	})
}

// handleResolveVRoot maps a virtual root name back to the caller's local
// path, the lookup desktop clients run at startup.
func (s *Server) handleResolveVRoot(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		s.writeError(w, r, errdef.New(errdef.CodeInvalidArgument, "name is required"))
		return
	}
	clientID := s.clientID(r, q.Get("client_id"))
	if clientID == "" {
		s.writeError(w, r, errdef.New(errdef.CodeInvalidArgument, "client_id is required"))
		return
	}
	vroot, err := s.cfg.VRoots.GetVirtualRoot(r.Context(), name, clientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vroot)
}

func (s *Server) handleDeleteVRoot(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.VRoots.DeleteVirtualRoot(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "virtual_root.deleted", map[string]any{"id": id.String()})
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
