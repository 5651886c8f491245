package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"docdex/internal/auth"
	"docdex/internal/errdef"
	"docdex/internal/retention"
	"docdex/internal/store"
)

type retentionRunRequest struct {
	ActivityDays        *int  `json:"activity_days"`
	QuarantineDays      *int  `json:"quarantine_days"`
	IndexingRunsDays    *int  `json:"indexing_runs_days"`
	CleanupSAMLSessions *bool `json:"cleanup_saml_sessions"`
}

func (s *Server) handleRetentionRun(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req retentionRunRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	report := s.cfg.Retention.Apply(r.Context(), retention.Overrides{
		ActivityDays:        req.ActivityDays,
		QuarantineDays:      req.QuarantineDays,
		IndexingRunsDays:    req.IndexingRunsDays,
		CleanupSAMLSessions: req.CleanupSAMLSessions,
	})
	s.logActivity(r, "retention.applied", map[string]any{
		"ok":                    report.OK,
		"activity_deleted":      report.ActivityDeleted,
		"quarantine_purged":     report.QuarantinePurged,
		"indexing_runs_deleted": report.IndexingRunsDeleted,
	})
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRetentionPolicies(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	policies, err := s.cfg.Retention.Policies(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if policies == nil {
		policies = []store.RetentionPolicy{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"policies": policies,
		"defaults": retention.PolicyDefaults(),
	})
}

type setPolicyRequest struct {
	Category string `json:"category"`
	Days     int    `json:"days"`
}

func (s *Server) handleRetentionSetPolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setPolicyRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Retention.SetPolicy(r.Context(), req.Category, req.Days); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "retention.policy_set", map[string]any{
		"category": req.Category,
		"days":     req.Days,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50)
	offset := intParam(q.Get("offset"), 0)
	runs, total, err := s.cfg.Audit.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.IndexingRun{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleRunsSummary(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.cfg.Audit.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	run, err := s.cfg.Audit.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleQuarantineList(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50)
	offset := intParam(q.Get("offset"), 0)
	sources, total, err := s.cfg.Quarantine.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sources == nil {
		sources = []store.QuarantinedSource{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sources": sources,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) handleQuarantineStats(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.cfg.Quarantine.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type quarantineSourceRequest struct {
	SourceURI string `json:"source_uri"`
}

func (s *Server) handleQuarantineRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req quarantineSourceRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	restored, err := s.cfg.Quarantine.Restore(r.Context(), req.SourceURI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "quarantine.restored", map[string]any{
		"source_uri": req.SourceURI,
		"chunks":     restored,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{"restored": restored})
}

type quarantinePurgeRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleQuarantinePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req quarantinePurgeRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	purged, err := s.cfg.Quarantine.PurgeExpired(r.Context(), req.Days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "quarantine.purged", map[string]any{"chunks": purged})
	s.writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := store.ActivityFilter{
		Action:   q.Get("action"),
		ClientID: q.Get("client_id"),
		Limit:    intParam(q.Get("limit"), 100),
		Offset:   intParam(q.Get("offset"), 0),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, errdef.Wrap(errdef.CodeInvalidArgument, "invalid since timestamp", err))
			return
		}
		filter.Since = since
	}
	entries, total, err := s.cfg.Audit.ListActivity(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []store.ActivityEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

type registerClientRequest struct {
	ClientID    string         `json:"client_id"`
	DisplayName string         `json:"display_name"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	clientID := s.clientID(r, req.ClientID)
	if clientID == "" {
		s.writeError(w, r, errdef.New(errdef.CodeInvalidArgument, "client_id is required"))
		return
	}
	client, err := s.cfg.Clients.TouchClient(r.Context(), clientID, req.DisplayName, req.Metadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, client)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	clients, err := s.cfg.Clients.ListClients(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if clients == nil {
		clients = []store.Client{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"clients": clients,
		"count":   len(clients),
	})
}

func (s *Server) handleLicenseStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.requirePerm(r, auth.PermDocumentsRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.License.Status())
}

type createUserRequest struct {
	Email        string  `json:"email"`
	DisplayName  string  `json:"display_name"`
	Role         string  `json:"role"`
	AuthProvider string  `json:"auth_provider"`
	APIKeyID     *string `json:"api_key_id"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	bootstrapped, err := s.cfg.Users.Bootstrapped(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if bootstrapped {
		if err := s.requireAdmin(r); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var req createUserRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	create := auth.CreateUserRequest{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		AuthProvider: req.AuthProvider,
	}
	if req.APIKeyID != nil {
		keyID, err := uuid.Parse(*req.APIKeyID)
		if err != nil {
			s.writeError(w, r, errdef.Wrap(errdef.CodeInvalidArgument, "invalid api_key_id", err))
			return
		}
		create.APIKeyID = &keyID
	}
	if cid := s.clientID(r, ""); cid != "" {
		create.ClientID = &cid
	}
	user, err := s.cfg.Users.Create(r.Context(), create)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logActivity(r, "user.created", map[string]any{
		"user_id": user.ID.String(),
		"role":    user.Role,
	})
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	users, err := s.cfg.Users.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []store.User{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// complianceLimit bounds how many rows of each table land in the export.
const complianceLimit = 10000

// handleComplianceExport streams a ZIP with the audit surface of the
// instance: activity, runs, quarantine, policies, users and license.
func (s *Server) handleComplianceExport(w http.ResponseWriter, r *http.Request) {
	if err := s.requireAdmin(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()

	activity, _, err := s.cfg.Audit.ListActivity(ctx, store.ActivityFilter{Limit: complianceLimit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	runs, _, err := s.cfg.Audit.ListRuns(ctx, complianceLimit, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	quarantined, _, err := s.cfg.Quarantine.List(ctx, complianceLimit, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	policies, err := s.cfg.Retention.Policies(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	users, err := s.cfg.Users.List(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	manifest := map[string]any{
		"generated_at":   now.Format(time.RFC3339),
		"activity_rows":  len(activity),
		"run_rows":       len(runs),
		"quarantined":    len(quarantined),
		"policy_rows":    len(policies),
		"user_rows":      len(users),
		"row_limit":      complianceLimit,
		"format_version": 1,
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="compliance-export-%s.zip"`, now.Format("20060102-150405")))
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	entries := []struct {
		name string
		data any
	}{
		{"manifest.json", manifest},
		{"activity.json", activity},
		{"indexing_runs.json", runs},
		{"quarantine.json", quarantined},
		{"retention_policies.json", policies},
		{"users.json", users},
		{"license.json", s.cfg.License.Status()},
	}
	for _, entry := range entries {
		f, err := zw.Create(entry.name)
		if err != nil {
			s.logger.Error("compliance export entry failed", "entry", entry.name, "error", err)
			return
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entry.data); err != nil {
			s.logger.Error("compliance export encode failed", "entry", entry.name, "error", err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		s.logger.Error("compliance export close failed", "error", err)
		return
	}
	s.logActivity(r, "compliance.exported", map[string]any{"entries": len(entries)})
}
