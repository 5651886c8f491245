package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"docdex/internal/auth"
	"docdex/internal/errdef"
	"docdex/internal/store"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// statusByCode maps registry codes to HTTP statuses. Codes missing from
// the table fall back to 500 with a generic message.
var statusByCode = map[errdef.Code]int{
	errdef.CodeInternal:            http.StatusInternalServerError,
	errdef.CodeNotImplemented:      http.StatusNotImplemented,
	errdef.CodeServiceInitializing: http.StatusServiceUnavailable,
	errdef.CodeServiceInitFailed:   http.StatusInternalServerError,
	errdef.CodeInvalidArgument:     http.StatusBadRequest,

	errdef.CodeUnauthorized:     http.StatusUnauthorized,
	errdef.CodeInvalidAPIKey:    http.StatusUnauthorized,
	errdef.CodeForbidden:        http.StatusForbidden,
	errdef.CodeDemoMode:         http.StatusForbidden,
	errdef.CodeRateLimited:      http.StatusTooManyRequests,
	errdef.CodeLicenseNotFound:  http.StatusNotFound,
	errdef.CodeLicenseExpired:   http.StatusForbidden,
	errdef.CodeLicenseInvalid:   http.StatusForbidden,
	errdef.CodeLicenseRevoked:   http.StatusForbidden,
	errdef.CodeSeatLimitReached: http.StatusForbidden,

	errdef.CodeDocumentNotFound: http.StatusNotFound,
	errdef.CodeUnsupportedFmt:   http.StatusUnsupportedMediaType,
	errdef.CodeProcessingFailed: http.StatusUnprocessableEntity,
	errdef.CodeEncryptedPDF:     http.StatusUnprocessableEntity,
	errdef.CodeSearchTimeout:    http.StatusGatewayTimeout,

	errdef.CodeDBConnection: http.StatusServiceUnavailable,
	errdef.CodeDBQuery:      http.StatusInternalServerError,

	errdef.CodeInvalidScope:         http.StatusBadRequest,
	errdef.CodePathValidationFailed: http.StatusBadRequest,
	errdef.CodeConflict:             http.StatusConflict,
	errdef.CodeNotServerScope:       http.StatusConflict,
	errdef.CodeScopeChangeForbidden: http.StatusConflict,

	errdef.CodeLockHeld:     http.StatusConflict,
	errdef.CodeLockNotFound: http.StatusNotFound,
}

// writeJSON writes v with the given status. Encoding failures are logged
// rather than surfaced; headers are already gone by then.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

// writeError maps err onto the envelope. Server-side failures keep their
// detail in the log and send a generic message to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorDetails(w, r, err, nil)
}

func (s *Server) writeErrorDetails(w http.ResponseWriter, r *http.Request, err error, details map[string]any) {
	// Store sentinels from repositories the server calls directly.
	if errdef.CodeOf(err) == errdef.CodeInternal {
		switch {
		case errors.Is(err, store.ErrNotFound):
			err = errdef.Wrap(errdef.CodeDocumentNotFound, "resource not found", err)
		case errors.Is(err, store.ErrConflict):
			err = errdef.Wrap(errdef.CodeConflict, "conflicting resource exists", err)
		}
	}

	code := errdef.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", string(code),
			"error", err,
		)
		msg = "internal error"
		if code == "" || !ok {
			code = errdef.CodeInternal
		}
	} else {
		s.logger.Debug("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"code", string(code),
			"error", err,
		)
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	s.writeJSON(w, status, errorBody{
		ErrorCode: string(code),
		Message:   msg,
		Details:   details,
	})
}

// decode reads a JSON request body into v. An empty body is allowed when
// allowEmpty is set; anything else that fails to parse becomes a 400.
func decode(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return errdef.Wrap(errdef.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}

// logActivity records an audit entry for a mutating operation; failures
// only warn, the operation itself already succeeded.
func (s *Server) logActivity(r *http.Request, action string, details map[string]any) {
	if s.cfg.Audit == nil {
		return
	}
	entry := store.ActivityEntry{
		Action:  action,
		Details: details,
	}
	if id := auth.IdentityFrom(r.Context()); id != nil {
		if id.User != nil {
			userID := id.User.ID.String()
			entry.UserID = &userID
		}
		if id.ClientID != "" {
			clientID := id.ClientID
			entry.ClientID = &clientID
		}
	}
	if err := s.cfg.Audit.Log(r.Context(), entry); err != nil {
		s.logger.Warn("activity log failed", "action", action, "error", err)
	}
}
