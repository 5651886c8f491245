package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"docdex/internal/auth"
	"docdex/internal/errdef"
	"docdex/internal/store"
)

// legacySunset is when the unversioned mount stops being served.
var legacySunset = time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)

// deprecationMiddleware marks responses from the unversioned mount so
// clients can discover the /api/v1 successor before the sunset date.
func deprecationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Deprecation", "true")
		w.Header().Set("Sunset", legacySunset.Format(http.TimeFormat))
		w.Header().Set("Link", `</api/v1`+r.URL.Path+`>; rel="successor-version"`)
		next.ServeHTTP(w, r)
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// authMiddleware resolves the caller identity from X-API-Key and stashes
// it in the request context. Loopback callers pass without a key, as does
// the first user-creation request of an empty instance.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := &auth.Identity{
			ClientID: r.Header.Get("X-Client-ID"),
			Loopback: isLoopback(r.RemoteAddr),
		}

		if presented := r.Header.Get("X-API-Key"); presented != "" && s.cfg.Keys != nil {
			key, err := s.cfg.Keys.Verify(r.Context(), presented)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			id.Key = key
			if s.cfg.Users != nil {
				user, err := s.cfg.Users.ResolveKey(r.Context(), key.ID)
				if err != nil {
					s.writeError(w, r, err)
					return
				}
				id.User = user
			}
		}

		if s.cfg.RequireAuth && id.Key == nil && !id.Loopback && !s.bootstrapPass(r) {
			s.writeError(w, r, errdef.ErrUnauthorized)
			return
		}

		if id.ClientID != "" && s.cfg.Clients != nil {
			// Heartbeat only; registration details arrive via /clients/register.
			if _, err := s.cfg.Clients.TouchClient(r.Context(), id.ClientID, "", nil); err != nil {
				s.logger.Warn("client heartbeat failed", "client_id", id.ClientID, "error", err)
			}
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// bootstrapPass admits the very first user creation on an instance with
// no users yet, so an admin can be seeded over the network.
func (s *Server) bootstrapPass(r *http.Request) bool {
	if s.cfg.Users == nil || r.Method != http.MethodPost {
		return false
	}
	if !strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/users") {
		return false
	}
	done, err := s.cfg.Users.Bootstrapped(r.Context())
	if err != nil {
		s.logger.Warn("bootstrap check failed", "error", err)
		return false
	}
	return !done
}

// demoReadPaths are POST routes that only read; demo mode lets them through.
var demoReadPaths = map[string]struct{}{
	"/search":                {},
	"/documents/export":      {},
	"/documents/locks/check": {},
}

// demoMiddleware rejects mutations when the instance runs in demo mode.
func (s *Server) demoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.DemoMode {
			next.ServeHTTP(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/api/v1")
		if _, ok := demoReadPaths[strings.TrimSuffix(path, "/")]; ok {
			next.ServeHTTP(w, r)
			return
		}
		s.writeError(w, r, errdef.ErrDemoMode)
	})
}

// requirePerm enforces role permissions. Open instances skip the check,
// loopback callers without a key act as local operators, and keys not
// bound to a user get editor-level access.
func (s *Server) requirePerm(r *http.Request, perm string) error {
	if !s.cfg.RequireAuth {
		return nil
	}
	id := auth.IdentityFrom(r.Context())
	if id == nil {
		return errdef.ErrUnauthorized
	}
	if id.User != nil {
		if s.cfg.Roles != nil && s.cfg.Roles.Has(r.Context(), id.User.Role, perm) {
			return nil
		}
		return errdef.Newf(errdef.CodeForbidden, "missing permission %s", perm)
	}
	if id.Key != nil {
		if perm != auth.PermAdmin {
			return nil
		}
		return errdef.New(errdef.CodeForbidden, "administrator access required")
	}
	if id.Loopback {
		return nil
	}
	return errdef.ErrUnauthorized
}

func (s *Server) requireAdmin(r *http.Request) error {
	return s.requirePerm(r, auth.PermAdmin)
}

// requester converts the caller identity into the visibility scope used
// by search and listings.
func (s *Server) requester(r *http.Request) *store.Identity {
	id := auth.IdentityFrom(r.Context())
	if id == nil {
		if s.cfg.RequireAuth {
			return &store.Identity{}
		}
		return &store.Identity{IsAdmin: true}
	}
	return id.Requester(r.Context(), s.cfg.Roles)
}
