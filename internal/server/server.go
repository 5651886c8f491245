// Package server exposes the REST API.
//
// Routes are versioned under /api/v1 and mounted again at the root for
// older clients; the legacy mount answers with RFC 8594 deprecation
// headers. Authentication is an X-API-Key header unless the caller is on
// loopback or auth is disabled. Domain errors become JSON envelopes
// through a single code-to-status table.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"docdex/internal/auth"
	"docdex/internal/index"
	"docdex/internal/locks"
	"docdex/internal/logging"
	"docdex/internal/registry"
	"docdex/internal/retention"
	"docdex/internal/scan"
	"docdex/internal/scheduler"
	"docdex/internal/search"
	"docdex/internal/store"

	"github.com/google/uuid"
)

// Indexer is the document pipeline surface.
type Indexer interface {
	IndexDocument(ctx context.Context, req index.Request) (*index.Result, error)
	IndexUpload(ctx context.Context, up index.Upload) (*index.Result, error)
	Delete(ctx context.Context, documentID string) (int64, error)
	BulkDelete(ctx context.Context, filters map[string]any, preview bool) (*index.BulkDeleteResult, error)
	Export(ctx context.Context, filters map[string]any) ([]store.Chunk, error)
	Restore(ctx context.Context, chunks []store.Chunk) (inserted, skipped int, err error)
	EncryptedFiles() []index.EncryptedFile
}

// Searcher answers similarity queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Match, error)
}

// DocumentLister serves the grouped document listing.
type DocumentLister interface {
	ListDocuments(ctx context.Context, opts store.ListDocumentsOptions) ([]store.DocumentSummary, int, error)
}

// LockService is the document lock contract.
type LockService interface {
	Acquire(ctx context.Context, req locks.AcquireRequest) (*store.LockOutcome, error)
	Release(ctx context.Context, sourceURI, clientID string, rootID *uuid.UUID, relativePath *string) error
	ForceRelease(ctx context.Context, sourceURI string, rootID *uuid.UUID, relativePath *string) error
	Check(ctx context.Context, sourceURI string, rootID *uuid.UUID, relativePath *string) (*store.DocumentLock, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// RegistryService manages watched folders.
type RegistryService interface {
	AddFolder(ctx context.Context, req registry.AddRequest) (*store.WatchedFolder, error)
	UpdateFolder(ctx context.Context, id uuid.UUID, patch registry.UpdatePatch) (*store.WatchedFolder, error)
	TransitionScope(ctx context.Context, id uuid.UUID, targetScope string, executorID *string) (*store.WatchedFolder, error)
	GetFolder(ctx context.Context, id uuid.UUID) (*store.WatchedFolder, error)
	ListFolders(ctx context.Context, opts store.ListFoldersOptions) ([]store.WatchedFolder, error)
	RemoveFolder(ctx context.Context, id uuid.UUID) error
}

// ScanService runs filesystem scans.
type ScanService interface {
	Scan(ctx context.Context, req scan.Request) (*scan.Result, error)
}

// SchedulerService is the admin surface of the background scheduler.
type SchedulerService interface {
	Status() scheduler.Status
	Pause(ctx context.Context, rootID uuid.UUID) (*store.WatchedFolder, error)
	Resume(ctx context.Context, rootID uuid.UUID) (*store.WatchedFolder, error)
	ScanNow(ctx context.Context, rootID uuid.UUID) (*scan.Result, error)
}

// RetentionService applies retention sweeps on demand.
type RetentionService interface {
	Apply(ctx context.Context, ov retention.Overrides) *retention.Report
	SetPolicy(ctx context.Context, category string, days int) error
	Policies(ctx context.Context) ([]store.RetentionPolicy, error)
}

// AuditService reads runs and the activity log.
type AuditService interface {
	GetRun(ctx context.Context, id uuid.UUID) (*store.IndexingRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]store.IndexingRun, int, error)
	Summary(ctx context.Context) (*store.RunSummary, error)
	Log(ctx context.Context, e store.ActivityEntry) error
	ListActivity(ctx context.Context, f store.ActivityFilter) ([]store.ActivityEntry, int, error)
}

// QuarantineService is the quarantine admin surface.
type QuarantineService interface {
	Quarantine(ctx context.Context, sourceURI, reason string) (int64, error)
	Restore(ctx context.Context, sourceURI string) (int64, error)
	PurgeExpired(ctx context.Context, overrideDays int) (int64, error)
	Stats(ctx context.Context) (store.QuarantineStats, error)
	List(ctx context.Context, limit, offset int) ([]store.QuarantinedSource, int, error)
}

// VirtualRootStore persists virtual root mappings.
type VirtualRootStore interface {
	UpsertVirtualRoot(ctx context.Context, name, localPath, clientID string) (*store.VirtualRoot, error)
	GetVirtualRoot(ctx context.Context, name, clientID string) (*store.VirtualRoot, error)
	ListVirtualRoots(ctx context.Context, clientID string) ([]store.VirtualRoot, error)
	DeleteVirtualRoot(ctx context.Context, id uuid.UUID) error
}

// ClientRegistry tracks desktop instances.
type ClientRegistry interface {
	TouchClient(ctx context.Context, id, displayName string, metadata map[string]any) (*store.Client, error)
	GetClient(ctx context.Context, id string) (*store.Client, error)
	ListClients(ctx context.Context) ([]store.Client, error)
}

// KeyVerifier authenticates presented API keys.
type KeyVerifier interface {
	Verify(ctx context.Context, presented string) (*store.APIKey, error)
}

// UserService manages user records.
type UserService interface {
	Create(ctx context.Context, req auth.CreateUserRequest) (*store.User, error)
	List(ctx context.Context) ([]store.User, error)
	ResolveKey(ctx context.Context, apiKeyID uuid.UUID) (*store.User, error)
	Bootstrapped(ctx context.Context) (bool, error)
}

// Config wires the server.
type Config struct {
	Indexer    Indexer
	Search     Searcher
	Documents  DocumentLister
	Locks      LockService
	Registry   RegistryService
	Scan       ScanService
	Scheduler  SchedulerService
	Retention  RetentionService
	Audit      AuditService
	Quarantine QuarantineService
	VRoots     VirtualRootStore
	Clients    ClientRegistry

	Keys    KeyVerifier
	Users   UserService
	Roles   *auth.Roles
	License *auth.License

	RequireAuth bool
	DemoMode    bool

	// RateLimitRPS caps per-IP request rate; zero keeps the default.
	RateLimitRPS   float64
	RateLimitBurst int

	// Ready reports backend readiness; typically a pool ping.
	Ready func(ctx context.Context) error

	Logger *slog.Logger
}

// Server is the REST API server.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rateLimiter

	mu       sync.Mutex
	httpSrv  *http.Server
	inFlight sync.WaitGroup
	draining atomic.Bool
}

// New builds the server and its router.
func New(cfg Config) *Server {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 30
	}
	s := &Server{
		cfg:     cfg,
		logger:  logging.Default(cfg.Logger).With("component", "server"),
		limiter: newRateLimiter(rate.Limit(rps), burst),
	}
	s.limiter.startCleanup(time.Minute, 10*time.Minute)
	registerLeaseGauge(cfg.Scheduler)
	return s
}

// Handler assembles the full router. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.trackingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(gzipMiddleware)

	// Operational endpoints stay outside authentication.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	api := s.apiRouter()
	r.Mount("/api/v1", api)
	// Legacy mount for clients that predate versioned paths.
	r.Mount("/", deprecationMiddleware(api))

	return r
}

// apiRouter builds the versioned API surface.
func (s *Server) apiRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.authMiddleware)
	r.Use(s.demoMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Post("/index", s.handleIndex)
	r.Post("/upload-and-index", s.handleUpload)
	r.Post("/search", s.handleSearch)

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Get("/encrypted", s.handleEncryptedFiles)
		r.Post("/bulk-delete", s.handleBulkDelete)
		r.Post("/export", s.handleExport)
		r.Post("/restore", s.handleRestore)
		r.Route("/locks", func(r chi.Router) {
			r.Post("/acquire", s.handleLockAcquire)
			r.Post("/release", s.handleLockRelease)
			r.Post("/force-release", s.handleLockForceRelease)
			r.Post("/check", s.handleLockCheck)
			r.Post("/cleanup", s.handleLockCleanup)
		})
		r.Delete("/{id}", s.handleDeleteDocument)
	})

	r.Route("/watched-folders", func(r chi.Router) {
		r.Get("/", s.handleListFolders)
		r.Post("/", s.handleAddFolder)
		r.Get("/{id}", s.handleGetFolder)
		r.Put("/{id}", s.handleUpdateFolder)
		r.Delete("/{id}", s.handleRemoveFolder)
		r.Post("/{id}/scan", s.handleScanFolder)
		r.Post("/{id}/transition-scope", s.handleTransitionScope)
	})

	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", s.handleSchedulerStatus)
		r.Post("/pause", s.handleSchedulerPause)
		r.Post("/resume", s.handleSchedulerResume)
		r.Post("/scan-now", s.handleSchedulerScanNow)
	})

	r.Route("/retention", func(r chi.Router) {
		r.Post("/run", s.handleRetentionRun)
		r.Get("/policies", s.handleRetentionPolicies)
		r.Put("/policies", s.handleRetentionSetPolicy)
	})

	r.Route("/indexing/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/summary", s.handleRunsSummary)
		r.Get("/{id}", s.handleGetRun)
	})

	r.Route("/quarantine", func(r chi.Router) {
		r.Get("/", s.handleQuarantineList)
		r.Get("/stats", s.handleQuarantineStats)
		r.Post("/restore", s.handleQuarantineRestore)
		r.Post("/purge", s.handleQuarantinePurge)
	})

	r.Route("/virtual-roots", func(r chi.Router) {
		r.Get("/", s.handleListVRoots)
		r.Post("/", s.handleUpsertVRoot)
		r.Get("/resolve", s.handleResolveVRoot)
		r.Delete("/{id}", s.handleDeleteVRoot)
	})

	r.Get("/activity", s.handleListActivity)

	r.Route("/clients", func(r chi.Router) {
		r.Get("/", s.handleListClients)
		r.Post("/register", s.handleRegisterClient)
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleCreateUser)
	})

	r.Get("/license", s.handleLicenseStatus)
	r.Get("/compliance/export", s.handleComplianceExport)

	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// trackingMiddleware counts in-flight requests so Stop can drain them.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

// Serve blocks until the listener closes.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("server starting", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeTCP listens on addr and serves.
func (s *Server) ServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Stop drains in-flight requests, then shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.limiter.stopCleanup()

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("draining in-flight requests")
	s.draining.Store(true)
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("drain complete")
	case <-ctx.Done():
		s.logger.Warn("drain cut short", "error", ctx.Err())
	}
	return srv.Shutdown(ctx)
}
