// Command docdex runs the document indexing service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docdex/cmd/docdex/cli"
	"docdex/internal/audit"
	"docdex/internal/auth"
	"docdex/internal/config"
	"docdex/internal/embedding"
	"docdex/internal/index"
	"docdex/internal/locks"
	"docdex/internal/logging"
	"docdex/internal/processor"
	"docdex/internal/quarantine"
	"docdex/internal/registry"
	"docdex/internal/retention"
	"docdex/internal/scan"
	"docdex/internal/scheduler"
	"docdex/internal/search"
	"docdex/internal/server"
	"docdex/internal/store"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "docdex",
		Short: "Document indexing and semantic search service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(envFile)
		},
	}

	rootCmd.PersistentFlags().String("env-file", "", "env file to load before reading configuration (default: .env if present)")

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the docdex service",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			pprofAddr, _ := cmd.Flags().GetString("pprof")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			logger := newLogger(cfg)

			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						logger.Error("pprof server error", "error", err)
					}
				}()
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, logger, cfg)
		},
	}

	serverCmd.Flags().String("addr", "", "listen address (host:port), overrides LISTEN_ADDR")
	serverCmd.Flags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060). WARNING: exposes CPU/memory profiles and goroutine dumps; bind to loopback only, never expose publicly")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serverCmd, versionCmd, cli.NewKeysCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	// Open the database and bring the schema current. Concurrent replicas
	// serialize on an advisory lock inside Migrate.
	st, err := store.Open(ctx, store.Config{
		URL:              cfg.DatabaseURL,
		ConnectTimeout:   cfg.DBConnectTimeout,
		StatementTimeout: cfg.DBStatementTimeout,
		MaxConns:         cfg.DBPoolMaxConns,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Embedding provider. The vector width it produces must match the
	// schema's column width, so fail fast when they disagree.
	emb, err := embedding.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	if err := st.VerifyEmbeddingDimension(ctx, emb.Dimension()); err != nil {
		return err
	}
	logger.Info("embedding provider ready", "model", emb.Model(), "dimension", emb.Dimension())

	// Document pipeline.
	proc := processor.New(logger)
	indexer := index.New(proc, emb, st, logger)
	searcher := search.New(emb, st, logger)

	// Domain services.
	lockSvc := locks.New(st, logger)
	quarSvc := quarantine.New(st, cfg.QuarantineRetentionDays, logger)
	regSvc := registry.New(st, logger)
	auditRec := audit.New(st, logger)

	scanner := scan.New(scan.Config{
		Indexer:      indexer,
		Locks:        lockSvc,
		Quarantine:   quarSvc,
		Runs:         auditRec,
		Keys:         st,
		Supported:    proc.Supported,
		ExcludeGlobs: cfg.ScanExcludeGlobs,
		Logger:       logger,
	})

	// Background loops. The scheduler is lease-gated so every replica can
	// run it; only the lease holder scans.
	sched, err := scheduler.New(scheduler.Config{
		Enabled:        cfg.ServerSchedulerEnabled,
		PollInterval:   cfg.SchedulerPollInterval,
		FailureBackoff: cfg.FailureBackoff,
		Leaser:         scheduler.StoreLeaser{Store: st, Key: store.LeaseKey(scheduler.LeaseName)},
		Registry:       regSvc,
		Scanner:        scanner,
		Quarantine:     quarSvc,
		Audit:          auditRec,
		Locks:          lockSvc,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	ret, err := retention.New(retention.Config{
		Enabled:    cfg.RetentionEnabled,
		Interval:   cfg.RetentionInterval,
		Audit:      auditRec,
		Quarantine: quarSvc,
		Sessions:   st,
		Policies:   st,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := ret.Start(ctx); err != nil {
		return err
	}

	// Identity surface.
	keySvc := auth.NewKeyService(st, cfg.APIKeyPrefix, logger)
	roles := auth.DefaultRoles(st, cfg.RolesFile, logger)
	license := auth.NewLicense(cfg.LicenseKey, cfg.LicenseSigningSecret, cfg.LicenseRevokedIDs)
	users := auth.NewUsers(auth.UsersConfig{
		Store:   st,
		Roles:   roles,
		License: license,
		Logger:  logger,
	})

	srv := server.New(server.Config{
		Indexer:     indexer,
		Search:      searcher,
		Documents:   st,
		Locks:       lockSvc,
		Registry:    regSvc,
		Scan:        scanner,
		Scheduler:   sched,
		Retention:   ret,
		Audit:       auditRec,
		Quarantine:  quarSvc,
		VRoots:      st,
		Clients:     st,
		Keys:        keySvc,
		Users:       users,
		Roles:       roles,
		License:     license,
		RequireAuth: cfg.APIRequireAuth,
		DemoMode:    cfg.DemoMode,
		Ready:       st.Ping,
		Logger:      logger,
	})

	var serverWg sync.WaitGroup
	serverWg.Add(1)
	go func() {
		defer serverWg.Done()
		if err := srv.ServeTCP(cfg.ListenAddr); err != nil {
			logger.Error("server error", "error", err)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()

	// Drain HTTP first so no new work arrives, then stop the loops.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("stopping server")
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	serverWg.Wait()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	if err := ret.Stop(); err != nil {
		logger.Error("retention stop error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newLogger builds the base logger from config. The base handler passes all
// levels; enforcement happens in the component filter so one subsystem can
// run at debug without drowning the rest. Everything downstream receives the
// logger by injection.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var base slog.Handler
	if cfg.LogFormat == "json" {
		base = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		base = slog.NewTextHandler(os.Stderr, opts)
	}
	filter := logging.NewComponentFilterHandler(base, logging.ParseLevel(cfg.LogLevel))
	for component, level := range cfg.LogComponentLevels {
		filter.SetLevel(component, logging.ParseLevel(level))
	}
	return slog.New(filter)
}

// loadEnvFile loads environment overrides. An explicit path must exist; the
// default .env is optional.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	_ = godotenv.Load()
	return nil
}
