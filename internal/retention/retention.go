// Package retention ages out activity entries, terminal indexing runs,
// quarantined chunks and dead SAML sessions. It runs as its own background
// loop, independent of the scan scheduler, and can be invoked on demand with
// per-category overrides.
//
// Effective window per category: explicit override, then environment, then
// the persisted policy row, then the code constant.
package retention

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"docdex/internal/config"
	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/store"
)

// Retention categories, also the keys of the retention_policies table.
const (
	CategoryActivity     = "activity"
	CategoryQuarantine   = "quarantine"
	CategoryIndexingRuns = "indexing_runs"
)

const sweepJobName = "retention:sweep"

// Pruner is the audit surface: age-based deletes for activity and runs.
type Pruner interface {
	ApplyActivityRetention(ctx context.Context, days int) (int64, error)
	ApplyRunsRetention(ctx context.Context, days int) (int64, error)
}

// Purger hard-deletes quarantined chunks past their window.
type Purger interface {
	PurgeExpired(ctx context.Context, overrideDays int) (int64, error)
}

// SessionCleaner removes expired or deactivated SAML sessions.
type SessionCleaner interface {
	DeleteExpiredSAMLSessions(ctx context.Context) (int64, error)
}

// PolicyStore persists per-category day overrides.
type PolicyStore interface {
	ListRetentionPolicies(ctx context.Context) ([]store.RetentionPolicy, error)
	UpsertRetentionPolicy(ctx context.Context, category string, days int) error
}

// Policy is the set of effective retention windows in days.
type Policy struct {
	ActivityDays     int `json:"activity_days"`
	QuarantineDays   int `json:"quarantine_days"`
	IndexingRunsDays int `json:"indexing_runs_days"`
}

// PolicyDefaults resolves each category from the environment, falling back
// to the code constants.
func PolicyDefaults() Policy {
	return Policy{
		ActivityDays:     envDays("ACTIVITY_RETENTION_DAYS", config.DefaultActivityRetentionDays),
		QuarantineDays:   envDays("QUARANTINE_RETENTION_DAYS", config.DefaultQuarantineRetentionDays),
		IndexingRunsDays: envDays("INDEXING_RUNS_RETENTION_DAYS", config.DefaultIndexingRunsRetentionDays),
	}
}

func envDays(key string, def int) int {
	if n, ok := envInt(key); ok {
		return n
	}
	return def
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Overrides narrow one Apply call. Nil fields use the resolved policy;
// CleanupSAMLSessions defaults to true.
type Overrides struct {
	ActivityDays        *int  `json:"activity_days,omitempty"`
	QuarantineDays      *int  `json:"quarantine_days,omitempty"`
	IndexingRunsDays    *int  `json:"indexing_runs_days,omitempty"`
	CleanupSAMLSessions *bool `json:"cleanup_saml_sessions,omitempty"`
}

// Report is the outcome of one sweep. A failed category flips OK to false
// and appends to Errors; later categories still run.
type Report struct {
	OK                  bool     `json:"ok"`
	Policy              Policy   `json:"policy"`
	ActivityDeleted     int64    `json:"activity_deleted"`
	QuarantinePurged    int64    `json:"quarantine_purged"`
	IndexingRunsDeleted int64    `json:"indexing_runs_deleted"`
	SAMLSessionsDeleted int64    `json:"saml_sessions_deleted"`
	Errors              []string `json:"errors,omitempty"`
}

// Config wires the orchestrator.
type Config struct {
	Enabled  bool
	Interval time.Duration

	Audit      Pruner
	Quarantine Purger
	Sessions   SessionCleaner
	Policies   PolicyStore

	Logger *slog.Logger
}

// Orchestrator owns the retention loop.
type Orchestrator struct {
	enabled  bool
	interval time.Duration

	audit      Pruner
	quarantine Purger
	sessions   SessionCleaner
	policies   PolicyStore
	logger     *slog.Logger

	sched gocron.Scheduler
}

func New(cfg Config) (*Orchestrator, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeServiceInitFailed, "create retention scheduler", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Orchestrator{
		enabled:    cfg.Enabled,
		interval:   cfg.Interval,
		audit:      cfg.Audit,
		quarantine: cfg.Quarantine,
		sessions:   cfg.Sessions,
		policies:   cfg.Policies,
		logger:     logging.Default(cfg.Logger).With("component", "retention"),
		sched:      sched,
	}, nil
}

// Start registers the periodic sweep. Disabled orchestrators still serve
// on-demand Apply calls.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.enabled {
		o.logger.Info("retention loop disabled")
		return nil
	}
	_, err := o.sched.NewJob(
		gocron.DurationJob(o.interval),
		gocron.NewTask(func() { o.sweep(ctx) }),
		gocron.WithName(sweepJobName),
	)
	if err != nil {
		return errdef.Wrap(errdef.CodeServiceInitFailed, "register retention sweep", err)
	}
	o.sched.Start()
	o.logger.Info("retention loop started", "interval", o.interval)
	return nil
}

// Stop shuts the loop down, waiting for a sweep in flight.
func (o *Orchestrator) Stop() error {
	return o.sched.Shutdown()
}

func (o *Orchestrator) sweep(ctx context.Context) {
	report := o.Apply(ctx, Overrides{})
	if !report.OK {
		o.logger.Error("retention sweep finished with errors", "errors", report.Errors)
		return
	}
	o.logger.Info("retention sweep finished",
		"activity_deleted", report.ActivityDeleted,
		"quarantine_purged", report.QuarantinePurged,
		"runs_deleted", report.IndexingRunsDeleted,
		"sessions_deleted", report.SAMLSessionsDeleted)
}

// Apply runs every retention category once. Each failure is recorded and
// the next category still runs, so one broken table never blocks the rest.
func (o *Orchestrator) Apply(ctx context.Context, ov Overrides) *Report {
	policy := o.effectivePolicy(ctx, ov)
	report := &Report{OK: true, Policy: policy}

	if n, err := o.audit.ApplyActivityRetention(ctx, policy.ActivityDays); err != nil {
		report.fail("activity", err)
	} else {
		report.ActivityDeleted = n
	}
	if n, err := o.quarantine.PurgeExpired(ctx, policy.QuarantineDays); err != nil {
		report.fail("quarantine", err)
	} else {
		report.QuarantinePurged = n
	}
	if n, err := o.audit.ApplyRunsRetention(ctx, policy.IndexingRunsDays); err != nil {
		report.fail("indexing_runs", err)
	} else {
		report.IndexingRunsDeleted = n
	}
	if ov.CleanupSAMLSessions == nil || *ov.CleanupSAMLSessions {
		if n, err := o.sessions.DeleteExpiredSAMLSessions(ctx); err != nil {
			report.fail("saml_sessions", err)
		} else {
			report.SAMLSessionsDeleted = n
		}
	}
	return report
}

func (r *Report) fail(category string, err error) {
	r.OK = false
	r.Errors = append(r.Errors, category+": "+err.Error())
}

// effectivePolicy resolves the windows for one sweep: override argument,
// then environment, then stored policy row, then constant.
func (o *Orchestrator) effectivePolicy(ctx context.Context, ov Overrides) Policy {
	stored := map[string]int{}
	if o.policies != nil {
		rows, err := o.policies.ListRetentionPolicies(ctx)
		if err != nil {
			o.logger.Warn("read stored retention policies", "error", err)
		}
		for _, p := range rows {
			stored[p.Category] = p.Days
		}
	}

	resolve := func(override *int, envKey, category string, def int) int {
		if override != nil && *override > 0 {
			return *override
		}
		if n, ok := envInt(envKey); ok {
			return n
		}
		if n, ok := stored[category]; ok && n > 0 {
			return n
		}
		return def
	}

	return Policy{
		ActivityDays: resolve(ov.ActivityDays, "ACTIVITY_RETENTION_DAYS",
			CategoryActivity, config.DefaultActivityRetentionDays),
		QuarantineDays: resolve(ov.QuarantineDays, "QUARANTINE_RETENTION_DAYS",
			CategoryQuarantine, config.DefaultQuarantineRetentionDays),
		IndexingRunsDays: resolve(ov.IndexingRunsDays, "INDEXING_RUNS_RETENTION_DAYS",
			CategoryIndexingRuns, config.DefaultIndexingRunsRetentionDays),
	}
}

// SetPolicy persists a per-category override used by later sweeps.
func (o *Orchestrator) SetPolicy(ctx context.Context, category string, days int) error {
	switch category {
	case CategoryActivity, CategoryQuarantine, CategoryIndexingRuns:
	default:
		return errdef.Newf(errdef.CodeInvalidArgument, "unknown retention category %q", category)
	}
	if days <= 0 {
		return errdef.New(errdef.CodeInvalidArgument, "retention days must be positive")
	}
	if o.policies == nil {
		return errdef.New(errdef.CodeNotImplemented, "policy persistence not configured")
	}
	if err := o.policies.UpsertRetentionPolicy(ctx, category, days); err != nil {
		return errdef.Wrap(errdef.CodeDBQuery, "persist retention policy", err)
	}
	o.logger.Info("retention policy updated", "category", category, "days", days)
	return nil
}

// Policies returns the persisted overrides.
func (o *Orchestrator) Policies(ctx context.Context) ([]store.RetentionPolicy, error) {
	if o.policies == nil {
		return nil, nil
	}
	rows, err := o.policies.ListRetentionPolicies(ctx)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "list retention policies", err)
	}
	return rows, nil
}
