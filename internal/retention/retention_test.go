package retention

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docdex/internal/config"
	"docdex/internal/errdef"
	"docdex/internal/store"
)

// ---------- fakes ----------

type fakePruner struct {
	activityDays int
	runsDays     int
	activityN    int64
	runsN        int64
	activityErr  error
	runsErr      error
}

func (f *fakePruner) ApplyActivityRetention(_ context.Context, days int) (int64, error) {
	f.activityDays = days
	return f.activityN, f.activityErr
}

func (f *fakePruner) ApplyRunsRetention(_ context.Context, days int) (int64, error) {
	f.runsDays = days
	return f.runsN, f.runsErr
}

type fakePurger struct {
	days int
	n    int64
	err  error
}

func (f *fakePurger) PurgeExpired(_ context.Context, overrideDays int) (int64, error) {
	f.days = overrideDays
	return f.n, f.err
}

type fakeSessions struct {
	called bool
	n      int64
	err    error
}

func (f *fakeSessions) DeleteExpiredSAMLSessions(context.Context) (int64, error) {
	f.called = true
	return f.n, f.err
}

type fakePolicies struct {
	rows    []store.RetentionPolicy
	listErr error
	upserts map[string]int
}

func (f *fakePolicies) ListRetentionPolicies(context.Context) ([]store.RetentionPolicy, error) {
	return f.rows, f.listErr
}

func (f *fakePolicies) UpsertRetentionPolicy(_ context.Context, category string, days int) error {
	if f.upserts == nil {
		f.upserts = map[string]int{}
	}
	f.upserts[category] = days
	return nil
}

// ---------- helpers ----------

type testRetention struct {
	orch     *Orchestrator
	pruner   *fakePruner
	purger   *fakePurger
	sessions *fakeSessions
	policies *fakePolicies
}

func newTestRetention(t *testing.T) *testRetention {
	t.Helper()
	clearRetentionEnv(t)
	pruner := &fakePruner{activityN: 10, runsN: 3}
	purger := &fakePurger{n: 5}
	sessions := &fakeSessions{n: 2}
	policies := &fakePolicies{}
	orch, err := New(Config{
		Audit:      pruner,
		Quarantine: purger,
		Sessions:   sessions,
		Policies:   policies,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testRetention{orch: orch, pruner: pruner, purger: purger, sessions: sessions, policies: policies}
}

// clearRetentionEnv blanks the retention env vars so the process environment
// cannot leak into precedence tests.
func clearRetentionEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ACTIVITY_RETENTION_DAYS", "")
	t.Setenv("QUARANTINE_RETENTION_DAYS", "")
	t.Setenv("INDEXING_RUNS_RETENTION_DAYS", "")
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

// ---------- tests ----------

func TestApplyUsesDefaultWindows(t *testing.T) {
	tr := newTestRetention(t)

	report := tr.orch.Apply(context.Background(), Overrides{})

	if !report.OK {
		t.Fatalf("expected ok report, got errors %v", report.Errors)
	}
	if tr.pruner.activityDays != config.DefaultActivityRetentionDays {
		t.Errorf("activity days = %d, want %d", tr.pruner.activityDays, config.DefaultActivityRetentionDays)
	}
	if tr.purger.days != config.DefaultQuarantineRetentionDays {
		t.Errorf("quarantine days = %d, want %d", tr.purger.days, config.DefaultQuarantineRetentionDays)
	}
	if tr.pruner.runsDays != config.DefaultIndexingRunsRetentionDays {
		t.Errorf("runs days = %d, want %d", tr.pruner.runsDays, config.DefaultIndexingRunsRetentionDays)
	}
	if !tr.sessions.called {
		t.Error("expected SAML session cleanup to run by default")
	}
	if report.ActivityDeleted != 10 || report.QuarantinePurged != 5 ||
		report.IndexingRunsDeleted != 3 || report.SAMLSessionsDeleted != 2 {
		t.Errorf("unexpected counters in report: %+v", report)
	}
}

func TestApplyHonorsOverrides(t *testing.T) {
	tr := newTestRetention(t)

	report := tr.orch.Apply(context.Background(), Overrides{
		ActivityDays:        intPtr(90),
		QuarantineDays:      intPtr(7),
		IndexingRunsDays:    intPtr(365),
		CleanupSAMLSessions: boolPtr(false),
	})

	if tr.pruner.activityDays != 90 || tr.purger.days != 7 || tr.pruner.runsDays != 365 {
		t.Errorf("override days not applied: activity=%d quarantine=%d runs=%d",
			tr.pruner.activityDays, tr.purger.days, tr.pruner.runsDays)
	}
	if tr.sessions.called {
		t.Error("session cleanup ran despite cleanup_saml_sessions=false")
	}
	if report.SAMLSessionsDeleted != 0 {
		t.Errorf("sessions deleted = %d, want 0", report.SAMLSessionsDeleted)
	}
}

func TestApplyContinuesPastFailingCategory(t *testing.T) {
	tr := newTestRetention(t)
	tr.pruner.activityErr = errors.New("activity table on fire")

	report := tr.orch.Apply(context.Background(), Overrides{})

	if report.OK {
		t.Fatal("expected ok=false after a category failure")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "activity") {
		t.Errorf("errors = %v, want one activity entry", report.Errors)
	}
	// Later categories still ran and reported their counts.
	if report.QuarantinePurged != 5 || report.IndexingRunsDeleted != 3 || report.SAMLSessionsDeleted != 2 {
		t.Errorf("later categories skipped: %+v", report)
	}
	if report.ActivityDeleted != 0 {
		t.Errorf("activity deleted = %d, want 0 on failure", report.ActivityDeleted)
	}
}

func TestApplyStoredPolicyBeatsConstant(t *testing.T) {
	tr := newTestRetention(t)
	tr.policies.rows = []store.RetentionPolicy{{Category: CategoryQuarantine, Days: 7}}

	tr.orch.Apply(context.Background(), Overrides{})

	if tr.purger.days != 7 {
		t.Errorf("quarantine days = %d, want stored policy 7", tr.purger.days)
	}
	if tr.pruner.activityDays != config.DefaultActivityRetentionDays {
		t.Errorf("activity days = %d, want default", tr.pruner.activityDays)
	}
}

func TestApplyEnvBeatsStoredPolicy(t *testing.T) {
	tr := newTestRetention(t)
	tr.policies.rows = []store.RetentionPolicy{{Category: CategoryQuarantine, Days: 7}}
	t.Setenv("QUARANTINE_RETENTION_DAYS", "14")

	tr.orch.Apply(context.Background(), Overrides{})

	if tr.purger.days != 14 {
		t.Errorf("quarantine days = %d, want env value 14", tr.purger.days)
	}
}

func TestPolicyDefaultsReadEnvironment(t *testing.T) {
	clearRetentionEnv(t)
	t.Setenv("ACTIVITY_RETENTION_DAYS", "100")

	p := PolicyDefaults()

	if p.ActivityDays != 100 {
		t.Errorf("activity days = %d, want 100", p.ActivityDays)
	}
	if p.QuarantineDays != config.DefaultQuarantineRetentionDays {
		t.Errorf("quarantine days = %d, want default", p.QuarantineDays)
	}
}

func TestSetPolicyValidation(t *testing.T) {
	tr := newTestRetention(t)
	ctx := context.Background()

	if err := tr.orch.SetPolicy(ctx, "bogus", 10); !errdef.IsCode(err, errdef.CodeInvalidArgument) {
		t.Errorf("unknown category error = %v, want INVALID_ARGUMENT", err)
	}
	if err := tr.orch.SetPolicy(ctx, CategoryActivity, 0); !errdef.IsCode(err, errdef.CodeInvalidArgument) {
		t.Errorf("zero days error = %v, want INVALID_ARGUMENT", err)
	}
	if err := tr.orch.SetPolicy(ctx, CategoryActivity, 30); err != nil {
		t.Fatalf("valid SetPolicy: %v", err)
	}
	if tr.policies.upserts[CategoryActivity] != 30 {
		t.Errorf("upserts = %v, want activity=30", tr.policies.upserts)
	}
}
