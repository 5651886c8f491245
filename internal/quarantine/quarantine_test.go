package quarantine

import (
	"context"
	"testing"
	"time"

	"docdex/internal/store"
)

// ---------- fake store ----------

type fakeQuarantineStore struct {
	sources []store.SourceState

	quarantined map[string]string // source uri -> reason
	restored    []string
	purgeCutoff time.Time
}

func newFakeQuarantineStore(sources ...store.SourceState) *fakeQuarantineStore {
	return &fakeQuarantineStore{sources: sources, quarantined: map[string]string{}}
}

func (f *fakeQuarantineStore) QuarantineChunks(_ context.Context, sourceURI, reason string) (int64, error) {
	f.quarantined[sourceURI] = reason
	return 3, nil
}

func (f *fakeQuarantineStore) RestoreQuarantinedChunks(_ context.Context, sourceURI string) (int64, error) {
	f.restored = append(f.restored, sourceURI)
	return 3, nil
}

func (f *fakeQuarantineStore) PurgeQuarantinedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.purgeCutoff = cutoff
	return 12, nil
}

func (f *fakeQuarantineStore) SourcesUnderFolder(context.Context, string) ([]store.SourceState, error) {
	return f.sources, nil
}

func (f *fakeQuarantineStore) QuarantineStats(context.Context) (store.QuarantineStats, error) {
	return store.QuarantineStats{Chunks: len(f.quarantined)}, nil
}

func (f *fakeQuarantineStore) ListQuarantinedSources(context.Context, int, int) ([]store.QuarantinedSource, int, error) {
	return nil, 0, nil
}

// ---------- helpers ----------

func newTestService(fake *fakeQuarantineStore, existing ...string) *Service {
	svc := New(fake, 0, nil)
	onDisk := map[string]bool{}
	for _, p := range existing {
		onDisk[p] = true
	}
	svc.fileExists = func(path string) bool { return onDisk[path] }
	return svc
}

// ---------- tests ----------

func TestSweepQuarantinesMissing(t *testing.T) {
	fake := newFakeQuarantineStore(
		store.SourceState{SourceURI: "/data/docs/kept.md"},
		store.SourceState{SourceURI: "/data/docs/gone.md"},
	)
	svc := newTestService(fake, "/data/docs/kept.md")

	report, err := svc.SweepMissingSources(context.Background(), "/data/docs")
	if err != nil {
		t.Fatalf("SweepMissingSources: %v", err)
	}
	if report.Checked != 2 {
		t.Fatalf("checked = %d, want 2", report.Checked)
	}
	if len(report.Quarantined) != 1 || report.Quarantined[0] != "/data/docs/gone.md" {
		t.Fatalf("quarantined = %v", report.Quarantined)
	}
	if reason := fake.quarantined["/data/docs/gone.md"]; reason != ReasonSourceMissing {
		t.Fatalf("reason = %q, want %q", reason, ReasonSourceMissing)
	}
	if len(report.Restored) != 0 {
		t.Fatalf("restored = %v, want none", report.Restored)
	}
}

func TestSweepRestoresReappeared(t *testing.T) {
	fake := newFakeQuarantineStore(
		store.SourceState{SourceURI: "/data/docs/back.md", Quarantined: true},
	)
	svc := newTestService(fake, "/data/docs/back.md")

	report, err := svc.SweepMissingSources(context.Background(), "/data/docs")
	if err != nil {
		t.Fatalf("SweepMissingSources: %v", err)
	}
	if len(report.Restored) != 1 || report.Restored[0] != "/data/docs/back.md" {
		t.Fatalf("restored = %v", report.Restored)
	}
	if len(fake.restored) != 1 {
		t.Fatalf("store restore calls = %d, want 1", len(fake.restored))
	}
}

func TestSweepLeavesQuarantinedMissingAlone(t *testing.T) {
	fake := newFakeQuarantineStore(
		store.SourceState{SourceURI: "/data/docs/still-gone.md", Quarantined: true},
	)
	svc := newTestService(fake) // nothing on disk

	report, err := svc.SweepMissingSources(context.Background(), "/data/docs")
	if err != nil {
		t.Fatalf("SweepMissingSources: %v", err)
	}
	if len(report.Quarantined) != 0 || len(report.Restored) != 0 {
		t.Fatalf("report = %+v, want no changes", report)
	}
	if len(fake.quarantined) != 0 || len(fake.restored) != 0 {
		t.Fatal("sweep mutated an already-settled source")
	}
}

func TestMissingSourcesIsReadOnly(t *testing.T) {
	fake := newFakeQuarantineStore(
		store.SourceState{SourceURI: "/data/docs/gone.md"},
	)
	svc := newTestService(fake)

	report, err := svc.MissingSources(context.Background(), "/data/docs")
	if err != nil {
		t.Fatalf("MissingSources: %v", err)
	}
	if len(report.Quarantined) != 1 {
		t.Fatalf("quarantined preview = %v", report.Quarantined)
	}
	if len(fake.quarantined) != 0 {
		t.Fatal("preview mutated the store")
	}
}

func TestPurgeExpiredDefaultWindow(t *testing.T) {
	fake := newFakeQuarantineStore()
	svc := newTestService(fake)
	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	removed, err := svc.PurgeExpired(context.Background(), 0)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if removed != 12 {
		t.Fatalf("removed = %d, want 12", removed)
	}
	want := fixed.AddDate(0, 0, -30)
	if !fake.purgeCutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", fake.purgeCutoff, want)
	}
}

func TestPurgeExpiredOverride(t *testing.T) {
	fake := newFakeQuarantineStore()
	svc := newTestService(fake)
	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if _, err := svc.PurgeExpired(context.Background(), 7); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	want := fixed.AddDate(0, 0, -7)
	if !fake.purgeCutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", fake.purgeCutoff, want)
	}
}

func TestQuarantineDefaultsReason(t *testing.T) {
	fake := newFakeQuarantineStore()
	svc := newTestService(fake)

	if _, err := svc.Quarantine(context.Background(), "/data/docs/a.md", ""); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if reason := fake.quarantined["/data/docs/a.md"]; reason != ReasonManual {
		t.Fatalf("reason = %q, want %q", reason, ReasonManual)
	}
}
