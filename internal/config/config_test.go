package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docdex_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.ServerSchedulerEnabled {
		t.Error("ServerSchedulerEnabled should default to false")
	}
	if !cfg.RetentionEnabled {
		t.Error("RetentionEnabled should default to true")
	}
	if cfg.SchedulerPollInterval != 60*time.Second {
		t.Errorf("SchedulerPollInterval = %v, want 60s", cfg.SchedulerPollInterval)
	}
	if cfg.FailureBackoff != time.Hour {
		t.Errorf("FailureBackoff = %v, want 1h", cfg.FailureBackoff)
	}
	if cfg.ActivityRetentionDays != 2555 {
		t.Errorf("ActivityRetentionDays = %d, want 2555", cfg.ActivityRetentionDays)
	}
	if cfg.IndexingRunsRetentionDays != 10950 {
		t.Errorf("IndexingRunsRetentionDays = %d, want 10950", cfg.IndexingRunsRetentionDays)
	}
	if cfg.QuarantineRetentionDays != 30 {
		t.Errorf("QuarantineRetentionDays = %d, want 30", cfg.QuarantineRetentionDays)
	}
	if !cfg.APIRequireAuth {
		t.Error("APIRequireAuth should default to true")
	}
	if cfg.APIKeyPrefix != "pgv_sk_" {
		t.Errorf("APIKeyPrefix = %q, want pgv_sk_", cfg.APIKeyPrefix)
	}
	if cfg.EmbeddingDimension != 384 {
		t.Errorf("EmbeddingDimension = %d, want 384", cfg.EmbeddingDimension)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docdex_test")
	t.Setenv("SERVER_SCHEDULER_ENABLED", "true")
	t.Setenv("QUARANTINE_RETENTION_DAYS", "7")
	t.Setenv("SCHEDULER_POLL_SECONDS", "15")
	t.Setenv("SCAN_EXCLUDE_GLOBS", "**/.git/**, **/node_modules/**")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("LOG_COMPONENT_LEVELS", "scheduler=debug, server=warn, malformed")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !cfg.ServerSchedulerEnabled {
		t.Error("ServerSchedulerEnabled override not applied")
	}
	if cfg.QuarantineRetentionDays != 7 {
		t.Errorf("QuarantineRetentionDays = %d, want 7", cfg.QuarantineRetentionDays)
	}
	if cfg.SchedulerPollInterval != 15*time.Second {
		t.Errorf("SchedulerPollInterval = %v, want 15s", cfg.SchedulerPollInterval)
	}
	if len(cfg.ScanExcludeGlobs) != 2 || cfg.ScanExcludeGlobs[0] != "**/.git/**" {
		t.Errorf("ScanExcludeGlobs = %v", cfg.ScanExcludeGlobs)
	}
	if cfg.EmbeddingProvider != "hash" {
		t.Errorf("EmbeddingProvider = %q, want hash", cfg.EmbeddingProvider)
	}
	if len(cfg.LogComponentLevels) != 2 {
		t.Errorf("LogComponentLevels = %v, want 2 entries", cfg.LogComponentLevels)
	}
	if cfg.LogComponentLevels["scheduler"] != "debug" {
		t.Errorf("LogComponentLevels[scheduler] = %q, want debug", cfg.LogComponentLevels["scheduler"])
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail without DATABASE_URL")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docdex_test")

	t.Run("bad provider", func(t *testing.T) {
		t.Setenv("EMBEDDING_PROVIDER", "quantum")
		if _, err := Load(); err == nil {
			t.Fatal("Load() should reject unknown embedding provider")
		}
	})

	t.Run("bad log format", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "xml")
		if _, err := Load(); err == nil {
			t.Fatal("Load() should reject unknown log format")
		}
	})

	t.Run("malformed int falls back", func(t *testing.T) {
		t.Setenv("QUARANTINE_RETENTION_DAYS", "not-a-number")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.QuarantineRetentionDays != DefaultQuarantineRetentionDays {
			t.Errorf("QuarantineRetentionDays = %d, want default %d",
				cfg.QuarantineRetentionDays, DefaultQuarantineRetentionDays)
		}
	})
}
