// Package config loads service configuration from the environment.
//
// Every knob has a code default so a bare process starts with sane behavior;
// the environment overrides. Durations configured in seconds are exposed as
// time.Duration. Loading never touches the database.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address (host:port).
	ListenAddr string

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string
	// DBConnectTimeout bounds connection establishment.
	DBConnectTimeout time.Duration
	// DBStatementTimeout is the default per-statement timeout.
	DBStatementTimeout time.Duration
	// DBPoolMaxConns caps the connection pool. 0 uses the pgx default.
	DBPoolMaxConns int

	// ServerSchedulerEnabled turns the background scan scheduler on.
	ServerSchedulerEnabled bool
	// SchedulerPollInterval is the cadence of the scheduler poll loop.
	SchedulerPollInterval time.Duration
	// FailureBackoff is how long a root with a failure streak is skipped.
	FailureBackoff time.Duration

	// RetentionEnabled turns the retention maintenance loop on.
	RetentionEnabled bool
	// RetentionInterval is the cadence of retention sweeps.
	RetentionInterval time.Duration
	// ActivityRetentionDays is the age limit for activity log entries.
	ActivityRetentionDays int
	// IndexingRunsRetentionDays is the age limit for terminal indexing runs.
	IndexingRunsRetentionDays int
	// QuarantineRetentionDays is the age limit for quarantined chunks.
	QuarantineRetentionDays int

	// APIRequireAuth requires an API key on non-loopback requests.
	APIRequireAuth bool
	// APIKeyPrefix is prepended to generated API keys.
	APIKeyPrefix string
	// RolesFile points at a JSON file of extra role definitions.
	RolesFile string
	// DemoMode rejects mutating requests.
	DemoMode bool

	// EmbeddingProvider selects the embedder: "auto", "ollama" or "hash".
	EmbeddingProvider string
	// OllamaURL is the base URL of the Ollama server.
	OllamaURL string
	// EmbeddingModel is the model name sent to the provider.
	EmbeddingModel string
	// EmbeddingDimension is the vector width; must match the schema.
	EmbeddingDimension int
	// EmbeddingCacheSize is the LRU entry cap for embedding reuse.
	EmbeddingCacheSize int

	// ScanExcludeGlobs are doublestar patterns skipped during walks.
	ScanExcludeGlobs []string

	// LicenseKey is the signed license token, if any.
	LicenseKey string
	// LicenseSigningSecret verifies the license token signature.
	LicenseSigningSecret string
	// LicenseRevokedIDs lists license IDs (jti) that no longer validate.
	LicenseRevokedIDs []string

	// LogLevel is the default log level name.
	LogLevel string
	// LogFormat selects "text" or "json" output.
	LogFormat string
	// LogComponentLevels overrides the level per component,
	// e.g. "scheduler=debug,server=warn".
	LogComponentLevels map[string]string
}

// Retention policy defaults. These are the fallbacks when neither the
// environment nor a stored policy override is present.
const (
	DefaultActivityRetentionDays     = 2555
	DefaultIndexingRunsRetentionDays = 10950
	DefaultQuarantineRetentionDays   = 30
)

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:                envString("LISTEN_ADDR", ":8080"),
		DatabaseURL:               envString("DATABASE_URL", ""),
		DBConnectTimeout:          envSeconds("DB_CONNECT_TIMEOUT_SECONDS", 10),
		DBStatementTimeout:        envSeconds("DB_STATEMENT_TIMEOUT_SECONDS", 30),
		DBPoolMaxConns:            envInt("DB_POOL_MAX_CONNS", 0),
		ServerSchedulerEnabled:    envBool("SERVER_SCHEDULER_ENABLED", false),
		SchedulerPollInterval:     envSeconds("SCHEDULER_POLL_SECONDS", 60),
		FailureBackoff:            envSeconds("FAILURE_BACKOFF_SECONDS", 3600),
		RetentionEnabled:          envBool("RETENTION_MAINTENANCE_ENABLED", true),
		RetentionInterval:         envSeconds("RETENTION_MAINTENANCE_INTERVAL_SECONDS", 86400),
		ActivityRetentionDays:     envInt("ACTIVITY_RETENTION_DAYS", DefaultActivityRetentionDays),
		IndexingRunsRetentionDays: envInt("INDEXING_RUNS_RETENTION_DAYS", DefaultIndexingRunsRetentionDays),
		QuarantineRetentionDays:   envInt("QUARANTINE_RETENTION_DAYS", DefaultQuarantineRetentionDays),
		APIRequireAuth:            envBool("API_REQUIRE_AUTH", true),
		APIKeyPrefix:              envString("API_KEY_PREFIX", "pgv_sk_"),
		RolesFile:                 envString("ROLES_FILE", ""),
		DemoMode:                  envBool("DEMO_MODE", false),
		EmbeddingProvider:         envString("EMBEDDING_PROVIDER", "auto"),
		OllamaURL:                 envString("OLLAMA_URL", "http://localhost:11434"),
		EmbeddingModel:            envString("EMBEDDING_MODEL", "all-minilm:l6-v2"),
		EmbeddingDimension:        envInt("EMBEDDING_DIMENSION", 384),
		EmbeddingCacheSize:        envInt("EMBEDDING_CACHE_SIZE", 4096),
		ScanExcludeGlobs:          envList("SCAN_EXCLUDE_GLOBS"),
		LicenseKey:                envString("LICENSE_KEY", ""),
		LicenseSigningSecret:      envString("LICENSE_SIGNING_SECRET", ""),
		LicenseRevokedIDs:         envList("LICENSE_REVOKED_IDS"),
		LogLevel:                  envString("LOG_LEVEL", "info"),
		LogFormat:                 envString("LOG_FORMAT", "text"),
		LogComponentLevels:        envPairs("LOG_COMPONENT_LEVELS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints. DATABASE_URL is the only knob without
// a usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if c.SchedulerPollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_SECONDS must be positive")
	}
	if c.RetentionInterval <= 0 {
		return fmt.Errorf("RETENTION_MAINTENANCE_INTERVAL_SECONDS must be positive")
	}
	switch c.EmbeddingProvider {
	case "auto", "ollama", "hash":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be auto, ollama or hash, got %q", c.EmbeddingProvider)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func envSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(envInt(key, defSeconds)) * time.Second
}

func envList(key string) []string {
	v := envString(key, "")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envPairs parses "k=v,k=v" lists. Entries without "=" are skipped.
func envPairs(key string) map[string]string {
	items := envList(key)
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
