package store

import (
	"time"

	"github.com/google/uuid"
)

// Visibility values for chunks. A NULL visibility is read as shared.
const (
	VisibilityShared  = "shared"
	VisibilityPrivate = "private"
)

// Indexing run trigger origins.
const (
	TriggerManual    = "manual"
	TriggerUpload    = "upload"
	TriggerCLI       = "cli"
	TriggerScheduled = "scheduled"
	TriggerAPI       = "api"
)

// Indexing run states. Only terminal states are retention-eligible.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// Chunk is one embedded fragment of a document.
type Chunk struct {
	ID                 int64          `json:"id"`
	DocumentID         string         `json:"document_id"`
	ChunkIndex         int            `json:"chunk_index"`
	Content            string         `json:"content"`
	SourceURI          string         `json:"source_uri"`
	Embedding          []float32      `json:"embedding"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	IndexedAt          time.Time      `json:"indexed_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	CanonicalSourceKey *string        `json:"canonical_source_key,omitempty"`
	OwnerID            *string        `json:"owner_id,omitempty"`
	Visibility         *string        `json:"visibility,omitempty"`
	QuarantinedAt      *time.Time     `json:"quarantined_at,omitempty"`
	QuarantineReason   *string        `json:"quarantine_reason,omitempty"`
}

// DocumentSummary is the per-document aggregation used by listings.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	SourceURI  string    `json:"source_uri"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Visibility string    `json:"visibility"`
	OwnerID    *string   `json:"owner_id,omitempty"`
	FileType   string    `json:"file_type,omitempty"`
}

// ChunkFilters narrows document-level operations (list, bulk delete, export).
// Zero values mean "no constraint". Metadata keys match text-compared JSONB
// values.
type ChunkFilters struct {
	DocumentID         string
	SourceURI          string
	SourcePrefix       string
	FileType           string
	OwnerID            string
	Metadata           map[string]string
	IncludeQuarantined bool
}

// Identity carries the caller for visibility filtering. A nil *Identity is
// an anonymous caller and sees shared documents only.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// SearchParams drive a chunk similarity query.
type SearchParams struct {
	Embedding []float32
	Query     string
	Limit     int
	Hybrid    bool
	// Alpha weights the vector score against the keyword rank in hybrid
	// mode: 1.0 is pure vector, 0.0 pure keyword.
	Alpha     float64
	Filters   ChunkFilters
	Requester *Identity
}

// SearchResult is a scored chunk.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// WatchedFolder is a registered root the system keeps indexed.
type WatchedFolder struct {
	ID                   uuid.UUID
	FolderPath           string
	NormalizedFolderPath string
	ExecutionScope       string
	ExecutorID           *string
	RootID               uuid.UUID
	ScheduleCron         string
	Enabled              bool
	Paused               bool
	MaxConcurrency       int
	ConsecutiveFailures  int
	LastScanStartedAt    *time.Time
	LastScanCompletedAt  *time.Time
	LastSuccessfulScanAt *time.Time
	LastErrorAt          *time.Time
	LastScannedAt        *time.Time
	LastRunID            *uuid.UUID
	Metadata             map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FolderPatch is a partial update; nil fields are left untouched. When
// FolderPath is set the caller supplies the matching NormalizedFolderPath.
type FolderPatch struct {
	FolderPath           *string
	NormalizedFolderPath string
	ScheduleCron         *string
	Enabled              *bool
	Paused               *bool
	MaxConcurrency       *int
	Metadata             map[string]any
}

// ListFoldersOptions narrows folder listings.
type ListFoldersOptions struct {
	Scope       string
	ExecutorID  string
	EnabledOnly bool
}

// Scan watermark events, applied atomically per root.
type WatermarkEvent string

const (
	WatermarkStarted WatermarkEvent = "started"
	WatermarkSuccess WatermarkEvent = "success"
	WatermarkError   WatermarkEvent = "error"
	WatermarkReset   WatermarkEvent = "reset"
)

// DocumentLock is a short-lived exclusive claim on a logical document.
type DocumentLock struct {
	ID           uuid.UUID  `json:"id"`
	SourceURI    string     `json:"source_uri"`
	ClientID     string     `json:"client_id"`
	LockedAt     time.Time  `json:"locked_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LockReason   string     `json:"lock_reason"`
	RootID       *uuid.UUID `json:"root_id,omitempty"`
	RelativePath *string    `json:"relative_path,omitempty"`
}

// LockRequest identifies a document and the client claiming it. When both
// RootID and RelativePath are set the stable (root, relative path) identity
// is used alongside the raw source URI.
type LockRequest struct {
	SourceURI    string
	ClientID     string
	TTL          time.Duration
	Reason       string
	RootID       *uuid.UUID
	RelativePath *string
}

// LockOutcome reports an acquisition attempt. Exactly one of Lock (acquired
// or extended) and Holder (conflict) is set.
type LockOutcome struct {
	Acquired bool
	Extended bool
	Lock     *DocumentLock
	Holder   *DocumentLock
}

// RunError records a single per-file failure inside a run.
type RunError struct {
	SourceURI string `json:"source_uri"`
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
}

// RunCounters aggregate per-file outcomes of a scan or indexing run.
type RunCounters struct {
	Scanned int `json:"files_scanned"`
	Added   int `json:"files_added"`
	Updated int `json:"files_updated"`
	Skipped int `json:"files_skipped"`
	Failed  int `json:"files_failed"`
}

// IndexingRun is the persistent audit record of one indexing operation.
type IndexingRun struct {
	ID          uuid.UUID      `json:"id"`
	Trigger     string         `json:"trigger"`
	SourceURI   *string        `json:"source_uri,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Status      string         `json:"status"`
	Counters    RunCounters    `json:"counters"`
	Errors      []RunError     `json:"errors,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ClientID    *string        `json:"client_id,omitempty"`
}

// RunSummary aggregates runs for the summary endpoint.
type RunSummary struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByTrigger       map[string]int `json:"by_trigger"`
	Counters        RunCounters    `json:"counters"`
	LastCompletedAt *time.Time     `json:"last_completed_at,omitempty"`
}

// ActivityEntry is one append-only activity log row.
type ActivityEntry struct {
	ID            uuid.UUID      `json:"id"`
	Timestamp     time.Time      `json:"ts"`
	Action        string         `json:"action"`
	ClientID      *string        `json:"client_id,omitempty"`
	UserID        *string        `json:"user_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	ExecutorScope *string        `json:"executor_scope,omitempty"`
	ExecutorID    *string        `json:"executor_id,omitempty"`
	RootID        *uuid.UUID     `json:"root_id,omitempty"`
	RunID         *uuid.UUID     `json:"run_id,omitempty"`
}

// VirtualRoot maps a stable name to a client-local path.
type VirtualRoot struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	LocalPath string    `json:"local_path"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey is a stored key fingerprint; the plaintext is never persisted.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// User is an identity known to the service.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	Role         string     `json:"role"`
	AuthProvider string     `json:"auth_provider"`
	APIKeyID     *uuid.UUID `json:"api_key_id,omitempty"`
	ClientID     *string    `json:"client_id,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Role names a permission set. System roles are seeded by migration and
// cannot be removed.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	IsSystem    bool     `json:"is_system"`
}

// SAMLSession tracks an IdP-established session for cleanup.
type SAMLSession struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	NameID       string    `json:"name_id"`
	SessionIndex string    `json:"session_index"`
	IdPEntityID  string    `json:"idp_entity_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsActive     bool      `json:"is_active"`
}

// Client is a registered desktop instance.
type Client struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	LastSeenAt  time.Time      `json:"last_seen_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RetentionPolicy is a persisted retention override for one category.
type RetentionPolicy struct {
	Category  string    `json:"category"`
	Days      int       `json:"days"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SourceState reports whether an indexed source is currently quarantined.
type SourceState struct {
	SourceURI   string
	Quarantined bool
}

// QuarantineStats summarize the quarantine backlog.
type QuarantineStats struct {
	Chunks    int            `json:"chunks"`
	Documents int            `json:"documents"`
	Oldest    *time.Time     `json:"oldest,omitempty"`
	ByReason  map[string]int `json:"by_reason"`
}

// QuarantinedSource is one listing row of the quarantine surface.
type QuarantinedSource struct {
	SourceURI     string    `json:"source_uri"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	ChunkCount    int       `json:"chunk_count"`
}
