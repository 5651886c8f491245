// Package locks coordinates exclusive document access between indexing
// clients. A lock is a row in document_locks keyed by the document identity:
// (root_id, relative_path) when both are known, the raw source URI otherwise.
// Locks carry a TTL so a crashed holder never blocks a document forever.
package locks

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/store"
)

const (
	// DefaultTTL bounds how long a lock lives without extension.
	DefaultTTL = 10 * time.Minute
	// DefaultReason is recorded when the caller gives none.
	DefaultReason = "indexing"
)

// Store is the persistence surface the service needs.
type Store interface {
	AcquireLock(ctx context.Context, req store.LockRequest) (*store.LockOutcome, error)
	ReleaseLock(ctx context.Context, sourceURI, clientID string, rootID *uuid.UUID, relativePath *string) (bool, error)
	ForceReleaseLock(ctx context.Context, sourceURI string, rootID *uuid.UUID, relativePath *string) (bool, error)
	GetActiveLock(ctx context.Context, sourceURI string, rootID *uuid.UUID, relativePath *string) (*store.DocumentLock, error)
	CleanupExpiredLocks(ctx context.Context) (int64, error)
}

// Service validates lock requests, fills in defaults and maps store results
// onto stable error codes.
type Service struct {
	store  Store
	logger *slog.Logger
}

func New(st Store, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logging.Default(logger).With("component", "locks"),
	}
}

// AcquireRequest asks for exclusive access to one document. Zero TTL and
// empty Reason take the package defaults.
type AcquireRequest struct {
	SourceURI    string
	ClientID     string
	TTL          time.Duration
	Reason       string
	RootID       *uuid.UUID
	RelativePath *string
}

// Acquire takes or extends the lock. The same client re-acquiring extends
// the TTL; a different active holder yields Acquired=false with the holder
// attached, which is an outcome rather than an error.
func (s *Service) Acquire(ctx context.Context, req AcquireRequest) (*store.LockOutcome, error) {
	if req.SourceURI == "" {
		return nil, errdef.New(errdef.CodeInvalidArgument, "source_uri is required")
	}
	if req.ClientID == "" {
		return nil, errdef.New(errdef.CodeInvalidArgument, "client_id is required")
	}
	if req.TTL <= 0 {
		req.TTL = DefaultTTL
	}
	if req.Reason == "" {
		req.Reason = DefaultReason
	}

	outcome, err := s.store.AcquireLock(ctx, store.LockRequest{
		SourceURI:    req.SourceURI,
		ClientID:     req.ClientID,
		TTL:          req.TTL,
		Reason:       req.Reason,
		RootID:       req.RootID,
		RelativePath: req.RelativePath,
	})
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "acquire document lock", err)
	}

	switch {
	case outcome.Extended:
		s.logger.Debug("lock extended", "source_uri", req.SourceURI, "client_id", req.ClientID)
	case outcome.Acquired:
		s.logger.Debug("lock acquired", "source_uri", req.SourceURI, "client_id", req.ClientID)
	default:
		lockContentionTotal.Inc()
		s.logger.Debug("lock contended",
			"source_uri", req.SourceURI,
			"client_id", req.ClientID,
			"holder", outcome.Holder.ClientID)
	}
	return outcome, nil
}

// Release drops the caller's own lock. Returns ErrLockNotFound when the
// caller holds no active lock for the identity.
func (s *Service) Release(ctx context.Context, sourceURI, clientID string, rootID *uuid.UUID, relativePath *string) error {
	if sourceURI == "" {
		return errdef.New(errdef.CodeInvalidArgument, "source_uri is required")
	}
	if clientID == "" {
		return errdef.New(errdef.CodeInvalidArgument, "client_id is required")
	}
	released, err := s.store.ReleaseLock(ctx, sourceURI, clientID, rootID, relativePath)
	if err != nil {
		return errdef.Wrap(errdef.CodeDBQuery, "release document lock", err)
	}
	if !released {
		return errdef.ErrLockNotFound
	}
	s.logger.Debug("lock released", "source_uri", sourceURI, "client_id", clientID)
	return nil
}

// ForceRelease drops the lock regardless of holder. Admin recovery path.
func (s *Service) ForceRelease(ctx context.Context, sourceURI string, rootID *uuid.UUID, relativePath *string) error {
	if sourceURI == "" {
		return errdef.New(errdef.CodeInvalidArgument, "source_uri is required")
	}
	released, err := s.store.ForceReleaseLock(ctx, sourceURI, rootID, relativePath)
	if err != nil {
		return errdef.Wrap(errdef.CodeDBQuery, "force release document lock", err)
	}
	if !released {
		return errdef.ErrLockNotFound
	}
	s.logger.Info("lock force released", "source_uri", sourceURI)
	return nil
}

// Check reports the active lock for the identity, nil when unlocked.
func (s *Service) Check(ctx context.Context, sourceURI string, rootID *uuid.UUID, relativePath *string) (*store.DocumentLock, error) {
	if sourceURI == "" {
		return nil, errdef.New(errdef.CodeInvalidArgument, "source_uri is required")
	}
	lock, err := s.store.GetActiveLock(ctx, sourceURI, rootID, relativePath)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "check document lock", err)
	}
	return lock, nil
}

// CleanupExpired deletes expired rows and returns how many were removed.
// Expired locks are already unenforceable; this keeps the table small.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.store.CleanupExpiredLocks(ctx)
	if err != nil {
		return 0, errdef.Wrap(errdef.CodeDBQuery, "cleanup expired locks", err)
	}
	if removed > 0 {
		s.logger.Info("expired locks removed", "count", removed)
	}
	return removed, nil
}
