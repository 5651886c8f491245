// Package auth covers the identity surface: API keys, role resolution,
// user records and the signed license.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"

	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/store"
)

// RevocationGrace keeps a revoked key valid long enough to rotate callers
// over to its replacement.
const RevocationGrace = 24 * time.Hour

const rawKeyBytes = 32

// KeyStore is the persistence surface for API key records.
type KeyStore interface {
	InsertAPIKey(ctx context.Context, keyHash, keyPrefix, name string, expiresAt *time.Time) (*store.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*store.APIKey, error)
	GetAPIKey(ctx context.Context, id uuid.UUID) (*store.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]store.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
	TouchAPIKey(ctx context.Context, id uuid.UUID) error
}

// KeyService issues and verifies API keys. Only the SHA-256 fingerprint is
// persisted; the plaintext is shown once at creation.
type KeyService struct {
	store  KeyStore
	prefix string
	logger *slog.Logger

	now      func() time.Time
	randRead func([]byte) (int, error)
}

func NewKeyService(st KeyStore, prefix string, logger *slog.Logger) *KeyService {
	if prefix == "" {
		prefix = "pgv_sk_"
	}
	return &KeyService{
		store:    st,
		prefix:   prefix,
		logger:   logging.Default(logger).With("component", "apikeys"),
		now:      time.Now,
		randRead: rand.Read,
	}
}

// IssuedKey pairs the one-time plaintext with its stored record.
type IssuedKey struct {
	Key    string        `json:"key"`
	Record *store.APIKey `json:"record"`
}

// HashKey returns the hex SHA-256 fingerprint of a plaintext key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Generate mints a new key. An empty name gets a generated pet name.
func (s *KeyService) Generate(ctx context.Context, name string, expiresAt *time.Time) (*IssuedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = petname.Generate(2, "-")
	}
	buf := make([]byte, rawKeyBytes)
	if _, err := s.randRead(buf); err != nil {
		return nil, errdef.Wrap(errdef.CodeInternal, "generate key material", err)
	}
	plain := s.prefix + hex.EncodeToString(buf)

	rec, err := s.store.InsertAPIKey(ctx, HashKey(plain), s.prefix, name, expiresAt)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "store api key", err)
	}
	s.logger.Info("api key created", "id", rec.ID, "name", rec.Name)
	return &IssuedKey{Key: plain, Record: rec}, nil
}

// Verify authenticates a presented key. Expired keys and keys revoked more
// than RevocationGrace ago are rejected; a fresh revocation still validates
// so in-flight rotations do not lock callers out.
func (s *KeyService) Verify(ctx context.Context, presented string) (*store.APIKey, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, errdef.ErrUnauthorized
	}
	if !strings.HasPrefix(presented, s.prefix) {
		return nil, errdef.ErrInvalidAPIKey
	}
	rec, err := s.store.GetAPIKeyByHash(ctx, HashKey(presented))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errdef.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "look up api key", err)
	}

	now := s.now()
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		return nil, errdef.New(errdef.CodeInvalidAPIKey, "API key expired")
	}
	if rec.RevokedAt != nil {
		if now.Sub(*rec.RevokedAt) > RevocationGrace {
			return nil, errdef.New(errdef.CodeInvalidAPIKey, "API key revoked")
		}
		s.logger.Debug("revoked api key used inside grace window", "id", rec.ID)
	}

	// Usage tracking is best effort.
	if err := s.store.TouchAPIKey(ctx, rec.ID); err != nil {
		s.logger.Warn("touch api key", "id", rec.ID, "error", err)
	}
	return rec, nil
}

// Revoke stamps a key revoked. The key keeps validating for RevocationGrace.
func (s *KeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	err := s.store.RevokeAPIKey(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errdef.New(errdef.CodeDocumentNotFound, "api key not found")
	}
	if err != nil {
		return errdef.Wrap(errdef.CodeDBQuery, "revoke api key", err)
	}
	s.logger.Info("api key revoked", "id", id)
	return nil
}

// Rotate revokes a key and mints a replacement with the same name and
// expiry. The old key keeps working for the grace window.
func (s *KeyService) Rotate(ctx context.Context, id uuid.UUID) (*IssuedKey, error) {
	old, err := s.store.GetAPIKey(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errdef.New(errdef.CodeDocumentNotFound, "api key not found")
	}
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "load api key", err)
	}
	if err := s.Revoke(ctx, id); err != nil {
		return nil, err
	}
	return s.Generate(ctx, old.Name, old.ExpiresAt)
}

// List returns all key records, newest first.
func (s *KeyService) List(ctx context.Context) ([]store.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "list api keys", err)
	}
	return keys, nil
}
