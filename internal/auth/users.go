package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"docdex/internal/errdef"
	"docdex/internal/logging"
	"docdex/internal/store"
)

// Auth providers a user can arrive through.
const (
	ProviderAPIKey = "api_key"
	ProviderSAML   = "saml"
)

// UserStore is the persistence surface for user records.
type UserStore interface {
	InsertUser(ctx context.Context, u store.User) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByAPIKey(ctx context.Context, apiKeyID uuid.UUID) (*store.User, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserLogin(ctx context.Context, id uuid.UUID) error
}

// UsersConfig wires the user service.
type UsersConfig struct {
	Store   UserStore
	Roles   *Roles
	License *License
	Logger  *slog.Logger
}

// Users manages user records: creation with seat enforcement, the admin
// bootstrap window, and key-to-user resolution.
type Users struct {
	store   UserStore
	roles   *Roles
	license *License
	logger  *slog.Logger
}

func NewUsers(cfg UsersConfig) *Users {
	return &Users{
		store:   cfg.Store,
		roles:   cfg.Roles,
		license: cfg.License,
		logger:  logging.Default(cfg.Logger).With("component", "users"),
	}
}

// CreateUserRequest carries the fields of a new user.
type CreateUserRequest struct {
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	Role         string     `json:"role"`
	AuthProvider string     `json:"auth_provider"`
	APIKeyID     *uuid.UUID `json:"api_key_id,omitempty"`
	ClientID     *string    `json:"client_id,omitempty"`
}

// Create adds a user. The first user of an empty instance always becomes
// an admin regardless of the requested role; that is the bootstrap window.
// A licensed seat cap rejects creation once reached.
func (u *Users) Create(ctx context.Context, req CreateUserRequest) (*store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, errdef.New(errdef.CodeInvalidArgument, "email is required")
	}
	provider := req.AuthProvider
	if provider == "" {
		provider = ProviderAPIKey
	}
	switch provider {
	case ProviderAPIKey, ProviderSAML:
	default:
		return nil, errdef.Newf(errdef.CodeInvalidArgument, "unknown auth provider %q", provider)
	}

	count, err := u.store.CountUsers(ctx)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "count users", err)
	}
	bootstrap := count == 0

	role := req.Role
	if bootstrap {
		role = "admin"
	} else if role == "" {
		role = "viewer"
	}
	if _, ok := u.roles.Resolve(ctx, role); !ok {
		return nil, errdef.Newf(errdef.CodeInvalidArgument, "unknown role %q", role)
	}

	if limit, capped := u.license.SeatLimit(); capped && count >= limit {
		return nil, errdef.ErrSeatLimitReached
	}

	created, err := u.store.InsertUser(ctx, store.User{
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Role:         role,
		AuthProvider: provider,
		APIKeyID:     req.APIKeyID,
		ClientID:     req.ClientID,
		IsActive:     true,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, errdef.Newf(errdef.CodeConflict, "user %s already exists", email)
	}
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "create user", err)
	}
	if bootstrap {
		u.logger.Info("bootstrap admin created", "email", created.Email)
	} else {
		u.logger.Info("user created", "email", created.Email, "role", created.Role)
	}
	return created, nil
}

// Bootstrapped reports whether any user exists yet. While false, user
// creation is open so the first admin can be established.
func (u *Users) Bootstrapped(ctx context.Context) (bool, error) {
	count, err := u.store.CountUsers(ctx)
	if err != nil {
		return false, errdef.Wrap(errdef.CodeDBQuery, "count users", err)
	}
	return count > 0, nil
}

// ResolveKey maps an authenticated API key to its user, if one is bound.
// Keys without a user are valid but anonymous for ownership purposes.
func (u *Users) ResolveKey(ctx context.Context, apiKeyID uuid.UUID) (*store.User, error) {
	user, err := u.store.GetUserByAPIKey(ctx, apiKeyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "resolve api key user", err)
	}
	// Login stamping is best effort.
	if err := u.store.UpdateUserLogin(ctx, user.ID); err != nil {
		u.logger.Warn("update user login", "user", user.ID, "error", err)
	}
	return user, nil
}

// List returns all users.
func (u *Users) List(ctx context.Context) ([]store.User, error) {
	users, err := u.store.ListUsers(ctx)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeDBQuery, "list users", err)
	}
	return users, nil
}
