package auth

import (
	"context"

	"docdex/internal/store"
)

// Identity describes the authenticated caller of one request.
type Identity struct {
	// Key is the verified API key, nil for loopback-exempt callers.
	Key *store.APIKey
	// User is the account bound to the key, nil when the key is unbound.
	User *store.User
	// ClientID is the desktop instance id from the X-Client-ID header.
	ClientID string
	// Loopback marks a caller trusted by network position alone.
	Loopback bool
}

// Requester converts the identity into the store's visibility shape.
// Loopback callers are local operators and see everything.
func (id *Identity) Requester(ctx context.Context, roles *Roles) *store.Identity {
	if id == nil {
		return nil
	}
	if id.Loopback && id.User == nil {
		return &store.Identity{IsAdmin: true}
	}
	if id.User == nil {
		return &store.Identity{}
	}
	return &store.Identity{
		UserID:  id.User.ID.String(),
		IsAdmin: roles.IsAdmin(ctx, id.User.Role),
	}
}

type ctxKey struct{}

// WithIdentity returns a new context carrying the caller identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom extracts the caller identity, nil for anonymous requests.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
