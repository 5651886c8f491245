package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"

	"docdex/internal/logging"
	"docdex/internal/store"
)

// PermAdmin grants every permission. Checks always pass for a role that
// carries it.
const PermAdmin = "system.admin"

// Permissions checked by the HTTP layer.
const (
	PermDocumentsRead   = "documents.read"
	PermDocumentsWrite  = "documents.write"
	PermDocumentsDelete = "documents.delete"
	PermScansRun        = "scans.run"
)

// RoleProvider resolves a role name to its definition. A false return
// defers to the next provider in the stack.
type RoleProvider interface {
	Lookup(ctx context.Context, name string) (*store.Role, bool)
}

// RoleReader is the store surface role resolution needs.
type RoleReader interface {
	GetRole(ctx context.Context, name string) (*store.Role, error)
}

// StoreRoles resolves roles from the database. Lookup errors defer to the
// next provider so a degraded database cannot orphan the built-in roles.
type StoreRoles struct {
	Store  RoleReader
	Logger *slog.Logger
}

func (p *StoreRoles) Lookup(ctx context.Context, name string) (*store.Role, bool) {
	r, err := p.Store.GetRole(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		logging.Default(p.Logger).Warn("role lookup failed", "role", name, "error", err)
		return nil, false
	}
	return r, true
}

// FileRoles resolves roles from a JSON file of role definitions, loaded
// once on first use. A missing file is an empty provider.
type FileRoles struct {
	path   string
	logger *slog.Logger

	once  sync.Once
	roles map[string]store.Role
}

func NewFileRoles(path string, logger *slog.Logger) *FileRoles {
	return &FileRoles{path: path, logger: logging.Default(logger)}
}

func (p *FileRoles) Lookup(_ context.Context, name string) (*store.Role, bool) {
	p.once.Do(p.load)
	r, ok := p.roles[name]
	if !ok {
		return nil, false
	}
	return &r, true
}

func (p *FileRoles) load() {
	p.roles = map[string]store.Role{}
	if p.path == "" {
		return
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("read roles file", "path", p.path, "error", err)
		}
		return
	}
	var defs []store.Role
	if err := json.Unmarshal(data, &defs); err != nil {
		p.logger.Warn("parse roles file", "path", p.path, "error", err)
		return
	}
	for _, r := range defs {
		p.roles[r.Name] = r
	}
	p.logger.Info("loaded roles file", "path", p.path, "roles", len(defs))
}

// BuiltinRoles is the fallback provider of the three seeded roles.
type BuiltinRoles struct{}

var builtinRoles = map[string]store.Role{
	"admin": {
		Name:        "admin",
		Description: "Full access to every operation",
		Permissions: []string{PermAdmin},
		IsSystem:    true,
	},
	"editor": {
		Name:        "editor",
		Description: "Index, modify and scan documents",
		Permissions: []string{PermDocumentsRead, PermDocumentsWrite, PermDocumentsDelete, PermScansRun},
		IsSystem:    true,
	},
	"viewer": {
		Name:        "viewer",
		Description: "Read-only search and listing",
		Permissions: []string{PermDocumentsRead},
		IsSystem:    true,
	},
}

func (BuiltinRoles) Lookup(_ context.Context, name string) (*store.Role, bool) {
	r, ok := builtinRoles[name]
	if !ok {
		return nil, false
	}
	return &r, true
}

// Roles stacks providers; the first one that recognizes a role defines it.
type Roles struct {
	providers []RoleProvider
}

func NewRoles(providers ...RoleProvider) *Roles {
	return &Roles{providers: providers}
}

// DefaultRoles builds the standard stack: database, then file, then
// built-ins.
func DefaultRoles(st RoleReader, rolesFile string, logger *slog.Logger) *Roles {
	return NewRoles(
		&StoreRoles{Store: st, Logger: logger},
		NewFileRoles(rolesFile, logger),
		BuiltinRoles{},
	)
}

// Resolve finds a role definition, or false when no provider knows it.
func (r *Roles) Resolve(ctx context.Context, name string) (*store.Role, bool) {
	if name == "" {
		return nil, false
	}
	for _, p := range r.providers {
		if role, ok := p.Lookup(ctx, name); ok {
			return role, true
		}
	}
	return nil, false
}

// Has reports whether the role grants a permission. Unknown roles grant
// nothing; PermAdmin grants everything.
func (r *Roles) Has(ctx context.Context, role, perm string) bool {
	rec, ok := r.Resolve(ctx, role)
	if !ok {
		return false
	}
	return slices.Contains(rec.Permissions, perm) ||
		slices.Contains(rec.Permissions, PermAdmin)
}

// IsAdmin reports whether the role carries the admin permission.
func (r *Roles) IsAdmin(ctx context.Context, role string) bool {
	return r.Has(ctx, role, PermAdmin)
}
