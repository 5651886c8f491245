package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docdex/internal/store"
)

// ---------- fakes ----------

type fakeRoleReader struct {
	roles map[string]*store.Role
	err   error
}

func (f *fakeRoleReader) GetRole(_ context.Context, name string) (*store.Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.roles[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

// ---------- tests ----------

func TestBuiltinRolePermissions(t *testing.T) {
	roles := NewRoles(BuiltinRoles{})
	ctx := context.Background()

	if !roles.Has(ctx, "admin", "anything.at.all") {
		t.Error("admin should pass every permission check")
	}
	if !roles.IsAdmin(ctx, "admin") {
		t.Error("admin should be admin")
	}
	if !roles.Has(ctx, "editor", PermDocumentsWrite) {
		t.Error("editor should write documents")
	}
	if roles.IsAdmin(ctx, "editor") {
		t.Error("editor should not be admin")
	}
	if roles.Has(ctx, "viewer", PermDocumentsWrite) {
		t.Error("viewer should not write documents")
	}
	if !roles.Has(ctx, "viewer", PermDocumentsRead) {
		t.Error("viewer should read documents")
	}
	if roles.Has(ctx, "nonexistent", PermDocumentsRead) {
		t.Error("unknown roles must deny everything")
	}
}

func TestStoreProviderShadowsBuiltin(t *testing.T) {
	reader := &fakeRoleReader{roles: map[string]*store.Role{
		"viewer": {Name: "viewer", Permissions: []string{PermDocumentsRead, PermScansRun}},
	}}
	roles := NewRoles(&StoreRoles{Store: reader}, BuiltinRoles{})
	ctx := context.Background()

	if !roles.Has(ctx, "viewer", PermScansRun) {
		t.Error("database definition of viewer should win over the builtin")
	}
	// Roles the database does not know still resolve through the stack.
	if !roles.Has(ctx, "editor", PermDocumentsWrite) {
		t.Error("editor should fall through to the builtin provider")
	}
}

func TestStoreProviderErrorFallsThrough(t *testing.T) {
	reader := &fakeRoleReader{err: errors.New("connection refused")}
	roles := NewRoles(&StoreRoles{Store: reader}, BuiltinRoles{})

	if !roles.Has(context.Background(), "viewer", PermDocumentsRead) {
		t.Error("a failing database must not orphan builtin roles")
	}
}

func TestFileRolesProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	def := `[{"name":"auditor","description":"read-only audit","permissions":["documents.read","audit.read"]}]`
	if err := os.WriteFile(path, []byte(def), 0o644); err != nil {
		t.Fatal(err)
	}

	roles := NewRoles(NewFileRoles(path, nil), BuiltinRoles{})
	ctx := context.Background()

	if !roles.Has(ctx, "auditor", "audit.read") {
		t.Error("file-defined role not resolved")
	}
	if roles.IsAdmin(ctx, "auditor") {
		t.Error("auditor should not be admin")
	}
}

func TestFileRolesMissingFile(t *testing.T) {
	roles := NewRoles(NewFileRoles(filepath.Join(t.TempDir(), "absent.json"), nil), BuiltinRoles{})

	if roles.Has(context.Background(), "auditor", "audit.read") {
		t.Error("missing roles file should resolve nothing")
	}
	if !roles.Has(context.Background(), "admin", PermAdmin) {
		t.Error("builtins should still resolve behind a missing file")
	}
}

func TestAdminPermGrantsEverything(t *testing.T) {
	reader := &fakeRoleReader{roles: map[string]*store.Role{
		"ops": {Name: "ops", Permissions: []string{PermAdmin}},
	}}
	roles := NewRoles(&StoreRoles{Store: reader}, BuiltinRoles{})

	if !roles.Has(context.Background(), "ops", "some.future.permission") {
		t.Error("system.admin should satisfy any permission check")
	}
}
