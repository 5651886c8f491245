package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, display_name, role, auth_provider, api_key_id,
	client_id, is_active, created_at, updated_at, last_login_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.AuthProvider,
		&u.APIKeyID, &u.ClientID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// InsertUser creates a user. A duplicate email reports ErrConflict.
func (s *Store) InsertUser(ctx context.Context, u User) (*User, error) {
	created, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (email, display_name, role, auth_provider, api_key_id, client_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		u.Email, u.DisplayName, u.Role, u.AuthProvider, u.APIKeyID, u.ClientID, u.IsActive))
	if err != nil && isUnique(err) {
		return nil, fmt.Errorf("user %s: %w", u.Email, ErrConflict)
	}
	return created, err
}

// GetUserByEmail looks up one user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByAPIKey resolves the user bound to an API key, if any.
func (s *Store) GetUserByAPIKey(ctx context.Context, apiKeyID uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE api_key_id = $1 AND is_active`, apiKeyID))
}

// CountUsers reports how many users exist. Zero means the instance has never
// been bootstrapped.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// UpdateUserLogin stamps last_login_at on successful authentication.
func (s *Store) UpdateUserLogin(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET last_login_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update user login: %w", err)
	}
	return nil
}

func scanRole(row pgx.Row) (*Role, error) {
	var (
		r     Role
		perms []byte
	)
	if err := row.Scan(&r.Name, &r.Description, &perms, &r.IsSystem); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan role: %w", err)
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &r.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshal role permissions: %w", err)
		}
	}
	return &r, nil
}

// UpsertRole creates or replaces a custom role. System roles cannot be
// overwritten.
func (s *Store) UpsertRole(ctx context.Context, r Role) (*Role, error) {
	perms, err := marshalJSON(r.Permissions, "[]")
	if err != nil {
		return nil, err
	}
	role, err := scanRole(s.pool.QueryRow(ctx, `
		INSERT INTO roles (name, description, permissions, is_system)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (name)
		DO UPDATE SET description = EXCLUDED.description, permissions = EXCLUDED.permissions
		WHERE NOT roles.is_system
		RETURNING name, description, permissions, is_system`,
		r.Name, r.Description, perms))
	if errors.Is(err, ErrNotFound) {
		// The DO UPDATE filter skips system roles, which surfaces as no row.
		return nil, fmt.Errorf("role %s is a system role: %w", r.Name, ErrConflict)
	}
	return role, err
}

// GetRole fetches one role by name.
func (s *Store) GetRole(ctx context.Context, name string) (*Role, error) {
	return scanRole(s.pool.QueryRow(ctx,
		`SELECT name, description, permissions, is_system FROM roles WHERE name = $1`, name))
}

// ListRoles returns all roles, system roles first.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, description, permissions, is_system FROM roles ORDER BY is_system DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// DeleteRole removes a custom role. System roles report ErrConflict.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM roles WHERE name = $1 AND NOT is_system`, name)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var isSystem bool
		err := s.pool.QueryRow(ctx,
			`SELECT is_system FROM roles WHERE name = $1`, name).Scan(&isSystem)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete role: %w", err)
		}
		if isSystem {
			return fmt.Errorf("role %s is a system role: %w", name, ErrConflict)
		}
	}
	return nil
}
