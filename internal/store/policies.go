package store

import (
	"context"
	"fmt"
)

// UpsertRetentionPolicy persists a per-category retention override.
func (s *Store) UpsertRetentionPolicy(ctx context.Context, category string, days int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO retention_policies (category, days)
		VALUES ($1, $2)
		ON CONFLICT (category) DO UPDATE SET days = EXCLUDED.days, updated_at = now()`,
		category, days)
	if err != nil {
		return fmt.Errorf("upsert retention policy: %w", err)
	}
	return nil
}

// ListRetentionPolicies returns all persisted retention overrides.
func (s *Store) ListRetentionPolicies(ctx context.Context) ([]RetentionPolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, days, updated_at FROM retention_policies ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()

	var policies []RetentionPolicy
	for rows.Next() {
		var p RetentionPolicy
		if err := rows.Scan(&p.Category, &p.Days, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan retention policy: %w", err)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retention policies: %w", err)
	}
	return policies, nil
}
