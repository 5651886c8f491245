package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InsertSAMLSession records an IdP-established session so housekeeping can
// expire it later.
func (s *Store) InsertSAMLSession(ctx context.Context, sess SAMLSession) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO saml_sessions (user_id, name_id, session_index, idp_entity_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		sess.UserID, sess.NameID, sess.SessionIndex, sess.IdPEntityID, sess.ExpiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert saml session: %w", err)
	}
	return id, nil
}

// DeactivateSAMLSession marks a session inactive, e.g. on IdP-initiated
// logout.
func (s *Store) DeactivateSAMLSession(ctx context.Context, nameID, sessionIndex string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE saml_sessions SET is_active = FALSE
		WHERE name_id = $1 AND ($2 = '' OR session_index = $2)`, nameID, sessionIndex)
	if err != nil {
		return fmt.Errorf("deactivate saml session: %w", err)
	}
	return nil
}

// DeleteExpiredSAMLSessions removes sessions that have expired or were
// deactivated.
func (s *Store) DeleteExpiredSAMLSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM saml_sessions WHERE expires_at < now() OR NOT is_active`)
	if err != nil {
		return 0, fmt.Errorf("delete expired saml sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
