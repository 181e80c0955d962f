package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store"

	"github.com/jackc/pgx/v5"
)

// GetPrincipal resolves a session token to the acting principal, including
// the business affiliations used for access decisions. Expired sessions are
// indistinguishable from missing ones.
func (s *Store) GetPrincipal(ctx context.Context, sessionID string) (models.Principal, error) {
	var principal models.Principal
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, role
		FROM sessions
		WHERE session_id = $1 AND expires_at > $2
	`, sessionID, time.Now().UTC())
	if err := row.Scan(&principal.UserID, &principal.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Principal{}, store.ErrSessionNotFound
		}
		return models.Principal{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT business_id
		FROM business_members
		WHERE user_id = $1
	`, principal.UserID)
	if err != nil {
		return models.Principal{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var businessID string
		if err := rows.Scan(&businessID); err != nil {
			return models.Principal{}, err
		}
		principal.BusinessIDs = append(principal.BusinessIDs, businessID)
	}
	if err := rows.Err(); err != nil {
		return models.Principal{}, err
	}
	return principal, nil
}
