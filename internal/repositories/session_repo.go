package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tripmesh/tripmesh/internal/database"
	"github.com/tripmesh/tripmesh/internal/models"
)

// SessionRepository persists refresh-session records. All instances of the
// service share this store, which is what keeps session validity consistent
// across replicas.
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, token_hash, user_id, user_agent, ip_address, device_class, device_name, expires_at, revoked, created_at, last_used_at`

func scanSessionRow(scanner rowScanner) (*models.RefreshSession, error) {
	var s models.RefreshSession
	var lastUsedAt *time.Time

	err := scanner.Scan(
		&s.ID, &s.TokenHash, &s.UserID, &s.UserAgent, &s.IPAddress,
		&s.DeviceClass, &s.DeviceName, &s.ExpiresAt, &s.Revoked,
		&s.CreatedAt, &lastUsedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	s.LastUsedAt = lastUsedAt
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.RefreshSession, error) {
	defer rows.Close()

	sessions := make([]*models.RefreshSession, 0)

	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

const insertSessionQuery = `
	INSERT INTO refresh_sessions (id, token_hash, user_id, user_agent, ip_address, device_class, device_name, expires_at, revoked, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
`

func (r *SessionRepository) Create(ctx context.Context, s *models.RefreshSession) error {
	_, err := r.db.Pool.Exec(ctx, insertSessionQuery,
		s.ID, s.TokenHash, s.UserID, s.UserAgent, s.IPAddress,
		s.DeviceClass, s.DeviceName, s.ExpiresAt, s.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// GetByTokenHash fetches a session row by token hash regardless of validity.
// Validity semantics live in the session manager.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM refresh_sessions WHERE token_hash = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// TouchLastUsed updates the last-used timestamp. Returns ErrNotFound for a
// missing row; callers on the advisory path ignore any error.
func (r *SessionRepository) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE refresh_sessions SET last_used_at = NOW() WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RevokeByTokenHash marks a session revoked. Revoking a missing or
// already-revoked session is a no-op, not an error.
func (r *SessionRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	query := `UPDATE refresh_sessions SET revoked = TRUE WHERE token_hash = $1`

	_, err := r.db.Pool.Exec(ctx, query, tokenHash)
	return database.MapPostgresError(err)
}

// RevokeAllForUser bulk-revokes every active session for a user and returns
// the number of sessions affected.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE refresh_sessions SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`

	result, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// RevokeOthers revokes every active session for a user except the one with
// the given token hash.
func (r *SessionRepository) RevokeOthers(ctx context.Context, userID, exceptTokenHash string) (int64, error) {
	query := `
		UPDATE refresh_sessions SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE AND token_hash <> $2
	`

	result, err := r.db.Pool.Exec(ctx, query, userID, exceptTokenHash)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// RevokeByID revokes a single session owned by userID. Returns false when
// the session does not exist or belongs to someone else; revocation is
// idempotent so neither case is an error.
func (r *SessionRepository) RevokeByID(ctx context.Context, userID, sessionID string) (bool, error) {
	query := `UPDATE refresh_sessions SET revoked = TRUE WHERE id = $1 AND user_id = $2 AND revoked = FALSE`

	result, err := r.db.Pool.Exec(ctx, query, sessionID, userID)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// ListActive returns the user's valid sessions ordered by most recently used
// first (nulls last), then newest first.
func (r *SessionRepository) ListActive(ctx context.Context, userID string) ([]*models.RefreshSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM refresh_sessions
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > NOW()
		ORDER BY last_used_at DESC NULLS LAST, created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

// DeleteExpired hard-deletes every session past its expiry, revoked or not,
// and returns the exact number removed. Rows already gone count as zero, so
// repeated or concurrent sweeps are safe.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_sessions WHERE expires_at < NOW()`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// Rotate revokes the old session and inserts its replacement in one
// transaction. A crash between the two steps leaves zero valid sessions for
// this device rather than two, forcing re-login as the degraded outcome.
func (r *SessionRepository) Rotate(ctx context.Context, oldID string, replacement *models.RefreshSession) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `UPDATE refresh_sessions SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`, oldID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			// Lost a rotation race: another request already revoked this
			// session. Abort so only the winner's replacement survives.
			return models.ErrRefreshInvalid
		}

		_, err = tx.Exec(ctx, insertSessionQuery,
			replacement.ID, replacement.TokenHash, replacement.UserID,
			replacement.UserAgent, replacement.IPAddress,
			replacement.DeviceClass, replacement.DeviceName,
			replacement.ExpiresAt, replacement.CreatedAt,
		)
		return database.MapPostgresError(err)
	})
}
