package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripmesh/tripmesh/internal/database"
	"github.com/tripmesh/tripmesh/internal/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// rowScanner interface for scanning user rows (single row or result set)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, email, password_hash, role, email_verified, failed_login_attempts, locked_until, totp_secret, totp_enabled, created_at, updated_at`

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var lockedUntil *time.Time

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Role,
		&user.EmailVerified, &user.FailedLoginAttempts, &lockedUntil,
		&user.TOTPSecret, &user.TOTPEnabled,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.LockedUntil = lockedUntil
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = "user"
	}

	query := `
		INSERT INTO users (id, email, password_hash, role, email_verified, failed_login_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		RETURNING ` + userColumns

	return scanUserRow(r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Role,
		user.EmailVerified, user.CreatedAt, user.UpdatedAt,
	))
}

// IncrementFailedLogins bumps the failure counter in a single atomic update
// and sets locked_until once the counter reaches maxAttempts. The counter is
// not reset when the lock engages; only a later successful login clears it.
func (r *UserRepository) IncrementFailedLogins(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *models.User, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE
				WHEN failed_login_attempts + 1 >= $2 THEN $3
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUserRow(r.db.Pool.QueryRow(ctx, query, id, maxAttempts, lockedUntil))
	if err != nil {
		return 0, nil, err
	}

	return user.FailedLoginAttempts, user, nil
}

// ResetFailedLogins zeroes the failure counter and clears any lockout.
func (r *UserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetTOTPSecret stores the encrypted TOTP secret for a pending enrollment.
func (r *UserRepository) SetTOTPSecret(ctx context.Context, id string, encryptedSecret []byte) error {
	query := `UPDATE users SET totp_secret = $2, totp_enabled = FALSE, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id, encryptedSecret)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EnableTOTP marks the second factor active after the first code verifies.
func (r *UserRepository) EnableTOTP(ctx context.Context, id string) error {
	query := `UPDATE users SET totp_enabled = TRUE, updated_at = NOW() WHERE id = $1 AND totp_secret IS NOT NULL`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no pending totp enrollment: %w", models.ErrBadRequest)
	}
	return nil
}

// SetEmailVerified flips the email_verified flag.
func (r *UserRepository) SetEmailVerified(ctx context.Context, id string) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
