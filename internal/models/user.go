package models

import (
	"time"
)

type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Role                string // "user", "admin"
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time // Temporary lockout expiration; only a successful login or explicit reset clears it
	TOTPSecret          []byte     // AES-GCM encrypted TOTP secret, nil when not enrolled
	TOTPEnabled         bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account is locked out as of now.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
