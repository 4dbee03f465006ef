package models

import "time"

// RefreshSession is the server-side record backing one logged-in device.
// Only the SHA-256 of the raw token value is stored; the raw value lives in
// the client's cookie and is never persisted.
type RefreshSession struct {
	ID          string
	TokenHash   string
	UserID      string
	UserAgent   string
	IPAddress   string
	DeviceClass string // "web", "mobile", "tablet", "unknown" - display only
	DeviceName  string
	ExpiresAt   time.Time
	Revoked     bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// Valid reports whether the session can still mint access tokens.
func (s *RefreshSession) Valid(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}

// DeviceInfo carries display-only request metadata captured at session
// creation. It is never used for authorization decisions.
type DeviceInfo struct {
	UserAgent   string
	IPAddress   string
	DeviceClass string
	DeviceName  string
}
