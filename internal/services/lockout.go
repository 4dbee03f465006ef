package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/tripmesh/tripmesh/internal/models"
	pkglogger "github.com/tripmesh/tripmesh/pkg/logger"
)

// LockoutStore is the slice of the credential store the policy needs.
type LockoutStore interface {
	IncrementFailedLogins(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *models.User, error)
	ResetFailedLogins(ctx context.Context, id string) error
}

// LockoutPolicy tracks failed login attempts per credential and enforces a
// temporary lockout once the configured threshold is reached.
type LockoutPolicy struct {
	store        LockoutStore
	maxAttempts  int
	lockDuration time.Duration
	logger       *slog.Logger
	audit        *pkglogger.AuditLogger
	now          func() time.Time
}

func NewLockoutPolicy(store LockoutStore, maxAttempts int, lockDuration time.Duration, logger *slog.Logger, audit *pkglogger.AuditLogger) *LockoutPolicy {
	return &LockoutPolicy{
		store:        store,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		logger:       logger,
		audit:        audit,
		now:          time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (p *LockoutPolicy) SetClock(now func() time.Time) {
	p.now = now
}

// IsLocked reports whether the credential is locked out right now. The lock
// check runs before password verification in the login flow, so hammering a
// locked account probes nothing and extends nothing.
func (p *LockoutPolicy) IsLocked(user *models.User) bool {
	return user.Locked(p.now())
}

// RegisterFailure increments the failure counter; reaching maxAttempts sets
// locked_until. The counter is not reset when the lock engages - only a
// later successful login does that.
func (p *LockoutPolicy) RegisterFailure(ctx context.Context, user *models.User) {
	attempts, updated, err := p.store.IncrementFailedLogins(ctx, user.ID, p.maxAttempts, p.now().Add(p.lockDuration))
	if err != nil {
		p.logger.Error("failed to record login failure",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}

	if updated.LockedUntil != nil && attempts == p.maxAttempts {
		p.logger.Warn("account locked after repeated failures",
			slog.String("user_id", user.ID),
			slog.Int("attempts", attempts))
		p.audit.LogAccountAction("account_locked", user.ID, "", map[string]string{
			"locked_until": updated.LockedUntil.UTC().Format(time.RFC3339),
		})
	}
}

// Reset zeroes the counter and clears any lockout after a successful login.
func (p *LockoutPolicy) Reset(ctx context.Context, userID string) error {
	return p.store.ResetFailedLogins(ctx, userID)
}
