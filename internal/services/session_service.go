package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tripmesh/tripmesh/internal/models"
	pkglogger "github.com/tripmesh/tripmesh/pkg/logger"
)

// SessionStore defines the persistence interface for refresh sessions
type SessionStore interface {
	Create(ctx context.Context, s *models.RefreshSession) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshSession, error)
	TouchLastUsed(ctx context.Context, id string) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	RevokeOthers(ctx context.Context, userID, exceptTokenHash string) (int64, error)
	RevokeByID(ctx context.Context, userID, sessionID string) (bool, error)
	ListActive(ctx context.Context, userID string) ([]*models.RefreshSession, error)
	DeleteExpired(ctx context.Context) (int64, error)
	Rotate(ctx context.Context, oldID string, replacement *models.RefreshSession) error
}

// RefreshSigner mints and verifies the raw refresh-token values handed to
// clients. The store keeps only a hash of the signed value.
type RefreshSigner interface {
	SignRefresh(userID, email, role string) (string, error)
}

// SessionManager owns refresh-session business operations: create, validate,
// rotate, revoke, list, cleanup.
type SessionManager struct {
	store      SessionStore
	signer     RefreshSigner
	refreshTTL time.Duration
	logger     *slog.Logger
	audit      *pkglogger.AuditLogger
	now        func() time.Time
}

func NewSessionManager(store SessionStore, signer RefreshSigner, refreshTTL time.Duration, logger *slog.Logger, audit *pkglogger.AuditLogger) *SessionManager {
	return &SessionManager{
		store:      store,
		signer:     signer,
		refreshTTL: refreshTTL,
		logger:     logger,
		audit:      audit,
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (sm *SessionManager) SetClock(now func() time.Time) {
	sm.now = now
}

// RefreshTTL returns the configured refresh-session lifetime.
func (sm *SessionManager) RefreshTTL() time.Duration {
	return sm.refreshTTL
}

// HashToken derives the storage key for a raw refresh-token value. The raw
// value never touches the database.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Create mints a fresh refresh-token value for the user and persists the
// backing session record. Returns the raw value for the cookie alongside the
// stored record.
func (sm *SessionManager) Create(ctx context.Context, user *models.User, device models.DeviceInfo) (string, *models.RefreshSession, error) {
	raw, err := sm.signer.SignRefresh(user.ID, user.Email, user.Role)
	if err != nil {
		return "", nil, err
	}

	now := sm.now()
	session := &models.RefreshSession{
		ID:          uuid.New().String(),
		TokenHash:   HashToken(raw),
		UserID:      user.ID,
		UserAgent:   device.UserAgent,
		IPAddress:   device.IPAddress,
		DeviceClass: device.DeviceClass,
		DeviceName:  device.DeviceName,
		ExpiresAt:   now.Add(sm.refreshTTL),
		CreatedAt:   now,
	}

	if err := sm.store.Create(ctx, session); err != nil {
		return "", nil, err
	}

	sm.audit.LogSessionEvent("session_created", user.ID, session.ID, map[string]string{
		"device_class": session.DeviceClass,
	})

	return raw, session, nil
}

// FindValid resolves a raw token value to its session record. It returns
// (nil, nil) whenever the record is missing, revoked, or expired; callers
// cannot distinguish the three cases from the return value.
func (sm *SessionManager) FindValid(ctx context.Context, raw string) (*models.RefreshSession, error) {
	session, err := sm.store.GetByTokenHash(ctx, HashToken(raw))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !session.Valid(sm.now()) {
		return nil, nil
	}

	return session, nil
}

// TouchLastUsed is a best-effort timestamp update; callers must not let a
// failure abort their request.
func (sm *SessionManager) TouchLastUsed(ctx context.Context, sessionID string) error {
	return sm.store.TouchLastUsed(ctx, sessionID)
}

// Rotate replaces a session with a fresh one carrying the same owner and
// device metadata. Revoke-old and insert-new happen in one store
// transaction; losing a concurrent rotation race surfaces as
// models.ErrRefreshInvalid.
func (sm *SessionManager) Rotate(ctx context.Context, session *models.RefreshSession) (string, *models.RefreshSession, error) {
	raw, err := sm.signer.SignRefresh(session.UserID, "", "")
	if err != nil {
		return "", nil, err
	}

	now := sm.now()
	replacement := &models.RefreshSession{
		ID:          uuid.New().String(),
		TokenHash:   HashToken(raw),
		UserID:      session.UserID,
		UserAgent:   session.UserAgent,
		IPAddress:   session.IPAddress,
		DeviceClass: session.DeviceClass,
		DeviceName:  session.DeviceName,
		ExpiresAt:   now.Add(sm.refreshTTL),
		CreatedAt:   now,
	}

	if err := sm.store.Rotate(ctx, session.ID, replacement); err != nil {
		return "", nil, err
	}

	sm.audit.LogSessionEvent("session_rotated", session.UserID, replacement.ID, map[string]string{
		"previous_session_id": session.ID,
	})

	return raw, replacement, nil
}

// Revoke marks the session for a raw token value revoked. Revoking an
// already-revoked or unknown token is a no-op.
func (sm *SessionManager) Revoke(ctx context.Context, raw string) error {
	return sm.store.RevokeByTokenHash(ctx, HashToken(raw))
}

// RevokeAll bulk-revokes every active session for a user. Used by
// logout-all and by security-sensitive events such as password reset.
func (sm *SessionManager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	count, err := sm.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	sm.audit.LogSessionEvent("sessions_revoked_all", userID, "", map[string]string{
		"count": int64String(count),
	})
	return count, nil
}

// RevokeOthers revokes every active session for a user except the one
// backing the presented raw token value.
func (sm *SessionManager) RevokeOthers(ctx context.Context, userID, exceptRaw string) (int64, error) {
	return sm.store.RevokeOthers(ctx, userID, HashToken(exceptRaw))
}

// RevokeSession revokes a single session by id after an ownership check.
// Returns false, never an error, when the session does not exist or belongs
// to another user.
func (sm *SessionManager) RevokeSession(ctx context.Context, userID, sessionID string) (bool, error) {
	revoked, err := sm.store.RevokeByID(ctx, userID, sessionID)
	if err != nil {
		return false, err
	}

	if revoked {
		sm.audit.LogSessionEvent("session_revoked", userID, sessionID, nil)
	}
	return revoked, nil
}

// ListActive returns the user's valid sessions, most recently used first.
func (sm *SessionManager) ListActive(ctx context.Context, userID string) ([]*models.RefreshSession, error) {
	return sm.store.ListActive(ctx, userID)
}

// CleanupExpired hard-deletes every session past expiry and returns the
// exact number removed.
func (sm *SessionManager) CleanupExpired(ctx context.Context) (int64, error) {
	return sm.store.DeleteExpired(ctx)
}

func int64String(n int64) string {
	return strconv.FormatInt(n, 10)
}
