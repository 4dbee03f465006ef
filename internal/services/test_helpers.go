package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tripmesh/tripmesh/internal/auth"
	"github.com/tripmesh/tripmesh/internal/models"
	pkgauth "github.com/tripmesh/tripmesh/pkg/auth"
	pkglogger "github.com/tripmesh/tripmesh/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// MockUserStore implements UserStore for testing
type MockUserStore struct {
	GetByIDFunc               func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc            func(ctx context.Context, email string) (*models.User, error)
	CreateFunc                func(ctx context.Context, user *models.User) (*models.User, error)
	IncrementFailedLoginsFunc func(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *models.User, error)
	ResetFailedLoginsFunc     func(ctx context.Context, id string) error
	SetTOTPSecretFunc         func(ctx context.Context, id string, encryptedSecret []byte) error
	EnableTOTPFunc            func(ctx context.Context, id string) error
}

func (m *MockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserStore) IncrementFailedLogins(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *models.User, error) {
	if m.IncrementFailedLoginsFunc != nil {
		return m.IncrementFailedLoginsFunc(ctx, id, maxAttempts, lockedUntil)
	}
	return 0, nil, models.ErrNotFound
}

func (m *MockUserStore) ResetFailedLogins(ctx context.Context, id string) error {
	if m.ResetFailedLoginsFunc != nil {
		return m.ResetFailedLoginsFunc(ctx, id)
	}
	return nil
}

func (m *MockUserStore) SetTOTPSecret(ctx context.Context, id string, encryptedSecret []byte) error {
	if m.SetTOTPSecretFunc != nil {
		return m.SetTOTPSecretFunc(ctx, id, encryptedSecret)
	}
	return nil
}

func (m *MockUserStore) EnableTOTP(ctx context.Context, id string) error {
	if m.EnableTOTPFunc != nil {
		return m.EnableTOTPFunc(ctx, id)
	}
	return nil
}

// FakeSessionStore is an in-memory SessionStore with the same validity and
// ordering semantics as the Postgres implementation.
type FakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.RefreshSession // keyed by id
}

func NewFakeSessionStore() *FakeSessionStore {
	return &FakeSessionStore{sessions: make(map[string]*models.RefreshSession)}
}

func (f *FakeSessionStore) Create(ctx context.Context, s *models.RefreshSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.TokenHash == s.TokenHash {
			return models.ErrConflict
		}
	}
	clone := *s
	f.sessions[s.ID] = &clone
	return nil
}

func (f *FakeSessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.TokenHash == tokenHash {
			clone := *s
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *FakeSessionStore) TouchLastUsed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	now := time.Now()
	s.LastUsedAt = &now
	return nil
}

func (f *FakeSessionStore) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.TokenHash == tokenHash {
			s.Revoked = true
		}
	}
	return nil
}

func (f *FakeSessionStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, s := range f.sessions {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			count++
		}
	}
	return count, nil
}

func (f *FakeSessionStore) RevokeOthers(ctx context.Context, userID, exceptTokenHash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, s := range f.sessions {
		if s.UserID == userID && !s.Revoked && s.TokenHash != exceptTokenHash {
			s.Revoked = true
			count++
		}
	}
	return count, nil
}

func (f *FakeSessionStore) RevokeByID(ctx context.Context, userID, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || s.UserID != userID || s.Revoked {
		return false, nil
	}
	s.Revoked = true
	return true, nil
}

func (f *FakeSessionStore) ListActive(ctx context.Context, userID string) ([]*models.RefreshSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	active := make([]*models.RefreshSession, 0)
	for _, s := range f.sessions {
		if s.UserID == userID && s.Valid(now) {
			clone := *s
			active = append(active, &clone)
		}
	}
	// last_used_at DESC NULLS LAST, created_at DESC
	sortSessions(active)
	return active, nil
}

func (f *FakeSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var count int64
	for id, s := range f.sessions {
		if s.ExpiresAt.Before(now) {
			delete(f.sessions, id)
			count++
		}
	}
	return count, nil
}

func (f *FakeSessionStore) Rotate(ctx context.Context, oldID string, replacement *models.RefreshSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.sessions[oldID]
	if !ok || old.Revoked {
		return models.ErrRefreshInvalid
	}
	old.Revoked = true
	clone := *replacement
	f.sessions[replacement.ID] = &clone
	return nil
}

// Len reports the number of stored rows, expired or not.
func (f *FakeSessionStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func sortSessions(sessions []*models.RefreshSession) {
	// Insertion sort keeps the helper dependency-free for small test sets
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0 && sessionLess(sessions[j], sessions[j-1]); j-- {
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
}

func sessionLess(a, b *models.RefreshSession) bool {
	switch {
	case a.LastUsedAt != nil && b.LastUsedAt != nil:
		return a.LastUsedAt.After(*b.LastUsedAt)
	case a.LastUsedAt != nil:
		return true
	case b.LastUsedAt != nil:
		return false
	default:
		return a.CreatedAt.After(b.CreatedAt)
	}
}

// MockMailer implements Mailer for testing
type MockMailer struct {
	mu             sync.Mutex
	WelcomeSent    []string
	SecurityAlerts []string
}

func (m *MockMailer) SendWelcome(ctx context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WelcomeSent = append(m.WelcomeSent, to)
	return nil
}

func (m *MockMailer) SendSecurityAlert(ctx context.Context, to, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SecurityAlerts = append(m.SecurityAlerts, event)
	return nil
}

// Test fixtures

func newTestIssuer() *auth.TokenIssuer {
	return auth.NewTokenIssuer(
		"access-secret-for-tests-0123456789",
		"refresh-secret-for-tests-0123456789",
		15*time.Minute,
		30*24*time.Hour,
	)
}

func newTestSessionManager(store SessionStore) *SessionManager {
	logger := slog.Default()
	return NewSessionManager(store, newTestIssuer(), 30*24*time.Hour, logger, pkglogger.NewAuditLogger(logger))
}

// NewTestUser builds a credential fixture with the given password already
// hashed at the cheapest cost.
func NewTestUser(id, email, password string) *models.User {
	hash, err := pkgauth.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	now := time.Now()
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
