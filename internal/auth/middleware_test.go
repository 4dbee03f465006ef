package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/models"
)

// mockRefresher implements SessionRefresher for testing
type mockRefresher struct {
	FindValidFunc     func(ctx context.Context, rawToken string) (*models.RefreshSession, error)
	RotateFunc        func(ctx context.Context, session *models.RefreshSession) (string, *models.RefreshSession, error)
	TouchLastUsedFunc func(ctx context.Context, sessionID string) error

	findValidCalls int
	rotateCalls    int
	touchCalls     int
}

func (m *mockRefresher) FindValid(ctx context.Context, rawToken string) (*models.RefreshSession, error) {
	m.findValidCalls++
	if m.FindValidFunc != nil {
		return m.FindValidFunc(ctx, rawToken)
	}
	return nil, nil
}

func (m *mockRefresher) Rotate(ctx context.Context, session *models.RefreshSession) (string, *models.RefreshSession, error) {
	m.rotateCalls++
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx, session)
	}
	return "", nil, models.ErrRefreshInvalid
}

func (m *mockRefresher) TouchLastUsed(ctx context.Context, sessionID string) error {
	m.touchCalls++
	if m.TouchLastUsedFunc != nil {
		return m.TouchLastUsedFunc(ctx, sessionID)
	}
	return nil
}

func (m *mockRefresher) RefreshTTL() time.Duration {
	return 30 * 24 * time.Hour
}

func testCookieConfig() config.CookieConfig {
	return config.CookieConfig{SameSite: "lax"}
}

func newGatewayIssuer(accessExpiry time.Duration) *TokenIssuer {
	return NewTokenIssuer(
		"access-secret-for-tests-0123456789",
		"refresh-secret-for-tests-0123456789",
		accessExpiry,
		30*24*time.Hour,
	)
}

// okHandler records the claims the gateway injected.
func okHandler(captured **models.TokenClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = GetUserFromContext(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func signAccess(t *testing.T, issuer *TokenIssuer) string {
	t.Helper()
	token, err := issuer.SignAccess("user1", "user1@example.com", "user")
	require.NoError(t, err)
	return token
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	gw := NewGateway(newGatewayIssuer(15*time.Minute), &mockRefresher{}, testCookieConfig(), time.Minute, 24*time.Hour, slog.Default())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_MalformedHeader(t *testing.T) {
	issuer := newGatewayIssuer(15 * time.Minute)
	gw := NewGateway(issuer, &mockRefresher{}, testCookieConfig(), time.Minute, 24*time.Hour, slog.Default())

	for _, header := range []string{
		"Basic dXNlcjpwYXNz",
		"Bearer",
		signAccess(t, issuer), // missing scheme
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/trips", nil)
		req.Header.Set("Authorization", header)
		gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestRequireAuth_RefreshTokenRejectedAsBearer(t *testing.T) {
	issuer := newGatewayIssuer(15 * time.Minute)
	gw := NewGateway(issuer, &mockRefresher{}, testCookieConfig(), time.Minute, 24*time.Hour, slog.Default())

	refreshToken, err := issuer.SignRefresh("user1", "user1@example.com", "user")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_ExpiredTokenRejected(t *testing.T) {
	issuer := newGatewayIssuer(15 * time.Minute)
	issuer.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	token := signAccess(t, issuer)
	issuer.SetClock(time.Now)

	refresher := &mockRefresher{}
	gw := NewGateway(issuer, refresher, testCookieConfig(), time.Minute, 24*time.Hour, slog.Default())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "some-refresh-token"})
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	// Expiry is a hard rejection; the cookie cannot rescue the request here
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, refresher.findValidCalls)
}

func TestRequireAuth_FreshTokenNoSideEffects(t *testing.T) {
	issuer := newGatewayIssuer(15 * time.Minute)
	refresher := &mockRefresher{}
	gw := NewGateway(issuer, refresher, testCookieConfig(), time.Minute, 24*time.Hour, slog.Default())

	var claims *models.TokenClaims
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, issuer))
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "some-refresh-token"})
	gw.RequireAuth(okHandler(&claims)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, claims)
	assert.Equal(t, "user1", claims.UserID)
	assert.Equal(t, "user", claims.Role)

	assert.Empty(t, rec.Header().Get(AccessTokenHeader))
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
	assert.Zero(t, refresher.findValidCalls)
}

// nearExpiryGateway issues 30-second tokens against a 60-second renewal
// window so every request lands on the advisory path.
func nearExpiryGateway(refresher *mockRefresher) (*Gateway, *TokenIssuer) {
	issuer := newGatewayIssuer(30 * time.Second)
	gw := NewGateway(issuer, refresher, testCookieConfig(), time.Minute, 24*time.Hour, slog.Default())
	return gw, issuer
}

func TestRequireAuth_NearExpiryMintsHeader(t *testing.T) {
	session := &models.RefreshSession{
		ID:        "sess1",
		UserID:    "user1",
		ExpiresAt: time.Now().Add(20 * 24 * time.Hour),
	}
	refresher := &mockRefresher{
		FindValidFunc: func(ctx context.Context, rawToken string) (*models.RefreshSession, error) {
			return session, nil
		},
	}
	gw, issuer := nearExpiryGateway(refresher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, issuer))
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "raw-refresh"})
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	// A renewed token arrives in the response header and verifies as a
	// normal access token for the same user
	renewed := rec.Header().Get(AccessTokenHeader)
	require.NotEmpty(t, renewed)
	claims, err := issuer.Verify(renewed, models.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user1", claims.UserID)

	// Session far from expiry: touched, not rotated, no new cookie
	assert.Equal(t, 1, refresher.touchCalls)
	assert.Zero(t, refresher.rotateCalls)
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestRequireAuth_NearExpiryNoCookieProceeds(t *testing.T) {
	refresher := &mockRefresher{}
	gw, issuer := nearExpiryGateway(refresher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, issuer))
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(AccessTokenHeader))
	assert.Zero(t, refresher.findValidCalls)
}

func TestRequireAuth_StoreFailureProceeds(t *testing.T) {
	refresher := &mockRefresher{
		FindValidFunc: func(ctx context.Context, rawToken string) (*models.RefreshSession, error) {
			return nil, context.DeadlineExceeded
		},
	}
	gw, issuer := nearExpiryGateway(refresher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, issuer))
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "raw-refresh"})
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(AccessTokenHeader))
}

func TestRequireAuth_SessionOwnerMismatchSkipsRenewal(t *testing.T) {
	refresher := &mockRefresher{
		FindValidFunc: func(ctx context.Context, rawToken string) (*models.RefreshSession, error) {
			return &models.RefreshSession{ID: "sess1", UserID: "someone-else", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	gw, issuer := nearExpiryGateway(refresher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, issuer))
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "raw-refresh"})
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(AccessTokenHeader))
	assert.Zero(t, refresher.rotateCalls)
	assert.Zero(t, refresher.touchCalls)
}

func TestRequireAuth_RotatesSessionNearItsExpiry(t *testing.T) {
	// Session within the rotation window
	session := &models.RefreshSession{
		ID:        "sess1",
		UserID:    "user1",
		ExpiresAt: time.Now().Add(2 * time.Hour),
	}
	replacement := &models.RefreshSession{
		ID:        "sess2",
		UserID:    "user1",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
	}
	refresher := &mockRefresher{
		FindValidFunc: func(ctx context.Context, rawToken string) (*models.RefreshSession, error) {
			return session, nil
		},
		RotateFunc: func(ctx context.Context, s *models.RefreshSession) (string, *models.RefreshSession, error) {
			return "new-raw-refresh", replacement, nil
		},
	}
	gw, issuer := nearExpiryGateway(refresher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, issuer))
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "raw-refresh"})
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(AccessTokenHeader))
	assert.Equal(t, 1, refresher.rotateCalls)
	assert.Zero(t, refresher.touchCalls)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, RefreshCookieName, cookies[0].Name)
	assert.Equal(t, "new-raw-refresh", cookies[0].Value)
	assert.Equal(t, RefreshCookiePath, cookies[0].Path)
	assert.True(t, cookies[0].HttpOnly)
}

func TestRequireAuth_RotationRaceLossSkipsRenewal(t *testing.T) {
	refresher := &mockRefresher{
		FindValidFunc: func(ctx context.Context, rawToken string) (*models.RefreshSession, error) {
			return &models.RefreshSession{ID: "sess1", UserID: "user1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		RotateFunc: func(ctx context.Context, s *models.RefreshSession) (string, *models.RefreshSession, error) {
			return "", nil, models.ErrRefreshInvalid
		},
	}
	gw, issuer := nearExpiryGateway(refresher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, issuer))
	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "raw-refresh"})
	gw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	// Losing the rotation race never fails the request, and no token pair
	// the store could not persist is handed out
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(AccessTokenHeader))
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestRequireRole(t *testing.T) {
	issuer := newGatewayIssuer(15 * time.Minute)
	gw := NewGateway(issuer, &mockRefresher{}, testCookieConfig(), time.Minute, 24*time.Hour, slog.Default())

	adminOnly := gw.RequireAuth(RequireRole("admin")(okHandler(nil)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signAccess(t, issuer)) // role "user"
	adminOnly.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken, err := issuer.SignAccess("admin1", "admin@example.com", "admin")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	adminOnly.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
