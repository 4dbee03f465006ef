package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tripmesh/tripmesh/internal/auth"
	"github.com/tripmesh/tripmesh/internal/models"
	"github.com/tripmesh/tripmesh/internal/services"
	pkghttp "github.com/tripmesh/tripmesh/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Role:   "user",
		Kind:   models.TokenKindAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithRefreshCookie attaches a refresh-session cookie to the request
func WithRefreshCookie(req *http.Request, rawToken string) *http.Request {
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: rawToken})
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc   func(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error)
	LoginFunc      func(ctx context.Context, email, password, totpCode string, device models.DeviceInfo) (*services.AuthResponse, error)
	RefreshFunc    func(ctx context.Context, rawRefresh string) (*services.RefreshResult, error)
	LogoutFunc     func(ctx context.Context, rawRefresh string) error
	LogoutAllFunc  func(ctx context.Context, userID string) error
	SetupTOTPFunc  func(ctx context.Context, userID string) (*services.TOTPSetup, error)
	EnableTOTPFunc func(ctx context.Context, userID, code string) error
}

func (m *MockAuthService) Register(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password, device)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Login(ctx context.Context, email, password, totpCode string, device models.DeviceInfo) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, totpCode, device)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Refresh(ctx context.Context, rawRefresh string) (*services.RefreshResult, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, rawRefresh)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Logout(ctx context.Context, rawRefresh string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, rawRefresh)
	}
	return nil
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) error {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, userID)
	}
	return nil
}

func (m *MockAuthService) SetupTOTP(ctx context.Context, userID string) (*services.TOTPSetup, error) {
	if m.SetupTOTPFunc != nil {
		return m.SetupTOTPFunc(ctx, userID)
	}
	return nil, models.ErrBadRequest
}

func (m *MockAuthService) EnableTOTP(ctx context.Context, userID, code string) error {
	if m.EnableTOTPFunc != nil {
		return m.EnableTOTPFunc(ctx, userID, code)
	}
	return models.ErrBadRequest
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ListActiveFunc    func(ctx context.Context, userID string) ([]*models.RefreshSession, error)
	RevokeSessionFunc func(ctx context.Context, userID, sessionID string) (bool, error)
}

func (m *MockSessionService) ListActive(ctx context.Context, userID string) ([]*models.RefreshSession, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockSessionService) RevokeSession(ctx context.Context, userID, sessionID string) (bool, error) {
	if m.RevokeSessionFunc != nil {
		return m.RevokeSessionFunc(ctx, userID, sessionID)
	}
	return false, nil
}

func (m *MockSessionService) RefreshTTL() time.Duration {
	return 30 * 24 * time.Hour
}
