package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tripmesh/tripmesh/internal/auth"
	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/models"
	"github.com/tripmesh/tripmesh/internal/services"
	pkghttp "github.com/tripmesh/tripmesh/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string, device models.DeviceInfo) (*services.AuthResponse, error)
	Login(ctx context.Context, email, password, totpCode string, device models.DeviceInfo) (*services.AuthResponse, error)
	Refresh(ctx context.Context, rawRefresh string) (*services.RefreshResult, error)
	Logout(ctx context.Context, rawRefresh string) error
	LogoutAll(ctx context.Context, userID string) error
	SetupTOTP(ctx context.Context, userID string) (*services.TOTPSetup, error)
	EnableTOTP(ctx context.Context, userID, code string) error
}

// SessionServiceInterface defines the interface for per-device session management
type SessionServiceInterface interface {
	ListActive(ctx context.Context, userID string) ([]*models.RefreshSession, error)
	RevokeSession(ctx context.Context, userID, sessionID string) (bool, error)
	RefreshTTL() time.Duration
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service   AuthServiceInterface
	sessions  SessionServiceInterface
	ipConfig  *pkghttp.IPConfig
	cookieCfg config.CookieConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, sessions SessionServiceInterface, ipConfig *pkghttp.IPConfig, cookieCfg config.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		sessions:  sessions,
		ipConfig:  ipConfig,
		cookieCfg: cookieCfg,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	DeviceName string `json:"device_name" validate:"omitempty,max=100"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	TOTPCode   string `json:"totp_code" validate:"omitempty,len=6,numeric"`
	DeviceName string `json:"device_name" validate:"omitempty,max=100"`
}

// TOTPEnableRequest represents the request body for completing TOTP enrollment
type TOTPEnableRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// SessionResponse represents an active session in the listing
type SessionResponse struct {
	ID          string  `json:"id"`
	DeviceClass string  `json:"device_class"`
	DeviceName  string  `json:"device_name,omitempty"`
	IPAddress   string  `json:"ip_address"`
	CreatedAt   string  `json:"created_at"`
	LastUsedAt  *string `json:"last_used_at"`
	ExpiresAt   string  `json:"expires_at"`
	Current     bool    `json:"current"`
}

// deviceFromRequest collects the connection metadata stored alongside each
// refresh session.
func (h *AuthHandler) deviceFromRequest(r *http.Request, deviceName string) models.DeviceInfo {
	userAgent := r.Header.Get("User-Agent")
	return models.DeviceInfo{
		UserAgent:   userAgent,
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
		DeviceClass: pkghttp.DeviceClass(userAgent),
		DeviceName:  deviceName,
	}
}

// Register handles account creation
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Register(r.Context(), req.Email, req.Password, h.deviceFromRequest(r, req.DeviceName))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Email already registered")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid registration request")
		case errors.Is(err, models.ErrInternalServer):
			pkghttp.WriteInternalError(w, "Internal server error")
		default:
			// Password policy failures carry their own generic message
			pkghttp.WriteBadRequest(w, err.Error())
		}
		return
	}

	auth.SetRefreshCookie(w, authResp.RefreshToken, h.sessions.RefreshTTL(), h.cookieCfg)
	pkghttp.WriteJSON(w, http.StatusCreated, authResp)
}

// Login handles credential verification and token issuance
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.Login(r.Context(), req.Email, req.Password, req.TOTPCode, h.deviceFromRequest(r, req.DeviceName))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			// Same message for unknown email and wrong password
			pkghttp.WriteUnauthorized(w, "Invalid email or password")
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteAccountLocked(w)
		case errors.Is(err, models.ErrTOTPRequired):
			pkghttp.WriteError(w, http.StatusUnauthorized, "totp_required", "Two-factor code required")
		case errors.Is(err, models.ErrTOTPInvalid):
			pkghttp.WriteError(w, http.StatusUnauthorized, "totp_invalid", "Invalid two-factor code")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	auth.SetRefreshCookie(w, authResp.RefreshToken, h.sessions.RefreshTTL(), h.cookieCfg)
	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// RefreshResponse represents the explicit-refresh response body
type RefreshResponse struct {
	AccessToken string                 `json:"access_token"`
	User        *services.UserResponse `json:"user"`
}

// Refresh exchanges the refresh-session cookie for a new access token.
// When the session was rotated the replacement token is set as a new cookie.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	rawToken, err := auth.GetRefreshCookie(r)
	if err != nil || rawToken == "" {
		pkghttp.WriteUnauthorized(w, "Invalid refresh token")
		return
	}

	result, err := h.service.Refresh(r.Context(), rawToken)
	if err != nil {
		if errors.Is(err, models.ErrRefreshInvalid) {
			// The cookie is useless now; drop it so the client falls back
			// to a full login
			auth.ClearRefreshCookie(w, h.cookieCfg)
			pkghttp.WriteUnauthorized(w, "Invalid refresh token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if result.Rotated {
		auth.SetRefreshCookie(w, result.RefreshToken, h.sessions.RefreshTTL(), h.cookieCfg)
	}

	pkghttp.WriteJSON(w, http.StatusOK, RefreshResponse{
		AccessToken: result.AccessToken,
		User:        result.User,
	})
}

// Logout revokes the current refresh session and clears its cookie
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rawToken, err := auth.GetRefreshCookie(r)
	if err == nil && rawToken != "" {
		if err := h.service.Logout(r.Context(), rawToken); err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	// Absent cookie still clears client state; logout is idempotent
	auth.ClearRefreshCookie(w, h.cookieCfg)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session for the authenticated user
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearRefreshCookie(w, h.cookieCfg)
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions returns the caller's active sessions, most recently used first
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.sessions.ListActive(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	// Mark the session backing the presented cookie, when there is one
	currentHash := ""
	if rawToken, err := auth.GetRefreshCookie(r); err == nil && rawToken != "" {
		currentHash = services.HashToken(rawToken)
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		item := SessionResponse{
			ID:          s.ID,
			DeviceClass: s.DeviceClass,
			DeviceName:  s.DeviceName,
			IPAddress:   s.IPAddress,
			CreatedAt:   s.CreatedAt.Format(time.RFC3339),
			ExpiresAt:   s.ExpiresAt.Format(time.RFC3339),
			Current:     currentHash != "" && s.TokenHash == currentHash,
		}
		if s.LastUsedAt != nil {
			lastUsed := s.LastUsedAt.Format(time.RFC3339)
			item.LastUsedAt = &lastUsed
		}
		resp = append(resp, item)
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string][]SessionResponse{"sessions": resp})
}

// RevokeSession revokes one of the caller's sessions by id
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Missing session id")
		return
	}

	revoked, err := h.sessions.RevokeSession(r.Context(), claims.UserID, sessionID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	if !revoked {
		// Unknown ids and other users' sessions look the same
		pkghttp.WriteNotFound(w, "Session not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TOTPSetup starts second-factor enrollment for the authenticated user
func (h *AuthHandler) TOTPSetup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	setup, err := h.service.SetupTOTP(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Two-factor authentication is not available")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, setup)
}

// TOTPEnable completes enrollment once the user presents a valid code
func (h *AuthHandler) TOTPEnable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req TOTPEnableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.EnableTOTP(r.Context(), claims.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrTOTPInvalid):
			pkghttp.WriteError(w, http.StatusBadRequest, "totp_invalid", "Invalid two-factor code")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Enrollment has not been started")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "unauthorized")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
