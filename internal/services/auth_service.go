package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tripmesh/tripmesh/internal/auth"
	"github.com/tripmesh/tripmesh/internal/models"
	pkgauth "github.com/tripmesh/tripmesh/pkg/auth"
	pkglogger "github.com/tripmesh/tripmesh/pkg/logger"
)

// UserStore defines the interface for credential persistence
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	IncrementFailedLogins(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (int, *models.User, error)
	ResetFailedLogins(ctx context.Context, id string) error
	SetTOTPSecret(ctx context.Context, id string, encryptedSecret []byte) error
	EnableTOTP(ctx context.Context, id string) error
}

// Mailer sends account emails. Delivery is always fire-and-forget; token
// issuance never waits on it.
type Mailer interface {
	SendWelcome(ctx context.Context, to string) error
	SendSecurityAlert(ctx context.Context, to, event string) error
}

// AuthService handles registration, login, and the explicit refresh flow.
type AuthService struct {
	users      UserStore
	sessions   *SessionManager
	issuer     *auth.TokenIssuer
	lockout    *LockoutPolicy
	totp       *auth.TOTPManager // nil when the second factor is not configured
	mailer     Mailer            // nil disables outbound email
	bcryptCost int

	// rotateWindow is the remaining session lifetime below which an explicit
	// refresh rotates the session instead of reusing it.
	rotateWindow time.Duration

	logger *slog.Logger
	audit  *pkglogger.AuditLogger
	now    func() time.Time
}

func NewAuthService(users UserStore, sessions *SessionManager, issuer *auth.TokenIssuer, lockout *LockoutPolicy, totp *auth.TOTPManager, mailer Mailer, bcryptCost int, rotateWindow time.Duration, logger *slog.Logger, audit *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		users:        users,
		sessions:     sessions,
		issuer:       issuer,
		lockout:      lockout,
		totp:         totp,
		mailer:       mailer,
		bcryptCost:   bcryptCost,
		rotateWindow: rotateWindow,
		logger:       logger,
		audit:        audit,
		now:          time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	TOTPEnabled   bool   `json:"totp_enabled"`
	CreatedAt     string `json:"created_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"-"` // transported via httpOnly cookie, never in the body
	User         *UserResponse `json:"user"`
}

// Register creates a new account and issues its first token pair.
func (s *AuthService) Register(ctx context.Context, email, password string, device models.DeviceInfo) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: email already registered")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(password, s.bcryptCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         "user",
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID))
	s.audit.LogAccountAction("user_registered", created.ID, device.IPAddress, nil)

	// Welcome email must never block token issuance.
	s.sendAsync(func(ctx context.Context) error { return s.mailer.SendWelcome(ctx, created.Email) })

	return s.issueTokenPair(ctx, created, device)
}

// Login verifies credentials and issues a token pair. The lockout check
// runs before password verification.
func (s *AuthService) Login(ctx context.Context, email, password, totpCode string, device models.DeviceInfo) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, models.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Same error as a wrong password, to prevent enumeration
			s.logger.Info("login failed: invalid credentials",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			s.audit.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				FailureReason: "invalid_credentials",
				IPAddress:     device.IPAddress,
				Success:       false,
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if s.lockout.IsLocked(user) {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			FailureReason: "account_locked",
			IPAddress:     device.IPAddress,
			Success:       false,
		})
		return nil, models.ErrAccountLocked
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.lockout.RegisterFailure(ctx, user)
		s.logger.Info("login failed: invalid credentials")
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			FailureReason: "invalid_credentials",
			IPAddress:     device.IPAddress,
			Success:       false,
		})
		return nil, models.ErrInvalidCredentials
	}

	if user.TOTPEnabled {
		if s.totp == nil {
			s.logger.Error("totp enabled for user but no totp manager configured", slog.String("user_id", user.ID))
			return nil, models.ErrInternalServer
		}
		if totpCode == "" {
			return nil, models.ErrTOTPRequired
		}
		valid, err := s.totp.Validate(user.TOTPSecret, totpCode)
		if err != nil {
			s.logger.Error("totp validation error", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		if !valid {
			s.lockout.RegisterFailure(ctx, user)
			s.audit.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				UserID:        user.ID,
				FailureReason: "totp_invalid",
				IPAddress:     device.IPAddress,
				Success:       false,
			})
			return nil, models.ErrTOTPInvalid
		}
	}

	// Success clears the counter and any expired lock
	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if err := s.lockout.Reset(ctx, user.ID); err != nil {
			s.logger.Error("failed to reset login failures", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Success:   true,
	})

	return s.issueTokenPair(ctx, user, device)
}

// RefreshResult carries the outcome of an explicit refresh: a new access
// token always, and a new refresh-token value only when the session rotated.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	Rotated      bool
	User         *UserResponse
}

// Refresh exchanges a valid refresh token for a new access token via the
// explicit endpoint. When the session's remaining lifetime has dropped below
// the rotation window the session is rotated and a fresh refresh token is
// returned.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (*RefreshResult, error) {
	if rawRefresh = strings.TrimSpace(rawRefresh); rawRefresh == "" {
		return nil, models.ErrRefreshInvalid
	}

	// Cheap signature/expiry reject before touching the store
	if _, err := s.issuer.Verify(rawRefresh, models.TokenKindRefresh); err != nil {
		return nil, models.ErrRefreshInvalid
	}

	session, err := s.sessions.FindValid(ctx, rawRefresh)
	if err != nil {
		s.logger.Error("refresh session lookup failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if session == nil {
		return nil, models.ErrRefreshInvalid
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrRefreshInvalid
		}
		s.logger.Error("failed to load session owner", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	accessToken, err := s.issuer.SignAccess(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to sign access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	result := &RefreshResult{
		AccessToken: accessToken,
		User:        userToResponse(user),
	}

	if session.ExpiresAt.Sub(s.now()) < s.rotateWindow {
		newRaw, _, err := s.sessions.Rotate(ctx, session)
		if err != nil {
			if errors.Is(err, models.ErrRefreshInvalid) {
				// Lost a concurrent rotation race; the caller holds a
				// superseded token and must refresh again with the winner's.
				return nil, models.ErrRefreshInvalid
			}
			s.logger.Error("session rotation failed", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		result.RefreshToken = newRaw
		result.Rotated = true
	} else {
		if err := s.sessions.TouchLastUsed(ctx, session.ID); err != nil {
			// Best effort only
			s.logger.Debug("failed to touch session", slog.String("session_id", session.ID), slog.Any("error", err))
		}
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID), slog.Bool("rotated", result.Rotated))
	return result, nil
}

// Logout revokes the refresh session behind the presented cookie value.
// Revoking an unknown or already-revoked token is a no-op.
func (s *AuthService) Logout(ctx context.Context, rawRefresh string) error {
	if rawRefresh == "" {
		return nil
	}
	if err := s.sessions.Revoke(ctx, rawRefresh); err != nil {
		s.logger.Error("failed to revoke session on logout", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// LogoutAll revokes every active session for the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	count, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		s.logger.Error("failed to revoke all sessions", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user logged out everywhere",
		slog.String("user_id", userID), slog.Int64("sessions_revoked", count))

	if user, err := s.users.GetByID(ctx, userID); err == nil {
		s.sendAsync(func(ctx context.Context) error {
			return s.mailer.SendSecurityAlert(ctx, user.Email, "logout_all")
		})
	}

	return nil
}

// TOTPSetup holds what a client needs to finish second-factor enrollment.
type TOTPSetup struct {
	Secret    string `json:"secret"`
	QRDataURL string `json:"qr_data_url"`
}

// SetupTOTP starts second-factor enrollment for the user.
func (s *AuthService) SetupTOTP(ctx context.Context, userID string) (*TOTPSetup, error) {
	if s.totp == nil {
		return nil, models.ErrBadRequest
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	enrollment, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate totp enrollment", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.users.SetTOTPSecret(ctx, userID, enrollment.EncryptedSecret); err != nil {
		s.logger.Error("failed to store totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TOTPSetup{Secret: enrollment.Secret, QRDataURL: enrollment.QRDataURL}, nil
}

// EnableTOTP completes enrollment once the user proves possession of the
// secret with a valid code.
func (s *AuthService) EnableTOTP(ctx context.Context, userID, code string) error {
	if s.totp == nil {
		return models.ErrBadRequest
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.ErrUnauthorized
	}
	if len(user.TOTPSecret) == 0 {
		return models.ErrBadRequest
	}

	valid, err := s.totp.Validate(user.TOTPSecret, code)
	if err != nil {
		s.logger.Error("totp validation error", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !valid {
		return models.ErrTOTPInvalid
	}

	if err := s.users.EnableTOTP(ctx, userID); err != nil {
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("totp_enabled", userID, "", nil)
	return nil
}

// issueTokenPair mints the access token and persists a refresh session.
func (s *AuthService) issueTokenPair(ctx context.Context, user *models.User, device models.DeviceInfo) (*AuthResponse, error) {
	accessToken, err := s.issuer.SignAccess(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("failed to sign access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	rawRefresh, _, err := s.sessions.Create(ctx, user, device)
	if err != nil {
		s.logger.Error("failed to create refresh session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		User:         userToResponse(user),
	}, nil
}

// sendAsync runs an email delivery in the background with a bounded
// lifetime. Failures are logged and dropped.
func (s *AuthService) sendAsync(send func(context.Context) error) {
	if s.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := send(ctx); err != nil {
			s.logger.Warn("email delivery failed", slog.Any("error", err))
		}
	}()
}

func userToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		TOTPEnabled:   user.TOTPEnabled,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
	}
}
