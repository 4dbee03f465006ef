package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tripmesh/tripmesh/internal/config"
	"github.com/tripmesh/tripmesh/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey contextKey = "user"
	// TokenContextKey is the key for storing the raw access token in context
	TokenContextKey contextKey = "token"
)

// AccessTokenHeader is the response header carrying a freshly minted access
// token when the gateway performed a rolling refresh. The request's own
// Authorization header is never mutated.
const AccessTokenHeader = "X-Access-Token"

// advisoryTimeout bounds each store call on the rolling-refresh path. A
// timeout there means "no session found", never a failed request.
const advisoryTimeout = 2 * time.Second

// SessionRefresher is the slice of the session manager the gateway needs for
// advisory renewal.
type SessionRefresher interface {
	FindValid(ctx context.Context, rawToken string) (*models.RefreshSession, error)
	Rotate(ctx context.Context, session *models.RefreshSession) (string, *models.RefreshSession, error)
	TouchLastUsed(ctx context.Context, sessionID string) error
	RefreshTTL() time.Duration
}

// Gateway authenticates requests and transparently renews access tokens that
// are close to expiry. Authorization is decided solely by access-token
// verification; everything involving the session store is best effort.
type Gateway struct {
	issuer    *TokenIssuer
	sessions  SessionRefresher
	cookieCfg config.CookieConfig

	// refreshAhead is how close to expiry a token must be before renewal is
	// attempted; rotateWindow is the remaining session lifetime below which
	// renewal also rotates the refresh session.
	refreshAhead time.Duration
	rotateWindow time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// NewGateway creates the request-time auth gateway.
func NewGateway(issuer *TokenIssuer, sessions SessionRefresher, cookieCfg config.CookieConfig, refreshAhead, rotateWindow time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		issuer:       issuer,
		sessions:     sessions,
		cookieCfg:    cookieCfg,
		refreshAhead: refreshAhead,
		rotateWindow: rotateWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// RequireAuth validates the bearer access token and injects its claims into
// the request context. An expired or invalid token is rejected outright;
// recovery from expiry is only available on the explicit refresh endpoint.
func (g *Gateway) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(w, "invalid authorization header format")
			return
		}

		tokenString := parts[1]

		claims, err := g.issuer.Verify(tokenString, models.TokenKindAccess)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		// The advisory path never changes the identity established above.
		g.maybeRollAccess(w, r, claims)

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		ctx = context.WithValue(ctx, TokenContextKey, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// maybeRollAccess renews a near-expiry access token using the refresh-session
// cookie. Every failure on this path degrades to "no proactive renewal": the
// request proceeds on the still-valid access token.
func (g *Gateway) maybeRollAccess(w http.ResponseWriter, r *http.Request, claims *models.TokenClaims) {
	now := g.now()

	if claims.ExpiresAt == nil || claims.ExpiresAt.Time.Sub(now) > g.refreshAhead {
		return // fresh enough, no side effects
	}

	rawToken, err := GetRefreshCookie(r)
	if err != nil || rawToken == "" {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), advisoryTimeout)
	defer cancel()

	session, err := g.sessions.FindValid(ctx, rawToken)
	if err != nil {
		g.logger.Debug("rolling refresh: session lookup failed", slog.Any("error", err))
		return
	}
	if session == nil || session.UserID != claims.UserID {
		return
	}

	accessToken, err := g.issuer.SignAccess(claims.UserID, claims.Email, claims.Role)
	if err != nil {
		g.logger.Error("rolling refresh: failed to sign access token", slog.Any("error", err))
		return
	}

	if session.ExpiresAt.Sub(now) < g.rotateWindow {
		newRaw, newSession, err := g.sessions.Rotate(ctx, session)
		if err != nil {
			// Rotation is advisory here; the old session may have been
			// superseded by a concurrent request. Skip renewal entirely so we
			// never hand out a token pair we could not persist.
			g.logger.Debug("rolling refresh: rotation failed", slog.Any("error", err))
			return
		}
		SetRefreshCookie(w, newRaw, g.sessions.RefreshTTL(), g.cookieCfg)
		g.logger.Info("refresh session rotated",
			slog.String("user_id", claims.UserID),
			slog.String("session_id", newSession.ID))
	} else {
		if err := g.sessions.TouchLastUsed(ctx, session.ID); err != nil {
			g.logger.Debug("rolling refresh: touch failed", slog.Any("error", err))
		}
	}

	w.Header().Set(AccessTokenHeader, accessToken)
}

// RequireRole enforces role-based access using the role claim. Must run
// after RequireAuth.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				unauthorized(w, "unauthorized")
				return
			}

			if claims.Role != role {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetTokenFromContext extracts the raw access token from request context
func GetTokenFromContext(r *http.Request) string {
	token, ok := r.Context().Value(TokenContextKey).(string)
	if !ok {
		return ""
	}
	return token
}

func unauthorized(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusUnauthorized)
}
