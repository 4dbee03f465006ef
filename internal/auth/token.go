package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tripmesh/tripmesh/internal/models"
)

// TokenIssuer signs and verifies access and refresh JWTs. The two token
// kinds use independent secrets so compromising one signing domain does not
// compromise the other. Verification is pure computation with no store
// access, safe to run on every request.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

// NewTokenIssuer creates a TokenIssuer with independent signing domains.
func NewTokenIssuer(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		now:           time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (ti *TokenIssuer) SetClock(now func() time.Time) {
	ti.now = now
}

// AccessExpiry returns the configured access-token lifetime.
func (ti *TokenIssuer) AccessExpiry() time.Duration {
	return ti.accessExpiry
}

// SignAccess creates a short-lived access token for the user.
func (ti *TokenIssuer) SignAccess(userID, email, role string) (string, error) {
	return ti.sign(models.TokenKindAccess, userID, email, role, ti.accessSecret, ti.accessExpiry)
}

// SignRefresh creates a long-lived refresh token for the user. The signed
// refresh JWT is only used on the explicit refresh endpoint; the persisted
// session record remains the source of truth for validity.
func (ti *TokenIssuer) SignRefresh(userID, email, role string) (string, error) {
	return ti.sign(models.TokenKindRefresh, userID, email, role, ti.refreshSecret, ti.refreshExpiry)
}

func (ti *TokenIssuer) sign(kind, userID, email, role string, secret []byte, expiry time.Duration) (string, error) {
	now := ti.now()

	claims := &models.TokenClaims{
		Kind:   kind,
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	return tokenString, nil
}

// Verify parses a token against the signing domain for kind and returns its
// claims. It reports models.ErrTokenExpired past expiry and
// models.ErrTokenInvalid for signature mismatch, malformed input, or a kind
// mismatch.
func (ti *TokenIssuer) Verify(tokenString, kind string) (*models.TokenClaims, error) {
	secret := ti.accessSecret
	if kind == models.TokenKindRefresh {
		secret = ti.refreshSecret
	}

	claims := &models.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(ti.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}

	if !token.Valid || claims.Kind != kind {
		return nil, models.ErrTokenInvalid
	}

	return claims, nil
}
