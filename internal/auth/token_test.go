package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmesh/tripmesh/internal/models"
)

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer(
		"access-secret-for-tests-0123456789",
		"refresh-secret-for-tests-0123456789",
		15*time.Minute,
		30*24*time.Hour,
	)
}

func TestTokenIssuer_AccessRoundTrip(t *testing.T) {
	issuer := newTestIssuer()

	token, err := issuer.SignAccess("user123", "trip@example.com", "user")
	require.NoError(t, err)

	claims, err := issuer.Verify(token, models.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user123", claims.UserID)
	assert.Equal(t, "trip@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.Equal(t, models.TokenKindAccess, claims.Kind)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenIssuer_KindsUseIndependentSecrets(t *testing.T) {
	issuer := newTestIssuer()

	accessToken, err := issuer.SignAccess("user123", "trip@example.com", "user")
	require.NoError(t, err)
	refreshToken, err := issuer.SignRefresh("user123", "trip@example.com", "user")
	require.NoError(t, err)

	// Each token only verifies against its own signing domain
	_, err = issuer.Verify(accessToken, models.TokenKindRefresh)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	_, err = issuer.Verify(refreshToken, models.TokenKindAccess)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	_, err = issuer.Verify(refreshToken, models.TokenKindRefresh)
	assert.NoError(t, err)
}

func TestTokenIssuer_ExpiredToken(t *testing.T) {
	issuer := newTestIssuer()

	past := time.Now().Add(-1 * time.Hour)
	issuer.SetClock(func() time.Time { return past })
	token, err := issuer.SignAccess("user123", "trip@example.com", "user")
	require.NoError(t, err)

	issuer.SetClock(time.Now)
	_, err = issuer.Verify(token, models.TokenKindAccess)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

func TestTokenIssuer_MalformedToken(t *testing.T) {
	issuer := newTestIssuer()

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := issuer.Verify(tok, models.TokenKindAccess)
		assert.ErrorIs(t, err, models.ErrTokenInvalid)
	}
}

func TestTokenIssuer_TamperedSignature(t *testing.T) {
	issuer := newTestIssuer()
	other := NewTokenIssuer(
		"a-different-access-secret-0123456789",
		"a-different-refresh-secret-0123456789",
		15*time.Minute, 30*24*time.Hour,
	)

	token, err := other.SignAccess("user123", "trip@example.com", "user")
	require.NoError(t, err)

	_, err = issuer.Verify(token, models.TokenKindAccess)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}
