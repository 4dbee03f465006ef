package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "access-secret-for-tests-0123456789")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh-secret-for-tests-0123456789")
	t.Setenv("DB_PASSWORD", "postgres")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenExpiry)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RefreshTokenExpiry)
	assert.Equal(t, 60*time.Second, cfg.Auth.RefreshAhead)
	assert.Equal(t, 24*time.Hour, cfg.Auth.RotateWindow)
	assert.Equal(t, 5, cfg.Auth.MaxLoginAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, "lax", cfg.Cookie.SameSite)
	assert.False(t, cfg.Cookie.Secure)
}

func TestLoad_MissingSecrets(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("REFRESH_TOKEN_SECRET", "")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_IdenticalSecretsRejected(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "same-secret-value-0123456789abcdef")
	t.Setenv("REFRESH_TOKEN_SECRET", "same-secret-value-0123456789abcdef")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_WeakSecretRejectedInProduction(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("ACCESS_TOKEN_SECRET", "too-short")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ProductionForcesSecureCookies(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("ACCESS_TOKEN_SECRET", "access-secret-production-0123456789ab")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh-secret-production-0123456789ab")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Cookie.Secure)
}

func TestLoad_RefreshAheadMustBeShorterThanAccessExpiry(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ACCESS_TOKEN_EXPIRY", "30s")
	t.Setenv("REFRESH_AHEAD", "60s")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_TOTPKeyLengthValidated(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOTP_ENCRYPTION_KEY", "short-key")

	_, err := Load()
	assert.Error(t, err)
}
