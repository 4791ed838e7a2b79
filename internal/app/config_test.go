package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/authgate")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_BACKEND", "")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("COOKIE_SECURE", "")
	t.Setenv("TRUSTED_PROXIES", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.LoginLockFor)
	assert.Equal(t, 100, cfg.GeneralRateLimit)
	assert.Equal(t, 60, cfg.APIRateLimit)
	assert.Equal(t, 5, cfg.LoginRateLimit)
	assert.Equal(t, "memory", cfg.RateLimitBackend)
	assert.Equal(t, uint32(4), cfg.Argon2Time)
	assert.Equal(t, uint32(65536), cfg.Argon2MemoryKiB)
	assert.Equal(t, uint8(8), cfg.Argon2Parallelism)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "5")
	t.Setenv("REFRESH_TOKEN_EXPIRE_DAYS", "1")
	t.Setenv("LOGIN_RATE_LIMIT", "3")
	t.Setenv("RATE_LIMIT_BACKEND", "Postgres")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 3, cfg.LoginRateLimit)
	assert.Equal(t, "postgres", cfg.RateLimitBackend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
	require.Len(t, cfg.TrustedProxies, 2)
	assert.Equal(t, "192.0.2.10/32", cfg.TrustedProxies[1].String())
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("CSRF_SECRET", "")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "CSRF_SECRET")
	})

	t.Run("redis without url", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("RATE_LIMIT_BACKEND", "redis")
		t.Setenv("REDIS_URL", "")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "REDIS_URL")
	})

	t.Run("bad trusted proxy", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,proxy.internal")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "proxy.internal")
	})

	t.Run("unknown backend", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("RATE_LIMIT_BACKEND", "memcached")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
