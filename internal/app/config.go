package app

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"authgate/internal/observability"
)

type Config struct {
	Env      string
	Port     string
	LogLevel string

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	CleanupBatchSize  int
	CronSecret        string
	SentryDSN         string

	JWTSecret  string
	CSRFSecret string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	LoginMaxAttempts int
	LoginLockFor     time.Duration

	Argon2Time        uint32
	Argon2MemoryKiB   uint32
	Argon2Parallelism uint8

	RateLimitBackend string
	RedisURL         string
	GeneralRateLimit int
	APIRateLimit     int
	LoginRateLimit   int

	CORSOrigins    []string
	CookieSecure   bool
	TrustedProxies []netip.Prefix

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// LoadConfig reads the process environment. Required secrets are checked
// here so a misconfigured deploy fails at boot.
func LoadConfig() (Config, error) {
	var cfg Config
	var err error

	if cfg.DatabaseURL, err = mustEnv("DATABASE_URL"); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret, err = mustEnv("JWT_SECRET"); err != nil {
		return Config{}, err
	}
	if cfg.CSRFSecret, err = mustEnv("CSRF_SECRET"); err != nil {
		return Config{}, err
	}

	cfg.Env = envOrDefault("APP_ENV", "development")
	cfg.Port = envOrDefault("PORT", "8080")
	cfg.LogLevel = envOrDefault("LOG_LEVEL", "info")

	cfg.DBMaxOpenConns = envIntOrDefault("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = envIntOrDefault("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	cfg.DBConnMaxIdleTime = envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10)
	cfg.CleanupBatchSize = envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500)
	cfg.CronSecret = os.Getenv("CRON_SECRET")
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")

	cfg.AccessTTL = envMinutesOrDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 15)
	cfg.RefreshTTL = envDaysOrDefault("REFRESH_TOKEN_EXPIRE_DAYS", 7)
	cfg.LoginMaxAttempts = envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5)
	cfg.LoginLockFor = envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15)

	cfg.Argon2Time = uint32(envIntOrDefault("ARGON2_TIME", 4))
	cfg.Argon2MemoryKiB = uint32(envIntOrDefault("ARGON2_MEMORY_KIB", 64*1024))
	cfg.Argon2Parallelism = uint8(min(envIntOrDefault("ARGON2_PARALLELISM", 8), 255))

	cfg.RateLimitBackend = strings.ToLower(envOrDefault("RATE_LIMIT_BACKEND", "memory"))
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.GeneralRateLimit = envIntOrDefault("GENERAL_RATE_LIMIT", 100)
	cfg.APIRateLimit = envIntOrDefault("API_RATE_LIMIT", 60)
	cfg.LoginRateLimit = envIntOrDefault("LOGIN_RATE_LIMIT", 5)

	switch cfg.RateLimitBackend {
	case "memory", "postgres":
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return Config{}, fmt.Errorf("missing required env: REDIS_URL (RATE_LIMIT_BACKEND=redis)")
		}
	default:
		return Config{}, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}

	cfg.CORSOrigins = envListOrDefault("CORS_ORIGINS", []string{"http://localhost:3000"})
	cfg.CookieSecure = EnvBoolOrDefault("COOKIE_SECURE", true)
	if cfg.TrustedProxies, err = observability.ParseTrustedProxies(envListOrDefault("TRUSTED_PROXIES", nil)); err != nil {
		return Config{}, err
	}

	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminEmail = os.Getenv("ADMIN_EMAIL")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	return cfg, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

// envListOrDefault splits a comma separated variable, dropping blanks.
func envListOrDefault(name string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}

	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
