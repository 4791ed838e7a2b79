package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"authgate/internal/auth"
	"authgate/internal/csrf"
	"authgate/internal/db"
	"authgate/internal/maintenance"
	"authgate/internal/observability"
	"authgate/internal/ratelimit"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config  Config
	Logger  *observability.Logger
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database, logger); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	closers := []func() error{database.Close}
	closeAll := func() error {
		observability.FlushSentry()
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	store, closeStore, err := newCounterStore(ctx, cfg, database)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	limiter := ratelimit.New(store, ratelimit.DefaultWindow, map[ratelimit.Class]int{
		ratelimit.General:       cfg.GeneralRateLimit,
		ratelimit.API:           cfg.APIRateLimit,
		ratelimit.Login:         cfg.LoginRateLimit,
		ratelimit.LoginUsername: cfg.LoginRateLimit,
	})

	codec, err := auth.NewTokenCodec(cfg.JWTSecret)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	guard, err := csrf.NewGuard(cfg.CSRFSecret, cfg.CookieSecure)
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	authRepo := auth.NewRepository(database)
	hasher := auth.NewPasswordHasher(auth.HasherParams{
		Time:        cfg.Argon2Time,
		MemoryKiB:   cfg.Argon2MemoryKiB,
		Parallelism: cfg.Argon2Parallelism,
	})
	ledger := auth.NewLedger(codec, authRepo)

	authService, err := auth.NewService(authRepo, codec, ledger, hasher, logger)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	authService.WithSecurityConfig(cfg.LoginMaxAttempts, cfg.LoginLockFor, cfg.AccessTTL, cfg.RefreshTTL)
	authService.WithLoginGate(limiter.Gate(ratelimit.LoginUsername))

	if err := authService.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	cleanupHandler := maintenance.NewCleanupHandler(authRepo, limiter, logger, cfg.CronSecret, cfg.CleanupBatchSize)

	handler := NewHandler(Components{
		Logger:         logger,
		Auth:           auth.NewHandler(authService, guard, logger),
		Service:        authService,
		CSRF:           guard,
		Limiter:        limiter,
		Cleanup:        cleanupHandler,
		Health:         healthHandler(database),
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
	})

	logger.Info("runtime_ready", map[string]any{
		"env":                cfg.Env,
		"rate_limit_backend": cfg.RateLimitBackend,
	})

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Handler: handler,
		Close:   closeAll,
	}, nil
}

// newCounterStore returns the configured store and, when it owns a
// connection, the function that releases it.
func newCounterStore(ctx context.Context, cfg Config, database *sql.DB) (ratelimit.CounterStore, func() error, error) {
	switch cfg.RateLimitBackend {
	case "redis":
		client, err := ratelimit.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return ratelimit.NewRedisStore(client), client.Close, nil
	case "postgres":
		return ratelimit.NewPostgresStore(database), nil, nil
	default:
		return ratelimit.NewMemoryStore(0), nil, nil
	}
}

// Components are the pieces NewHandler routes between.
type Components struct {
	Logger         *observability.Logger
	Auth           *auth.Handler
	Service        *auth.Service
	CSRF           *csrf.Guard
	Limiter        *ratelimit.Limiter
	Cleanup        *maintenance.CleanupHandler
	Health         http.HandlerFunc
	CORSOrigins    []string
	TrustedProxies []netip.Prefix
}

// NewHandler builds the route table and wraps it, outermost first, in panic
// recovery, proxy header resolution, request logging, CORS, security headers,
// rate limiting and CSRF.
func NewHandler(c Components) http.Handler {
	requireAuth := func(next http.HandlerFunc) http.Handler {
		return auth.Middleware(c.Service, c.Logger, next)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", c.Auth.Login)
	mux.HandleFunc("POST /auth/refresh", c.Auth.Refresh)
	mux.HandleFunc("POST /auth/logout", c.Auth.Logout)
	mux.HandleFunc("POST /auth/register", c.Auth.Register)
	mux.HandleFunc("GET /auth/csrf-token", c.CSRF.ServeToken)
	mux.Handle("GET /api/me", requireAuth(c.Auth.Me))
	mux.Handle("GET /api/admin/users", auth.Middleware(c.Service, c.Logger, auth.RequireRole(auth.RoleAdmin, http.HandlerFunc(c.Auth.ListUsers))))
	if c.Cleanup != nil {
		mux.HandleFunc("GET /internal/maintenance/cleanup", c.Cleanup.Handle)
		mux.HandleFunc("POST /internal/maintenance/cleanup", c.Cleanup.Handle)
	}
	if c.Health != nil {
		mux.HandleFunc("GET /health", c.Health)
	}

	var handler http.Handler = mux
	handler = csrf.Middleware(c.CSRF, c.Logger, handler)
	handler = ratelimit.Middleware(c.Limiter, c.Logger, handler)
	handler = observability.SecurityHeadersMiddleware(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", csrf.HeaderName},
		ExposedHeaders:   []string{csrf.HeaderName},
	}).Handler(handler)
	handler = observability.RequestLoggingMiddleware(c.Logger, handler)
	handler = observability.ProxyHeadersMiddleware(c.TrustedProxies, handler)
	handler = observability.RecoverMiddleware(c.Logger, handler)

	return handler
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
