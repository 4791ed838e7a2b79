package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"authgate/internal/app"
	"authgate/internal/observability"
)

func main() {
	os.Exit(run(app.Build))
}

// run owns every deferred release so that main can exit with its code only
// after the runtime is closed.
func run(build func(app.Options) (*app.Runtime, error)) int {
	runtime, err := build(app.Options{
		LoadDotEnv:    true,
		RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
	})
	if err != nil {
		observability.NewLogger("info").Error("bootstrap_failed", map[string]any{"error": err.Error()})
		return 1
	}

	logger := runtime.Logger
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.Error("runtime_close_failed", map[string]any{"error": err.Error()})
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", runtime.Config.Port),
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server_shutdown_failed", map[string]any{"error": err.Error()})
		}
	}()

	logger.Info("server_start", map[string]any{"addr": server.Addr})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server_failed", map[string]any{"error": err.Error()})
		return 1
	}
	logger.Info("server_stopped", nil)
	return 0
}
