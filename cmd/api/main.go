package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josh-kwaku/travel-booking-api/internal/app"
	"github.com/josh-kwaku/travel-booking-api/internal/config"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
	"github.com/josh-kwaku/travel-booking-api/internal/reconcile"
	"github.com/josh-kwaku/travel-booking-api/internal/repository"
)

const idempotencySweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("travel-booking-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start application", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("shutdown cleanup failed", "error", err)
		}
	}()

	if err := repository.MigrateUp(a.DB); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	if cfg.SweepInterval > 0 {
		sweeper := reconcile.NewSweeper(a.Maintainers(), logger, cfg.SweepInterval, cfg.CleanupAfter)
		go sweeper.Start(ctx)
	}
	go purgeIdempotencyKeys(ctx, a.Idempotency, logger)

	router, err := newRouter(a)
	if err != nil {
		slog.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", addr, "public_base_url", cfg.PublicBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return
	}
	slog.Info("server stopped")
}

type expiredKeyCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

func purgeIdempotencyKeys(ctx context.Context, repo expiredKeyCleaner, logger *slog.Logger) {
	ticker := time.NewTicker(idempotencySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanExpired(ctx)
			if err != nil {
				logger.Error("failed to purge idempotency keys", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired idempotency keys", "count", n)
			}
		}
	}
}
