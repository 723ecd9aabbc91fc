package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicflow/platform/internal/app"
	"github.com/civicflow/platform/internal/auth"
	"github.com/civicflow/platform/internal/infra"
	"github.com/civicflow/platform/internal/projection"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Connect to Postgres
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	// Demand projections live in Redis when enabled, otherwise per process
	var projections projection.Store = projection.NewInMemoryStore()
	if cfg.RedisEnabled {
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		projections = projection.NewRedisStore(rdb)
		logger.Info("connected to redis")
	}

	ids, err := infra.NewIDGenerator(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}

	gateways, err := app.NewGateways(cfg, logger)
	if err != nil {
		return err
	}

	services := app.NewServices(app.ServiceDeps{
		DB:          pool,
		Repos:       app.PostgresRepositories(),
		Gateways:    gateways,
		IDs:         ids,
		Projections: projections,
		Currency:    cfg.PaymentCurrency,
		Logger:      logger,
	})

	r := app.NewRouter(app.RouterDeps{
		Services:          services,
		Gateways:          gateways,
		JWTMgr:            auth.NewJWTManager(cfg.JWTSecret, cfg.JWTCitizenExpiry, cfg.JWTOfficerExpiry),
		Health:            pool,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		WebhookRateLimit:  cfg.WebhookRateLimit,
		WebhookRateWindow: cfg.WebhookRateWindow,
		Logger:            logger,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr, "gateways", gateways.Names())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
