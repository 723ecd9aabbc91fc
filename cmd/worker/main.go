package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/civicflow/platform/internal/app"
	"github.com/civicflow/platform/internal/infra"
	"github.com/civicflow/platform/internal/projection"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("worker connected to postgres")

	// Expired payments must refresh the same projection the API serves
	var projections projection.Store = projection.NewInMemoryStore()
	if cfg.RedisEnabled {
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		projections = projection.NewRedisStore(rdb)
	}

	ids, err := infra.NewIDGenerator(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}
	gateways, err := app.NewGateways(cfg, logger)
	if err != nil {
		return err
	}

	repos := app.PostgresRepositories()
	services := app.NewServices(app.ServiceDeps{
		DB:          pool,
		Repos:       repos,
		Gateways:    gateways,
		IDs:         ids,
		Projections: projections,
		Currency:    cfg.PaymentCurrency,
		Logger:      logger,
	})

	// Cron jobs
	scheduler := app.NewScheduler(&app.Jobs{
		Payments:        services.Payments,
		Applications:    services.Applications,
		Outbox:          repos.Outbox,
		DB:              pool,
		PaymentTTL:      cfg.PaymentInitiatedTTL,
		OutboxRetention: cfg.OutboxRetention,
		BatchSize:       cfg.OutboxBatchSize,
		Logger:          logger,
	}, app.Schedules{
		Expiry:      cfg.ExpirySchedule,
		SLASweep:    cfg.SLASweepSchedule,
		OutboxPurge: cfg.OutboxPurgeSchedule,
	}, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}

	// Outbox relay
	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()
	poller := infra.NewOutboxPoller(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)

	var wg sync.WaitGroup
	if producer.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	} else {
		logger.Warn("kafka disabled; outbox rows stay unpublished")
	}

	logger.Info("worker started", "jobs", scheduler.Len())
	<-ctx.Done()
	logger.Info("shutdown signal received")

	<-scheduler.Stop().Done()
	wg.Wait()

	logger.Info("worker stopped gracefully")
	return nil
}
