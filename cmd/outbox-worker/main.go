package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/therapy-scheduling/cmd/mainconfig"
	appconfig "github.com/wolfman30/therapy-scheduling/internal/config"
	"github.com/wolfman30/therapy-scheduling/internal/events"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := validate(cfg); err != nil {
		logger.Error("invalid outbox worker config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	sqsClient := mainconfig.NewSQSClient(awsCfg, cfg)

	deliverer := newDeliverer(events.NewOutboxStore(pool), events.NewSQSDelivery(sqsClient, cfg.SchedulingEventsQueueURL), cfg, logger)

	logger.Info("outbox worker started",
		"queue_url", cfg.SchedulingEventsQueueURL,
		"interval", cfg.OutboxPollInterval,
		"batch_size", cfg.OutboxBatchSize,
	)
	deliverer.Start(ctx)

	// Flush what is already pending before exiting.
	flushed := deliverer.Drain(context.WithoutCancel(ctx))
	logger.Info("outbox worker stopped", "flushed", flushed)
}

func validate(cfg *appconfig.Config) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(cfg.SchedulingEventsQueueURL) == "" {
		return errors.New("SCHEDULING_EVENTS_QUEUE_URL is required")
	}
	return nil
}

func newDeliverer(store *events.OutboxStore, handler events.DeliveryHandler, cfg *appconfig.Config, logger *logging.Logger) *events.Deliverer {
	return events.NewDeliverer(store, handler, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval)
}
