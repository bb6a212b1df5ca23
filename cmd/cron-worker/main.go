package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cardmint/cardmint-backend/internal/cron"
	fulfillmentsvc "github.com/cardmint/cardmint-backend/internal/fulfillment"
	"github.com/cardmint/cardmint-backend/internal/inventory"
	marketplacesvc "github.com/cardmint/cardmint-backend/internal/marketplace"
	printqueuesvc "github.com/cardmint/cardmint-backend/internal/printqueue"
	"github.com/cardmint/cardmint-backend/pkg/config"
	"github.com/cardmint/cardmint-backend/pkg/db"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/metrics"
	"github.com/cardmint/cardmint-backend/pkg/migrate"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
	"github.com/cardmint/cardmint-backend/pkg/redis"
	"github.com/cardmint/cardmint-backend/pkg/shipping"
	"github.com/cardmint/cardmint-backend/pkg/square"
)

const lockKeyFormat = "cm:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gdb := dbClient.DB()
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(gdb)
	outboxService := outbox.NewService(outboxRepo, logg)

	inventoryService := inventory.NewService(gdb, inventory.NewRepository(gdb), outboxService, logg)

	printQueueService := printqueuesvc.NewService(
		gdb,
		printqueuesvc.NewRepository(gdb),
		outboxService,
		fulfillmentMetrics,
		cfg.PrintQueue,
		cfg.Password,
		logg,
	)

	shippingClient, err := shipping.NewClient(
		cfg.Shipping.APIKey,
		shipping.WithBaseURL(cfg.Shipping.BaseURL),
		shipping.WithHTTPClient(&http.Client{Timeout: cfg.Shipping.HTTPTimeout}),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping client", err)
		os.Exit(1)
	}

	fulfillmentRepo := fulfillmentsvc.NewRepository(gdb)
	fulfillmentService, err := fulfillmentsvc.NewService(fulfillmentsvc.ServiceParams{
		DB:         gdb,
		Repo:       fulfillmentRepo,
		Shipper:    shippingClient,
		PrintQueue: printQueueService,
		Events:     outboxService,
		Metrics:    fulfillmentMetrics,
		Config:     cfg.Fulfillment,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()

	sweepJob, err := cron.NewReservationSweepJob(cron.ReservationSweepJobParams{
		Logger:    logg,
		Inventory: inventoryService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation sweep job", err)
		os.Exit(1)
	}
	registry.Register(sweepJob)

	recoveryJob, err := cron.NewPrintRecoveryJob(cron.PrintRecoveryJobParams{
		Logger:     logg,
		PrintQueue: printQueueService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create print recovery job", err)
		os.Exit(1)
	}
	registry.Register(recoveryJob)

	staleLockJob, err := cron.NewStaleLockJob(cron.StaleLockJobParams{
		Logger:      logg,
		Fulfillment: fulfillmentService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stale lock job", err)
		os.Exit(1)
	}
	registry.Register(staleLockJob)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	registry.Register(retentionJob)

	if cfg.Square.AccessToken != "" {
		squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create square client", err)
			os.Exit(1)
		}
		marketplaceService, err := marketplacesvc.NewService(gdb, fulfillmentRepo, squareClient, outboxService, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create marketplace service", err)
			os.Exit(1)
		}
		pollJob, err := cron.NewMarketplacePollJob(cron.MarketplacePollJobParams{
			Logger:   logg,
			Importer: marketplaceService,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create marketplace poll job", err)
			os.Exit(1)
		}
		registry.Register(pollJob)
	} else {
		logg.Warn(context.Background(), "square credentials missing, marketplace poll disabled")
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
