package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cardmint/cardmint-backend/api/routes"
	checkoutsvc "github.com/cardmint/cardmint-backend/internal/checkout"
	"github.com/cardmint/cardmint-backend/internal/email"
	fulfillmentsvc "github.com/cardmint/cardmint-backend/internal/fulfillment"
	"github.com/cardmint/cardmint-backend/internal/inventory"
	marketplacesvc "github.com/cardmint/cardmint-backend/internal/marketplace"
	ordersvc "github.com/cardmint/cardmint-backend/internal/orders"
	printqueuesvc "github.com/cardmint/cardmint-backend/internal/printqueue"
	stripewebhook "github.com/cardmint/cardmint-backend/internal/webhooks/stripe"
	"github.com/cardmint/cardmint-backend/pkg/config"
	"github.com/cardmint/cardmint-backend/pkg/db"
	"github.com/cardmint/cardmint-backend/pkg/instance"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/metrics"
	"github.com/cardmint/cardmint-backend/pkg/migrate"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
	"github.com/cardmint/cardmint-backend/pkg/redis"
	"github.com/cardmint/cardmint-backend/pkg/shipping"
	"github.com/cardmint/cardmint-backend/pkg/square"
	"github.com/cardmint/cardmint-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	outboxService := outbox.NewService(outbox.NewRepository(gdb), logg)

	inventoryRepo := inventory.NewRepository(gdb)
	inventoryService := inventory.NewService(gdb, inventoryRepo, outboxService, logg)

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}
	checkoutService := checkoutsvc.NewService(inventoryService, checkoutsvc.NewStripeClient(stripeClient), cfg.Checkout, logg)

	ordersRepo := ordersvc.NewRepository(gdb)
	ordersService := ordersvc.NewService(gdb, ordersRepo, fulfillmentMetrics, logg)

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

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		TransactionRunner: dbClient,
		WebhookRepo:       stripewebhook.NewRepository(gdb),
		InventoryRepo:     inventoryRepo,
		OrdersRepo:        ordersRepo,
		OrdersService:     ordersService,
		FulfillmentRepo:   fulfillmentRepo,
		EmailRepo:         email.NewRepository(gdb),
		Outbox:            outboxService,
		Metrics:           fulfillmentMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.IdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	// Marketplace import is optional; without Square credentials the
	// import endpoints report the service as unavailable.
	var marketplaceService *marketplacesvc.Service
	if cfg.Square.AccessToken != "" {
		squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create square client", err)
			os.Exit(1)
		}
		marketplaceService, err = marketplacesvc.NewService(gdb, fulfillmentRepo, squareClient, outboxService, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create marketplace service", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "square credentials missing, marketplace import disabled")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:             cfg,
			Logger:             logg,
			DB:                 dbClient,
			Redis:              redisClient,
			Inventory:          inventoryService,
			Checkout:           checkoutService,
			Orders:             ordersService,
			Fulfillment:        fulfillmentService,
			PrintQueue:         printQueueService,
			Marketplace:        marketplaceService,
			StripeClient:       stripeClient,
			StripeWebhookSvc:   webhookService,
			StripeWebhookGuard: webhookGuard,
			MetricsGatherer:    prometheus.DefaultGatherer,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
