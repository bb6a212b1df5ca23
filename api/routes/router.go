package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardmint/cardmint-backend/api/controllers"
	webhookcontrollers "github.com/cardmint/cardmint-backend/api/controllers/webhooks"
	"github.com/cardmint/cardmint-backend/api/middleware"
	checkoutsvc "github.com/cardmint/cardmint-backend/internal/checkout"
	fulfillmentsvc "github.com/cardmint/cardmint-backend/internal/fulfillment"
	"github.com/cardmint/cardmint-backend/internal/inventory"
	marketplacesvc "github.com/cardmint/cardmint-backend/internal/marketplace"
	ordersvc "github.com/cardmint/cardmint-backend/internal/orders"
	printqueuesvc "github.com/cardmint/cardmint-backend/internal/printqueue"
	stripewebhook "github.com/cardmint/cardmint-backend/internal/webhooks/stripe"
	"github.com/cardmint/cardmint-backend/pkg/config"
	"github.com/cardmint/cardmint-backend/pkg/db"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/redis"
	"github.com/cardmint/cardmint-backend/pkg/stripe"
)

// Params carries everything the router wires into handlers.
type Params struct {
	Config *config.Config
	Logger *logger.Logger

	DB    db.Pinger
	Redis *redis.Client

	Inventory   *inventory.Service
	Checkout    *checkoutsvc.Service
	Orders      *ordersvc.Service
	Fulfillment *fulfillmentsvc.Service
	PrintQueue  *printqueuesvc.Service
	Marketplace *marketplacesvc.Service

	StripeClient       *stripe.Client
	StripeWebhookSvc   *stripewebhook.Service
	StripeWebhookGuard *stripewebhook.IdempotencyGuard

	MetricsGatherer prometheus.Gatherer
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.DB, p.Redis, logg))
	})

	if p.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit("webhook", cfg.RateLimit.WebhookIPLimit, cfg.RateLimit.WebhookWindow, p.Redis, logg))
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhookSvc, p.StripeClient, p.StripeWebhookGuard, logg))
	})

	// Storefront surface. Checkout sessions are created by the public shop.
	r.Route("/api/v1/shop", func(r chi.Router) {
		r.Get("/items", controllers.ListItems(p.Inventory, logg))
		r.Post("/checkout", controllers.CreateCheckoutSession(p.Checkout, logg))
		r.Post("/checkout/cancel", controllers.CancelCheckout(p.Checkout, logg))
	})

	// Print agent surface, authenticated by agent name and token headers.
	r.Route("/api/v1/agent", func(r chi.Router) {
		r.Use(
			middleware.RateLimit("agent", cfg.RateLimit.AgentLimit, cfg.RateLimit.AgentWindow, p.Redis, logg),
			middleware.AgentAuth(p.PrintQueue, logg),
		)
		r.Post("/heartbeat", controllers.AgentHeartbeat(p.PrintQueue, logg))
		r.Post("/jobs/claim-download", controllers.AgentClaimDownload(p.PrintQueue, logg))
		r.Post("/jobs/claim-print", controllers.AgentClaimPrint(p.PrintQueue, logg))
		r.Post("/jobs/{jobId}/downloaded", controllers.AgentCompleteDownload(p.PrintQueue, logg))
		r.Post("/jobs/{jobId}/printed", controllers.AgentCompletePrint(p.PrintQueue, logg))
		r.Post("/jobs/{jobId}/fail", controllers.AgentFailJob(p.PrintQueue, logg))
		r.Post("/jobs/recover", controllers.AgentRecoverStuck(p.PrintQueue, logg))
	})

	// Operator surface behind JWT auth.
	r.Route("/api/v1/ops", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(cfg.JWT, logg))

		r.Route("/items", func(r chi.Router) {
			r.Get("/", controllers.ListItems(p.Inventory, logg))
			r.Post("/", controllers.CreateItem(p.Inventory, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(p.Orders, logg))
			r.Get("/{orderId}", controllers.GetOrder(p.Orders, logg))
		})

		r.Route("/fulfillments", func(r chi.Router) {
			r.Get("/", controllers.ListFulfillments(p.Fulfillment, logg))
			r.Get("/stats", controllers.FulfillmentStats(p.Fulfillment, logg))
			r.Get("/{recordId}", controllers.GetFulfillment(p.Fulfillment, logg))
			r.Post("/{recordId}/label", controllers.PurchaseLabel(p.Fulfillment, logg))
			r.Post("/{recordId}/review", controllers.ReviewFulfillment(p.Fulfillment, logg))
			r.Post("/{recordId}/flag", controllers.FlagFulfillment(p.Fulfillment, logg))
			r.Post("/{recordId}/shipped", controllers.ShipFulfillment(p.Fulfillment, logg))
		})

		r.Route("/print-jobs", func(r chi.Router) {
			r.Get("/", controllers.ListPrintJobs(p.PrintQueue, logg))
			r.Post("/{jobId}/review", controllers.ReviewPrintJob(p.PrintQueue, logg))
			r.Post("/{jobId}/reprint", controllers.ReprintJob(p.PrintQueue, logg))
		})

		r.Route("/marketplace", func(r chi.Router) {
			r.Post("/import", controllers.ImportMarketplaceOrders(p.Marketplace, logg))
			r.Post("/import-order", controllers.ImportMarketplaceOrder(p.Marketplace, logg))
		})

		// Agent registration mints credentials, admins only.
		r.With(middleware.RequireRole(enums.OperatorRoleAdmin, logg)).
			Post("/agents", controllers.RegisterPrintAgent(p.PrintQueue, logg))
	})

	return r
}
