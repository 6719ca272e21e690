package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

// Deps lists everything the HTTP surface needs.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          *redis.Client
	Metrics        http.Handler
	Cart           cart.Service
	Checkout       checkoutsvc.Service
	Orders         orders.Service
	Payments       ordercontrollers.Settler
	WebhookService webhookcontrollers.PaymentWebhookService
	WebhookGuard   webhookcontrollers.PaymentWebhookGuard
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.Checkout.RateWindow, cfg.Checkout.RateLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps(d)))
	})

	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentWebhook(d.WebhookService, cfg.Payment.WebhookSecret, d.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore(d), logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleBuyer))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartcontrollers.CartFetch(d.Cart, logg))
				r.Put("/items", cartcontrollers.CartAddItem(d.Cart, logg))
				r.Patch("/items/{productId}", cartcontrollers.CartSetQuantity(d.Cart, logg))
				r.Delete("/items/{productId}", cartcontrollers.CartRemoveItem(d.Cart, logg))
			})

			r.With(middleware.RateLimit(checkoutPolicy, rateLimiter(d), logg)).
				Post("/checkout", controllers.Checkout(d.Checkout, logg))

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", ordercontrollers.List(d.Orders, logg))
				r.Get("/{orderId}", ordercontrollers.Detail(d.Orders, logg))
				r.Post("/{orderId}/settle", ordercontrollers.Settle(d.Payments, logg))
				r.Post("/{orderId}/payment/verify", ordercontrollers.Verify(d.Payments, logg))
			})
		})

		r.Route("/seller/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleSeller))
			r.Get("/", ordercontrollers.SellerList(d.Orders, logg))
			r.Get("/{orderId}/revenue", ordercontrollers.SellerRevenue(d.Orders, logg))
			r.Post("/{orderId}/{action}", ordercontrollers.SellerAction(d.Orders, logg))
		})
		r.With(middleware.RequireRole(logg, enums.RoleSeller)).
			Get("/seller/revenue", ordercontrollers.SellerRevenueSummary(d.Orders, logg))
	})

	return r
}

func readinessDeps(d Deps) map[string]controllers.Pinger {
	deps := map[string]controllers.Pinger{}
	if d.DB != nil {
		deps["db"] = d.DB
	}
	if d.Redis != nil {
		deps["redis"] = d.Redis
	}
	return deps
}

// The helpers below keep a nil *redis.Client from becoming a non-nil interface.

func idempotencyStore(d Deps) redis.IdempotencyStore {
	if d.Redis == nil {
		return nil
	}
	return d.Redis
}

func rateLimiter(d Deps) middleware.RateLimiter {
	if d.Redis == nil {
		return nil
	}
	return d.Redis
}
