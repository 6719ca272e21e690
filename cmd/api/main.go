package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/fees"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	gatewaywebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/gateway"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

const webhookScope = "gateway_webhook"

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

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing redis", err)
		}
	}()

	stats := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	feeCalc, err := fees.NewCalculatorFromConfig(cfg.Fees)
	if err != nil {
		return err
	}

	gormDB := dbClient.DB()
	cartRepo := cart.NewRepository(gormDB)
	ordersRepo := orders.NewRepository(gormDB)
	paymentsRepo := payments.NewRepository(gormDB)
	events := outbox.NewService(outbox.NewRepository(gormDB), logg)
	ledger := inventory.NewLedger()

	machine, err := orders.NewMachine(ordersRepo, ledger, events, logg)
	if err != nil {
		return err
	}
	machine = machine.WithMetrics(stats)

	gateways, err := payments.GatewaysFromConfig(bootCtx, cfg.Payment, cfg.Square, logg)
	if err != nil {
		return err
	}
	reconciler, err := payments.NewReconciler(payments.Params{
		TX:             dbClient,
		Payments:       paymentsRepo,
		Orders:         ordersRepo,
		Machine:        machine,
		Outbox:         events,
		Card:           gateways.Card,
		QR:             gateways.QR,
		Lookups:        gateways.Lookups,
		QRTTL:          cfg.Payment.QRTTL,
		CardTTL:        cfg.Payment.CardTTL,
		ReconcileAfter: cfg.Payment.ReconcileAfter,
		Logger:         logg,
		Metrics:        stats,
	})
	if err != nil {
		return err
	}

	cartService, err := cart.NewService(cart.ServiceParams{
		Repo:     cartRepo,
		Products: product.NewRepository(gormDB),
		TX:       dbClient,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		TX:          dbClient,
		Snapshots:   cart.NewSnapshotReader(cartRepo),
		Cart:        cartRepo,
		Ledger:      ledger,
		Orders:      ordersRepo,
		Payments:    paymentsRepo,
		Outbox:      events,
		Currency:    cfg.Checkout.Currency,
		MaxAttempts: cfg.Checkout.MaxAttempts,
		Logger:      logg,
		Metrics:     stats,
	})
	if err != nil {
		return err
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:    ordersRepo,
		TX:      dbClient,
		Machine: machine,
		Fees:    feeCalc,
		COD:     paymentsRepo,
	})
	if err != nil {
		return err
	}

	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Resolver: reconciler,
		Logger:   logg,
	})
	if err != nil {
		return err
	}
	webhookGuard, err := gatewaywebhook.NewIdempotencyGuard(redisClient, cfg.Payment.WebhookDedupe, webhookScope)
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Metrics:        promhttp.Handler(),
			Cart:           cartService,
			Checkout:       checkoutService,
			Orders:         ordersService,
			Payments:       reconciler,
			WebhookService: webhookService,
			WebhookGuard:   webhookGuard,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"card_gateway": gateways.Card.Name(),
	})
	logg.Info(ctx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Service.ShutdownTimeout)
		defer cancel()
		logg.Info(gctx, "api server shutting down gracefully")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
