package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/coursepay-backend/api/routes"
	"github.com/angelmondragon/coursepay-backend/internal/bootstrap"
	"github.com/angelmondragon/coursepay-backend/internal/receipts"
	razorpaywebhook "github.com/angelmondragon/coursepay-backend/internal/webhooks/razorpay"
	squarewebhook "github.com/angelmondragon/coursepay-backend/internal/webhooks/square"
	stripewebhook "github.com/angelmondragon/coursepay-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/db"
	"github.com/angelmondragon/coursepay-backend/pkg/idempotency"
	"github.com/angelmondragon/coursepay-backend/pkg/instance"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/metrics"
	"github.com/angelmondragon/coursepay-backend/pkg/migrate"
	"github.com/angelmondragon/coursepay-backend/pkg/redis"
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
		Format:      cfg.App.LogFormat,
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

	if err := migrate.ApplyOnBoot(context.Background(), cfg, logg, dbClient); err != nil {
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clients, err := bootstrap.NewClients(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gateway clients", err)
		os.Exit(1)
	}
	gateways, err := clients.Gateways(cfg)
	if err != nil {
		logg.Error(context.Background(), "failed to register gateways", err)
		os.Exit(1)
	}
	services, err := bootstrap.NewServices(bootstrap.ServicesParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient.DB(),
		Tx:       dbClient,
		Gateways: gateways,
		Metrics:  metrics.NewPaymentMetrics(registry),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create services", err)
		os.Exit(1)
	}

	webhookParams, err := buildWebhooks(cfg, logg, clients, services, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire webhooks", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Params{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Cache:       redisClient,
		Payments:    services.Payments,
		Enrollments: services.Enrollments,
		Receipts:    receipts.NewRenderer(cfg.App.PublicName),
		Metrics:     registry,
		Stripe:      webhookParams.stripe,
		Square:      webhookParams.square,
		Razorpay:    webhookParams.razorpay,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"gateway":  cfg.Gateway.ProviderName(),
		"instance": instance.GetID("api-0"),
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
	logg.Info(ctx, "api server stopped")
}

type webhookWiring struct {
	stripe   routes.StripeWebhookParams
	square   routes.SquareWebhookParams
	razorpay routes.RazorpayWebhookParams
}

// buildWebhooks wires the webhook handlers of every gateway with a client.
// Each gateway gets its own idempotency scope so event ids never collide.
func buildWebhooks(cfg *config.Config, logg *logger.Logger, clients *bootstrap.Clients, services *bootstrap.Services, store redis.IdempotencyStore) (webhookWiring, error) {
	var out webhookWiring
	ttl := cfg.Eventing.WebhookIdempotencyTTL

	if clients.Stripe != nil {
		svc, err := stripewebhook.NewService(stripewebhook.ServiceParams{Payments: services.Payments, Logger: logg})
		if err != nil {
			return out, err
		}
		guard, err := idempotency.NewGuard(store, "stripe_webhook", ttl)
		if err != nil {
			return out, err
		}
		out.stripe = routes.StripeWebhookParams{Service: svc, Client: clients.Stripe, Guard: guard}
	}
	if clients.Square != nil {
		svc, err := squarewebhook.NewService(squarewebhook.ServiceParams{Payments: services.Payments, Logger: logg})
		if err != nil {
			return out, err
		}
		guard, err := idempotency.NewGuard(store, "square_webhook", ttl)
		if err != nil {
			return out, err
		}
		out.square = routes.SquareWebhookParams{Service: svc, Verifier: clients.Square, Guard: guard}
	}
	if clients.Razorpay != nil {
		svc, err := razorpaywebhook.NewService(razorpaywebhook.ServiceParams{Payments: services.Payments, Logger: logg})
		if err != nil {
			return out, err
		}
		guard, err := idempotency.NewGuard(store, "razorpay_webhook", ttl)
		if err != nil {
			return out, err
		}
		out.razorpay = routes.RazorpayWebhookParams{Service: svc, Verifier: clients.Razorpay, Guard: guard}
	}
	return out, nil
}
