package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/coursepay-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/coursepay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/coursepay-backend/api/middleware"
	"github.com/angelmondragon/coursepay-backend/internal/enrollments"
	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/internal/receipts"
	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/stripe"
)

const defaultMutationIdempotencyTTL = 24 * time.Hour

type pinger interface {
	Ping(ctx context.Context) error
}

// cacheClient covers everything the HTTP surface needs from redis.
type cacheClient interface {
	pinger
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type eventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type signatureVerifier interface {
	VerifySignature(payload []byte, header string) bool
}

// StripeWebhookParams groups one gateway's webhook wiring. A nil Service
// leaves the route unregistered.
type StripeWebhookParams struct {
	Service webhookcontrollers.StripeWebhookService
	Client  *stripe.Client
	Guard   eventGuard
}

type SquareWebhookParams struct {
	Service  webhookcontrollers.SquareWebhookService
	Verifier signatureVerifier
	Guard    eventGuard
}

type RazorpayWebhookParams struct {
	Service  webhookcontrollers.RazorpayWebhookService
	Verifier signatureVerifier
	Guard    eventGuard
}

type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          pinger
	Cache       cacheClient
	Payments    payments.Service
	Enrollments enrollments.Service
	Receipts    *receipts.Renderer
	Metrics     prometheus.Gatherer

	Stripe   StripeWebhookParams
	Square   SquareWebhookParams
	Razorpay RazorpayWebhookParams
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger
	renderer := p.Receipts
	if renderer == nil {
		renderer = receipts.NewRenderer(cfg.App.PublicName)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.DB, p.Cache, logg))
	})

	if p.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Metrics, promhttp.HandlerOpts{}))
	}

	// Every gateway route is mounted. An unconfigured one answers 500 so the
	// gateway keeps retrying instead of dropping the event on a 404.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", stripeWebhook(p.Stripe, logg))
		r.Post("/square", webhookcontrollers.SquareWebhook(p.Square.Service, p.Square.Verifier, p.Square.Guard, logg))
		r.Post("/razorpay", webhookcontrollers.RazorpayWebhook(p.Razorpay.Service, p.Razorpay.Verifier, p.Razorpay.Guard, logg))
	})

	statusPolicy := middleware.RateLimitPolicy{
		Name:   "payment_status",
		Limit:  cfg.StatusRateLimit.Limit,
		Window: cfg.StatusRateLimit.Window,
	}
	r.Route("/api/payments", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.With(middleware.RateLimit(statusPolicy, p.Cache, logg)).
			Get("/status/{paymentId}", controllers.PaymentStatus(p.Payments, logg))
	})

	// a replayed checkout must never open a second charge
	checkoutOnce := middleware.Idempotent(p.Cache, cfg.Eventing.CheckoutIdempotencyTTL, logg)
	mutateOnce := middleware.Idempotent(p.Cache, defaultMutationIdempotencyTTL, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.With(checkoutOnce).Post("/payments/checkout", controllers.PaymentCheckout(p.Payments, logg))
		r.Get("/payments/{paymentId}", controllers.PaymentDetail(p.Payments, logg))
		r.Get("/payments/{paymentId}/receipt", controllers.PaymentReceipt(p.Payments, renderer, logg))

		r.Get("/enrollments", controllers.EnrollmentList(p.Enrollments, logg))
		r.Get("/enrollments/{enrollmentId}", controllers.EnrollmentDetail(p.Enrollments, logg))
		r.With(mutateOnce).Post("/enrollments/{enrollmentId}/cancel", controllers.EnrollmentCancel(p.Enrollments, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.RequireRole(logg, enums.UserRoleAdmin),
		)

		r.With(mutateOnce).Post("/payments/{paymentId}/activate", controllers.AdminActivatePayment(p.Payments, logg))
		r.Get("/reports/enrollments", controllers.AdminEnrollmentReport(p.Enrollments, logg))
	})

	return r
}

// stripeWebhook keeps a nil client from reaching the controller as a non-nil
// interface.
func stripeWebhook(p StripeWebhookParams, logg *logger.Logger) http.HandlerFunc {
	if p.Client == nil {
		return webhookcontrollers.StripeWebhook(p.Service, nil, p.Guard, logg)
	}
	return webhookcontrollers.StripeWebhook(p.Service, p.Client, p.Guard, logg)
}
