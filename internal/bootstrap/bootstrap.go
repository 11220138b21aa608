// Package bootstrap assembles the payment and enrollment services shared by
// the api and cron-worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/coursepay-backend/internal/catalog"
	"github.com/angelmondragon/coursepay-backend/internal/enrollments"
	"github.com/angelmondragon/coursepay-backend/internal/gateway"
	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/metrics"
	"github.com/angelmondragon/coursepay-backend/pkg/outbox"
	"github.com/angelmondragon/coursepay-backend/pkg/razorpay"
	"github.com/angelmondragon/coursepay-backend/pkg/square"
	"github.com/angelmondragon/coursepay-backend/pkg/stripe"

	"gorm.io/gorm"
)

// Clients holds the processor SDK wrappers that have credentials. A nil field
// means the processor is not configured.
type Clients struct {
	Stripe   *stripe.Client
	Square   *square.Client
	Razorpay *razorpay.Client
}

// NewClients builds every processor client with credentials present and fails
// when the default provider has none.
func NewClients(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Clients, error) {
	clients := &Clients{}
	var err error
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		if clients.Stripe, err = stripe.NewClient(ctx, cfg.Stripe, logg); err != nil {
			return nil, fmt.Errorf("stripe: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Square.AccessToken) != "" {
		if clients.Square, err = square.NewClient(ctx, cfg.Square, logg); err != nil {
			return nil, fmt.Errorf("square: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Razorpay.KeyID) != "" {
		if clients.Razorpay, err = razorpay.NewClient(ctx, cfg.Razorpay, logg); err != nil {
			return nil, fmt.Errorf("razorpay: %w", err)
		}
	}
	return clients, nil
}

// Gateways registers an adapter per configured client. The sandbox adapter
// is available everywhere except prod.
func (c *Clients) Gateways(cfg *config.Config) (*gateway.Registry, error) {
	var adapters []gateway.Gateway
	if c.Stripe != nil {
		if c.Stripe.Mode() == "live" && !cfg.App.IsProd() {
			return nil, fmt.Errorf("stripe live keys are only accepted in prod, env is %q", cfg.App.Env)
		}
		gw, err := gateway.NewStripe(c.Stripe.CheckoutSessions())
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, gw)
	}
	if c.Square != nil {
		gw, err := gateway.NewSquare(c.Square, c.Square.DefaultSourceID())
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, gw)
	}
	if c.Razorpay != nil {
		gw, err := gateway.NewRazorpay(c.Razorpay.PaymentLinks())
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, gw)
	}
	if !cfg.App.IsProd() || cfg.Gateway.ProviderName() == string(enums.GatewaySandbox) {
		gw, err := gateway.NewSandbox(cfg.Sandbox.SettleAfter, cfg.Sandbox.Outcome)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, gw)
	}
	provider, err := enums.ParseGateway(cfg.Gateway.ProviderName())
	if err != nil {
		return nil, err
	}
	return gateway.NewRegistry(provider, adapters...)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServicesParams are the shared dependencies of the domain services.
type ServicesParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *gorm.DB
	Tx       txRunner
	Gateways *gateway.Registry
	Metrics  *metrics.PaymentMetrics
}

// Services are the wired domain services.
type Services struct {
	Catalog     catalog.Reader
	Enrollments enrollments.Service
	Payments    payments.Service
}

func NewServices(p ServicesParams) (*Services, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil || p.Tx == nil || p.Gateways == nil {
		return nil, fmt.Errorf("bootstrap: config, logger, db, tx runner and gateways are required")
	}
	catalogReader := catalog.NewRepository(p.DB)
	emitter := outbox.NewService(outbox.NewRepository(p.DB), p.Logger)

	enrollmentService, err := enrollments.NewService(enrollments.ServiceParams{
		Repository: enrollments.NewRepository(p.DB),
		Catalog:    catalogReader,
		TxRunner:   p.Tx,
		Outbox:     emitter,
		Metrics:    p.Metrics,
		Logger:     p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("enrollments service: %w", err)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repository:              payments.NewRepository(p.DB),
		Catalog:                 catalogReader,
		Enrollments:             enrollmentService,
		Gateways:                p.Gateways,
		TxRunner:                p.Tx,
		Outbox:                  emitter,
		Metrics:                 p.Metrics,
		Logger:                  p.Logger,
		SuccessURL:              p.Config.Gateway.SuccessURL,
		CancelURL:               p.Config.Gateway.CancelURL,
		RefundCancelsEnrollment: p.Config.FeatureFlags.RefundCancelsEnrollment,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	return &Services{
		Catalog:     catalogReader,
		Enrollments: enrollmentService,
		Payments:    paymentService,
	}, nil
}
