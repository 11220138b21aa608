package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

// SignatureTolerance bounds how old a signed webhook timestamp may be.
const SignatureTolerance = 5 * time.Minute

// keyPrefixes lists the secret and restricted key prefixes each mode accepts.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

var errNoSigningSecret = errors.New("stripe webhook secret is required")

// CheckoutSessions is the part of the Checkout Sessions API a hosted course
// checkout needs.
type CheckoutSessions interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error)
}

type Client struct {
	sessions CheckoutSessions
	mode     string
	secret   string
}

// NewClient refuses keys that belong to the other mode so a test deployment
// can never charge real cards.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode := cfg.Environment()
	prefixes, ok := keyPrefixes[mode]
	if !ok {
		return nil, fmt.Errorf("stripe environment must be \"test\" or \"live\", got %q", mode)
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("stripe api key is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errNoSigningSecret
	}
	if !hasAnyPrefix(key, prefixes) {
		return nil, fmt.Errorf("stripe %s mode needs a key starting with %s", mode, strings.Join(prefixes, " or "))
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", mode), "stripe client ready")
	}
	return &Client{
		sessions: stripe.NewClient(key).V1CheckoutSessions,
		mode:     mode,
		secret:   secret,
	}, nil
}

func (c *Client) CheckoutSessions() CheckoutSessions {
	if c == nil {
		return nil
	}
	return c.sessions
}

func (c *Client) Mode() string {
	if c == nil {
		return ""
	}
	return c.mode
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
// Events rendered with another API version are still accepted: the handlers
// only read checkout session and charge fields that are stable across versions.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	if c == nil || c.secret == "" {
		return stripe.Event{}, errNoSigningSecret
	}
	return webhook.ConstructEventWithOptions(payload, header, c.secret, webhook.ConstructEventOptions{
		Tolerance:                SignatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
