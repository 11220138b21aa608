package webhooks

import (
	"context"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// StripeWebhook accepts checkout session and refund events. The signature
// check and decoding both happen in ConstructEvent.
func StripeWebhook(svc StripeWebhookService, verifier stripeVerifier, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	switch {
	case svc == nil:
		return unavailable(logg, "stripe webhook service")
	case verifier == nil:
		return unavailable(logg, "stripe client")
	case guard == nil:
		return unavailable(logg, "stripe idempotency guard")
	}
	return intake[stripe.Event]{
		gateway:    "stripe",
		sigHeaders: []string{"Stripe-Signature"},
		open: func(payload []byte, signature string) (stripe.Event, error) {
			event, err := verifier.ConstructEvent(payload, signature)
			if err != nil {
				return event, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature")
			}
			return event, nil
		},
		eventID: func(_ *http.Request, event stripe.Event) string { return event.ID },
		handle: func(ctx context.Context, event stripe.Event) error {
			return svc.HandleEvent(ctx, &event)
		},
		guard: guard,
		logg:  logg,
	}.ServeHTTP
}
