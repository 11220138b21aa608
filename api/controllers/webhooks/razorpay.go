package webhooks

import (
	"context"
	"fmt"
	"net/http"

	razorpaywebhook "github.com/angelmondragon/coursepay-backend/internal/webhooks/razorpay"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

type RazorpayWebhookService interface {
	HandleEvent(ctx context.Context, event *razorpaywebhook.Event) error
}

// RazorpayWebhook accepts payment link and refund events. Razorpay sends the
// event id in a header; deliveries without it are keyed by event name and
// timestamp.
func RazorpayWebhook(svc RazorpayWebhookService, verifier signatureVerifier, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	switch {
	case svc == nil:
		return unavailable(logg, "razorpay webhook service")
	case verifier == nil:
		return unavailable(logg, "razorpay client")
	case guard == nil:
		return unavailable(logg, "razorpay idempotency guard")
	}
	return intake[razorpaywebhook.Event]{
		gateway:    "razorpay",
		sigHeaders: []string{"X-Razorpay-Signature"},
		open:       hmacJSON[razorpaywebhook.Event](verifier, "razorpay"),
		eventID: func(r *http.Request, event razorpaywebhook.Event) string {
			if id := r.Header.Get("X-Razorpay-Event-Id"); id != "" {
				return id
			}
			return fmt.Sprintf("%s:%d", event.Event, event.CreatedAt)
		},
		handle: func(ctx context.Context, event razorpaywebhook.Event) error {
			return svc.HandleEvent(ctx, &event)
		},
		guard: guard,
		logg:  logg,
	}.ServeHTTP
}
