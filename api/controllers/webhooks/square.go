package webhooks

import (
	"context"
	"net/http"

	squarewebhook "github.com/angelmondragon/coursepay-backend/internal/webhooks/square"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

type SquareWebhookService interface {
	HandleEvent(ctx context.Context, event *squarewebhook.SquareWebhookEvent) error
}

// SquareWebhook accepts payment and refund notifications. Older
// subscriptions sign with the Square-Signature header.
func SquareWebhook(svc SquareWebhookService, verifier signatureVerifier, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	switch {
	case svc == nil:
		return unavailable(logg, "square webhook service")
	case verifier == nil:
		return unavailable(logg, "square client")
	case guard == nil:
		return unavailable(logg, "square idempotency guard")
	}
	return intake[squarewebhook.SquareWebhookEvent]{
		gateway:    "square",
		sigHeaders: []string{"X-Square-Hmacsha256-Signature", "Square-Signature"},
		open:       hmacJSON[squarewebhook.SquareWebhookEvent](verifier, "square"),
		eventID: func(_ *http.Request, event squarewebhook.SquareWebhookEvent) string {
			if event.EventID != "" {
				return event.EventID
			}
			return event.Data.ID
		},
		handle: func(ctx context.Context, event squarewebhook.SquareWebhookEvent) error {
			return svc.HandleEvent(ctx, &event)
		},
		guard: guard,
		logg:  logg,
	}.ServeHTTP
}
