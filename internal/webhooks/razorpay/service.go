package razorpaywebhook

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/coursepay-backend/internal/gateway"
	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/internal/webhooks"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const source = "webhook:razorpay"

type ServiceParams struct {
	Payments webhooks.Applier
	Logger   *logger.Logger
}

type Service struct {
	payments webhooks.Applier
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	return &Service{payments: params.Payments, logg: params.Logger}, nil
}

// Event is the Razorpay webhook envelope. Only the entities this service
// reads are decoded.
type Event struct {
	Event     string       `json:"event"`
	CreatedAt int64        `json:"created_at"`
	Payload   EventPayload `json:"payload"`
}

type EventPayload struct {
	PaymentLink *EntityWrapper[PaymentLink] `json:"payment_link"`
	Payment     *EntityWrapper[Payment]     `json:"payment"`
	Refund      *EntityWrapper[Refund]      `json:"refund"`
}

type EntityWrapper[T any] struct {
	Entity T `json:"entity"`
}

type PaymentLink struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
}

type Payment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "razorpay event required")
	}

	switch event.Event {
	case "payment_link.paid", "payment_link.cancelled", "payment_link.expired":
		if event.Payload.PaymentLink == nil || event.Payload.PaymentLink.Entity.ID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment link payload missing")
		}
		link := event.Payload.PaymentLink.Entity
		update := payments.Update{
			Reference: link.ID,
			Status:    gateway.RazorpayLinkStatus(link.Status),
			Details:   map[string]any{"razorpay_status": link.Status},
			Source:    source,
		}
		if update.Status == enums.PaymentStatusPending {
			return nil
		}
		if update.Status == enums.PaymentStatusFailed {
			update.Reason = link.Status
		}
		if event.Payload.Payment != nil {
			update.GatewayPaymentID = event.Payload.Payment.Entity.ID
		}
		if id, err := uuid.Parse(link.ReferenceID); err == nil {
			update.PaymentID = &id
		}
		return webhooks.Apply(ctx, s.payments, s.logg, update)
	case "refund.processed":
		if event.Payload.Refund == nil || event.Payload.Refund.Entity.PaymentID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund payload missing")
		}
		refund := event.Payload.Refund.Entity
		return webhooks.Apply(ctx, s.payments, s.logg, payments.Update{
			GatewayPaymentID: refund.PaymentID,
			Status:           enums.PaymentStatusRefunded,
			Details:          map[string]any{"razorpay_refund_id": refund.ID},
			Source:           source,
		})
	default:
		return nil
	}
}
