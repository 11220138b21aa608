package squarewebhook

import (
	"context"
	"strings"

	"github.com/angelmondragon/coursepay-backend/internal/gateway"
	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/internal/webhooks"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const source = "webhook:square"

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

type SquareWebhookEvent struct {
	EventID string            `json:"event_id"`
	Type    string            `json:"type"`
	Data    SquareWebhookData `json:"data"`
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Payment *SquarePayment `json:"payment"`
	Refund  *SquareRefund  `json:"refund"`
}

type SquarePayment struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	ReferenceID   string       `json:"reference_id"`
	RefundedMoney *SquareMoney `json:"refunded_money"`
}

type SquareRefund struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	PaymentID string `json:"payment_id"`
}

type SquareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// HandleEvent processes Square payment and refund events.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
		payment := event.Data.Object.Payment
		if payment == nil || payment.ID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
		}
		status := gateway.SquarePaymentStatus(payment.Status)
		if payment.RefundedMoney != nil && payment.RefundedMoney.Amount > 0 {
			status = enums.PaymentStatusRefunded
		}
		if status == enums.PaymentStatusPending {
			return nil
		}
		update := payments.Update{
			Reference:        payment.ID,
			GatewayPaymentID: payment.ID,
			Status:           status,
			Details:          map[string]any{"square_status": payment.Status},
			Source:           source,
		}
		if status == enums.PaymentStatusFailed {
			update.Reason = strings.ToLower(payment.Status)
		}
		return webhooks.Apply(ctx, s.payments, s.logg, update)
	case "refund.created", "refund.updated":
		refund := event.Data.Object.Refund
		if refund == nil || refund.PaymentID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund payload missing")
		}
		if !strings.EqualFold(refund.Status, "COMPLETED") {
			return nil
		}
		return webhooks.Apply(ctx, s.payments, s.logg, payments.Update{
			Reference: refund.PaymentID,
			Status:    enums.PaymentStatusRefunded,
			Details:   map[string]any{"square_refund_id": refund.ID},
			Source:    source,
		})
	default:
		return nil
	}
}
