package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/coursepay-backend/internal/gateway"
	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/internal/webhooks"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const source = "webhook:stripe"

type ServiceParams struct {
	Payments webhooks.Applier
	Logger   *logger.Logger
}

// Service turns Stripe Checkout and charge events into payment updates.
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

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		report := gateway.SessionStatus(session)
		if report.Status == enums.PaymentStatusPending {
			// Delayed methods complete the session before the money settles.
			return nil
		}
		return webhooks.Apply(ctx, s.payments, s.logg, sessionUpdate(session, report))
	case stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		report := gateway.SessionStatus(session)
		report.Status = enums.PaymentStatusFailed
		report.Reason = "expired"
		if event.Type == stripe.EventTypeCheckoutSessionAsyncPaymentFailed {
			report.Reason = "async_payment_failed"
		}
		return webhooks.Apply(ctx, s.payments, s.logg, sessionUpdate(session, report))
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "charge payment intent missing")
		}
		if !charge.Refunded {
			// Partial refunds keep the enrollment.
			return nil
		}
		return webhooks.Apply(ctx, s.payments, s.logg, payments.Update{
			GatewayPaymentID: charge.PaymentIntent.ID,
			Status:           enums.PaymentStatusRefunded,
			Details:          map[string]any{"stripe_charge_id": charge.ID},
			Source:           source,
		})
	default:
		return nil
	}
}

func decodeSession(event *stripe.Event) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
	}
	if session.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
	}
	return &session, nil
}

func sessionUpdate(session *stripe.CheckoutSession, report *gateway.StatusReport) payments.Update {
	update := payments.Update{
		Reference:        session.ID,
		GatewayPaymentID: report.GatewayPaymentID,
		Status:           report.Status,
		Reason:           report.Reason,
		Details:          report.Details,
		Source:           source,
	}
	if id, err := uuid.Parse(session.ClientReferenceID); err == nil {
		update.PaymentID = &id
	}
	return update
}
