package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/coursepay-backend/pkg/stripe"
)

// Stripe charges through hosted Checkout Sessions. The session id is the
// reference; the payment intent id is kept for refund lookups.
type Stripe struct {
	sessions pkgstripe.CheckoutSessions
}

func NewStripe(sessions pkgstripe.CheckoutSessions) (*Stripe, error) {
	if sessions == nil {
		return nil, errors.New("stripe checkout sessions api required")
	}
	return &Stripe{sessions: sessions}, nil
}

func (s *Stripe) Name() enums.Gateway {
	return enums.GatewayStripe
}

func (s *Stripe) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.PaymentID.String()),
		SuccessURL:        stripe.String(WithReference(req.SuccessURL, req.PaymentID)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(MinorUnits(req.Amount, req.Currency)),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(req.CourseName),
				},
			},
		}},
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(WithReference(req.CancelURL, req.PaymentID))
	}
	if req.UserEmail != "" {
		params.CustomerEmail = stripe.String(req.UserEmail)
	}
	params.AddMetadata("payment_id", req.PaymentID.String())
	params.AddMetadata("course_id", req.CourseID.String())

	session, err := s.sessions.Create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe checkout session")
	}
	return &Charge{
		Reference:   session.ID,
		RedirectURL: session.URL,
		Status:      enums.PaymentStatusPending,
		Details:     map[string]any{"stripe_session_status": string(session.Status)},
	}, nil
}

func (s *Stripe) GetStatus(ctx context.Context, reference string) (*StatusReport, error) {
	params := &stripe.CheckoutSessionRetrieveParams{}
	params.AddExpand("payment_intent.latest_charge")
	session, err := s.sessions.Retrieve(ctx, reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "stripe checkout session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve stripe checkout session")
	}
	return SessionStatus(session), nil
}

// SessionStatus maps a Checkout Session onto a payment status. Webhook
// handlers reuse it for session events.
func SessionStatus(session *stripe.CheckoutSession) *StatusReport {
	report := &StatusReport{
		Reference: session.ID,
		Status:    enums.PaymentStatusPending,
		Details: map[string]any{
			"stripe_session_status": string(session.Status),
			"stripe_payment_status": string(session.PaymentStatus),
		},
	}
	if session.PaymentIntent != nil {
		report.GatewayPaymentID = session.PaymentIntent.ID
	}

	switch {
	case session.Status == stripe.CheckoutSessionStatusExpired:
		report.Status = enums.PaymentStatusFailed
		report.Reason = "expired"
	case session.Status == stripe.CheckoutSessionStatusComplete &&
		session.PaymentStatus != stripe.CheckoutSessionPaymentStatusUnpaid:
		report.Status = enums.PaymentStatusCompleted
		if pi := session.PaymentIntent; pi != nil && pi.LatestCharge != nil && pi.LatestCharge.Refunded {
			report.Status = enums.PaymentStatusRefunded
		}
	}
	return report
}
