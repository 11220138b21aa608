package gateway

import (
	"context"
	"errors"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/square"
)

type squarePayments interface {
	CreatePayment(ctx context.Context, charge square.Charge) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

// Square books the charge directly through the Payments API using a card
// source, so there is no hosted page: the redirect goes straight back to the
// success URL and the status is read from the payment.
type Square struct {
	client   squarePayments
	sourceID string
}

func NewSquare(client squarePayments, sourceID string) (*Square, error) {
	if client == nil {
		return nil, errors.New("square client required")
	}
	if strings.TrimSpace(sourceID) == "" {
		return nil, errors.New("square source id required")
	}
	return &Square{client: client, sourceID: sourceID}, nil
}

func (s *Square) Name() enums.Gateway {
	return enums.GatewaySquare
}

func (s *Square) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	payment, err := s.client.CreatePayment(ctx, square.Charge{
		PaymentID:  req.PaymentID,
		Minor:      MinorUnits(req.Amount, req.Currency),
		Currency:   req.Currency,
		SourceID:   s.sourceID,
		CourseName: req.CourseName,
		BuyerEmail: req.UserEmail,
	})
	if err != nil {
		return nil, err
	}
	report := squareReport(payment)
	return &Charge{
		Reference:        report.Reference,
		GatewayPaymentID: report.Reference,
		RedirectURL:      WithReference(req.SuccessURL, req.PaymentID),
		Status:           report.Status,
		Details:          report.Details,
	}, nil
}

func (s *Square) GetStatus(ctx context.Context, reference string) (*StatusReport, error) {
	payment, err := s.client.GetPayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	return squareReport(payment), nil
}

// SquarePaymentStatus maps a Square payment status string.
func SquarePaymentStatus(status string) enums.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return enums.PaymentStatusCompleted
	case "FAILED", "CANCELED":
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

func squareReport(payment *sq.Payment) *StatusReport {
	report := &StatusReport{Status: enums.PaymentStatusPending, Details: map[string]any{}}
	if payment == nil {
		return report
	}
	if id := payment.GetID(); id != nil {
		report.Reference = *id
		report.GatewayPaymentID = *id
	}
	var raw string
	if status := payment.GetStatus(); status != nil {
		raw = *status
	}
	report.Details["square_status"] = raw
	report.Status = SquarePaymentStatus(raw)
	if report.Status == enums.PaymentStatusFailed {
		report.Reason = strings.ToLower(raw)
	}
	if refunded := payment.GetRefundedMoney(); refunded != nil && refunded.GetAmount() != nil && *refunded.GetAmount() > 0 {
		report.Status = enums.PaymentStatusRefunded
	}
	return report
}
