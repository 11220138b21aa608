package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/razorpay"
)

// Razorpay charges through Payment Links. The link id is the reference.
type Razorpay struct {
	links razorpay.PaymentLinks
}

func NewRazorpay(links razorpay.PaymentLinks) (*Razorpay, error) {
	if links == nil {
		return nil, errors.New("razorpay payment links api required")
	}
	return &Razorpay{links: links}, nil
}

func (r *Razorpay) Name() enums.Gateway {
	return enums.GatewayRazorpay
}

func (r *Razorpay) CreateCharge(_ context.Context, req ChargeRequest) (*Charge, error) {
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	data := map[string]interface{}{
		"amount":          MinorUnits(req.Amount, req.Currency),
		"currency":        strings.ToUpper(req.Currency),
		"reference_id":    req.PaymentID.String(),
		"description":     req.CourseName,
		"callback_url":    WithReference(req.SuccessURL, req.PaymentID),
		"callback_method": "get",
		"notes": map[string]interface{}{
			"payment_id": req.PaymentID.String(),
			"course_id":  req.CourseID.String(),
		},
	}
	if req.UserEmail != "" {
		data["customer"] = map[string]interface{}{"email": req.UserEmail}
	}

	resp, err := r.links.Create(data, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create razorpay payment link")
	}
	id := stringField(resp, "id")
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay payment link id missing")
	}
	return &Charge{
		Reference:   id,
		RedirectURL: stringField(resp, "short_url"),
		Status:      enums.PaymentStatusPending,
		Details:     map[string]any{"razorpay_status": stringField(resp, "status")},
	}, nil
}

func (r *Razorpay) GetStatus(_ context.Context, reference string) (*StatusReport, error) {
	resp, err := r.links.Fetch(reference, nil, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch razorpay payment link")
	}
	raw := stringField(resp, "status")
	report := &StatusReport{
		Reference: reference,
		Status:    RazorpayLinkStatus(raw),
		Details:   map[string]any{"razorpay_status": raw},
	}
	if report.Status == enums.PaymentStatusFailed {
		report.Reason = raw
	}
	if payments, ok := resp["payments"].([]interface{}); ok && len(payments) > 0 {
		if last, ok := payments[len(payments)-1].(map[string]interface{}); ok {
			report.GatewayPaymentID = stringField(last, "payment_id")
		}
	}
	return report, nil
}

// RazorpayLinkStatus maps a payment link status.
func RazorpayLinkStatus(status string) enums.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid":
		return enums.PaymentStatusCompleted
	case "cancelled", "expired":
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
