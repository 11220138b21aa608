package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
)

// Sandbox is an in-memory processor for local development and tests. A charge
// reports pending for SettleAfter status checks and then settles to Outcome.
type Sandbox struct {
	mu          sync.Mutex
	settleAfter int
	outcome     enums.PaymentStatus
	charges     map[string]*sandboxCharge
}

type sandboxCharge struct {
	checks int
	status enums.PaymentStatus
	forced bool
}

func NewSandbox(settleAfter int, outcome string) (*Sandbox, error) {
	if settleAfter < 0 {
		return nil, fmt.Errorf("sandbox settle-after must be non-negative")
	}
	status := enums.PaymentStatusCompleted
	if outcome != "" {
		parsed, err := enums.ParsePaymentStatus(outcome)
		if err != nil {
			return nil, err
		}
		if parsed == enums.PaymentStatusPending {
			return nil, fmt.Errorf("sandbox outcome must be terminal")
		}
		status = parsed
	}
	return &Sandbox{
		settleAfter: settleAfter,
		outcome:     status,
		charges:     map[string]*sandboxCharge{},
	}, nil
}

func (s *Sandbox) Name() enums.Gateway {
	return enums.GatewaySandbox
}

func (s *Sandbox) CreateCharge(_ context.Context, req ChargeRequest) (*Charge, error) {
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	reference := "sbx_" + req.PaymentID.String()

	s.mu.Lock()
	if _, ok := s.charges[reference]; !ok {
		s.charges[reference] = &sandboxCharge{status: enums.PaymentStatusPending}
	}
	s.mu.Unlock()

	return &Charge{
		Reference:   reference,
		RedirectURL: WithReference(req.SuccessURL, req.PaymentID),
		Status:      enums.PaymentStatusPending,
		Details: map[string]any{
			"amount_minor": MinorUnits(req.Amount, req.Currency),
			"currency":     req.Currency,
		},
	}, nil
}

func (s *Sandbox) GetStatus(_ context.Context, reference string) (*StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	charge, ok := s.charges[reference]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "sandbox charge %s not found", reference)
	}
	if !charge.forced && charge.status == enums.PaymentStatusPending {
		charge.checks++
		if charge.checks > s.settleAfter {
			charge.status = s.outcome
		}
	}
	report := &StatusReport{
		Reference: reference,
		Status:    charge.status,
		Details:   map[string]any{"checks": charge.checks},
	}
	if charge.status == enums.PaymentStatusFailed {
		report.Reason = "declined"
	}
	return report, nil
}

// Settle forces the status of a charge, creating it if needed.
func (s *Sandbox) Settle(reference string, status enums.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	charge, ok := s.charges[reference]
	if !ok {
		charge = &sandboxCharge{}
		s.charges[reference] = charge
	}
	charge.status = status
	charge.forced = true
}
