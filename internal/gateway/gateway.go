// Package gateway adapts external payment processors to one contract: create a
// charge for a course purchase and report the status of a previously created
// charge by its reference.
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
)

// ReferenceParam is the query parameter the gateway redirect carries back to
// the client.
const ReferenceParam = "external_reference"

// ChargeRequest describes the purchase to charge.
type ChargeRequest struct {
	PaymentID   uuid.UUID
	UserID      uuid.UUID
	UserEmail   string
	CourseID    uuid.UUID
	CourseName  string
	Amount      decimal.Decimal
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
}

// Charge is what the processor returned for a new charge.
type Charge struct {
	Reference        string
	GatewayPaymentID string
	RedirectURL      string
	Status           enums.PaymentStatus
	Details          map[string]any
}

// StatusReport is the processor's current view of a charge.
type StatusReport struct {
	Reference        string
	GatewayPaymentID string
	Status           enums.PaymentStatus
	Reason           string
	Details          map[string]any
}

// Gateway is implemented by every processor adapter. Implementations must be
// safe for concurrent use and tolerate slow upstreams through ctx.
type Gateway interface {
	Name() enums.Gateway
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetStatus(ctx context.Context, reference string) (*StatusReport, error)
}

// Registry resolves adapters by name. Payments remember the gateway that
// created them, so status refreshes must reach the same adapter even after the
// default changes.
type Registry struct {
	gateways map[enums.Gateway]Gateway
	def      enums.Gateway
}

func NewRegistry(def enums.Gateway, gateways ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[enums.Gateway]Gateway, len(gateways)), def: def}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		r.gateways[gw.Name()] = gw
	}
	if _, ok := r.gateways[def]; !ok {
		return nil, fmt.Errorf("default gateway %q is not configured", def)
	}
	return r, nil
}

// Default returns the gateway used for new checkouts.
func (r *Registry) Default() Gateway {
	return r.gateways[r.def]
}

func (r *Registry) Get(name enums.Gateway) (Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeDependency, "gateway %s is not configured", name)
	}
	return gw, nil
}

// zeroDecimalCurrencies are charged in whole units.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {},
	"MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
}

// MinorUnits converts an amount to the integer unit processors expect.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

// WithReference appends the payment reference to a return URL.
func WithReference(base string, paymentID uuid.UUID) string {
	if strings.TrimSpace(base) == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(ReferenceParam, paymentID.String())
	u.RawQuery = q.Encode()
	return u.String()
}
