package gateway

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/square"
)

func chargeRequest() ChargeRequest {
	return ChargeRequest{
		PaymentID:  uuid.MustParse("7b0a5a0e-54c4-4a55-9a64-2d1f0b1b6c11"),
		UserID:     uuid.New(),
		UserEmail:  "ana@example.com",
		CourseID:   uuid.New(),
		CourseName: "Curso X",
		Amount:     decimal.NewFromInt(150000),
		Currency:   "COP",
		SuccessURL: "https://app.example.com/payments/return?lang=es",
		CancelURL:  "https://app.example.com/payments/cancel",
	}
}

func TestMinorUnits(t *testing.T) {
	if got := MinorUnits(decimal.NewFromInt(150000), "COP"); got != 15000000 {
		t.Fatalf("expected 15000000, got %d", got)
	}
	if got := MinorUnits(decimal.RequireFromString("19.99"), "usd"); got != 1999 {
		t.Fatalf("expected 1999, got %d", got)
	}
	if got := MinorUnits(decimal.NewFromInt(5000), "CLP"); got != 5000 {
		t.Fatalf("expected zero-decimal amount, got %d", got)
	}
	if !FromMinorUnits(1999, "USD").Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("unexpected round trip")
	}
}

func TestWithReference(t *testing.T) {
	id := uuid.New()
	got := WithReference("https://app.example.com/return?lang=es", id)
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Query().Get(ReferenceParam) != id.String() {
		t.Fatalf("reference missing from %s", got)
	}
	if u.Query().Get("lang") != "es" {
		t.Fatalf("existing query lost: %s", got)
	}
	if WithReference("", id) != "" {
		t.Fatalf("empty base should stay empty")
	}
}

func TestRegistry(t *testing.T) {
	sandbox, err := NewSandbox(0, "")
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	if _, err := NewRegistry(enums.GatewayStripe, sandbox); err == nil {
		t.Fatalf("expected error for unconfigured default")
	}
	reg, err := NewRegistry(enums.GatewaySandbox, sandbox, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if reg.Default().Name() != enums.GatewaySandbox {
		t.Fatalf("unexpected default %s", reg.Default().Name())
	}
	if _, err := reg.Get(enums.GatewaySquare); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestSandboxSettlesAfterChecks(t *testing.T) {
	sandbox, err := NewSandbox(1, "completed")
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	ctx := context.Background()
	req := chargeRequest()
	charge, err := sandbox.CreateCharge(ctx, req)
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if charge.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending charge, got %s", charge.Status)
	}

	first, err := sandbox.GetStatus(ctx, charge.Reference)
	if err != nil {
		t.Fatalf("first status: %v", err)
	}
	if first.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending on first check, got %s", first.Status)
	}
	second, err := sandbox.GetStatus(ctx, charge.Reference)
	if err != nil {
		t.Fatalf("second status: %v", err)
	}
	if second.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed on second check, got %s", second.Status)
	}

	if _, err := sandbox.GetStatus(ctx, "sbx_missing"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSandboxSettleOverrides(t *testing.T) {
	sandbox, _ := NewSandbox(10, "")
	sandbox.Settle("sbx_manual", enums.PaymentStatusFailed)
	report, err := sandbox.GetStatus(context.Background(), "sbx_manual")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != enums.PaymentStatusFailed || report.Reason != "declined" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestNewSandboxRejectsPendingOutcome(t *testing.T) {
	if _, err := NewSandbox(1, "pending"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewSandbox(-1, ""); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeSessions struct {
	created   *stripe.CheckoutSessionCreateParams
	session   *stripe.CheckoutSession
	err       error
	retrieved string
}

func (f *fakeSessions) Create(_ context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	f.created = params
	return f.session, f.err
}

func (f *fakeSessions) Retrieve(_ context.Context, id string, _ *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error) {
	f.retrieved = id
	return f.session, f.err
}

func TestStripeCreateCharge(t *testing.T) {
	fake := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1", Status: stripe.CheckoutSessionStatusOpen}}
	gw, err := NewStripe(fake)
	if err != nil {
		t.Fatalf("new stripe: %v", err)
	}
	req := chargeRequest()
	charge, err := gw.CreateCharge(context.Background(), req)
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if charge.Reference != "cs_test_1" || charge.RedirectURL != fake.session.URL {
		t.Fatalf("unexpected charge %+v", charge)
	}
	item := fake.created.LineItems[0]
	if *item.PriceData.UnitAmount != 15000000 || *item.PriceData.Currency != "cop" {
		t.Fatalf("unexpected price data %+v", item.PriceData)
	}
	if *fake.created.ClientReferenceID != req.PaymentID.String() {
		t.Fatalf("client reference not set")
	}
}

func TestStripeGetStatus(t *testing.T) {
	tests := []struct {
		name    string
		session *stripe.CheckoutSession
		want    enums.PaymentStatus
	}{
		{
			name:    "open",
			session: &stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusOpen, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid},
			want:    enums.PaymentStatusPending,
		},
		{
			name:    "complete but unpaid",
			session: &stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusComplete, PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid},
			want:    enums.PaymentStatusPending,
		},
		{
			name: "paid",
			session: &stripe.CheckoutSession{
				ID:            "cs_1",
				Status:        stripe.CheckoutSessionStatusComplete,
				PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
				PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
			},
			want: enums.PaymentStatusCompleted,
		},
		{
			name: "refunded",
			session: &stripe.CheckoutSession{
				ID:            "cs_1",
				Status:        stripe.CheckoutSessionStatusComplete,
				PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
				PaymentIntent: &stripe.PaymentIntent{ID: "pi_1", LatestCharge: &stripe.Charge{Refunded: true}},
			},
			want: enums.PaymentStatusRefunded,
		},
		{
			name:    "expired",
			session: &stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusExpired},
			want:    enums.PaymentStatusFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, _ := NewStripe(&fakeSessions{session: tt.session})
			report, err := gw.GetStatus(context.Background(), "cs_1")
			if err != nil {
				t.Fatalf("get status: %v", err)
			}
			if report.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, report.Status)
			}
		})
	}
}

func TestStripeGetStatusWrapsErrors(t *testing.T) {
	gw, _ := NewStripe(&fakeSessions{err: errors.New("boom")})
	if _, err := gw.GetStatus(context.Background(), "cs_1"); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

type fakeSquare struct {
	charge  square.Charge
	payment *sq.Payment
	err     error
}

func (f *fakeSquare) CreatePayment(_ context.Context, charge square.Charge) (*sq.Payment, error) {
	f.charge = charge
	return f.payment, f.err
}

func (f *fakeSquare) GetPayment(_ context.Context, _ string) (*sq.Payment, error) {
	return f.payment, f.err
}

func strPtr(v string) *string { return &v }

func TestSquareCreateCharge(t *testing.T) {
	fake := &fakeSquare{payment: &sq.Payment{ID: strPtr("sq_pay_1"), Status: strPtr("APPROVED")}}
	gw, err := NewSquare(fake, "cnon:card-nonce-ok")
	if err != nil {
		t.Fatalf("new square: %v", err)
	}
	req := chargeRequest()
	charge, err := gw.CreateCharge(context.Background(), req)
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if charge.Reference != "sq_pay_1" || charge.Status != enums.PaymentStatusPending {
		t.Fatalf("unexpected charge %+v", charge)
	}
	if fake.charge.Minor != 15000000 || fake.charge.PaymentID != req.PaymentID {
		t.Fatalf("unexpected charge %+v", fake.charge)
	}
	if fake.charge.SourceID != "cnon:card-nonce-ok" || fake.charge.CourseName != req.CourseName {
		t.Fatalf("charge should carry the source and course name: %+v", fake.charge)
	}
}

func TestSquareStatusMapping(t *testing.T) {
	refunded := int64(100)
	tests := []struct {
		payment *sq.Payment
		want    enums.PaymentStatus
	}{
		{&sq.Payment{ID: strPtr("p"), Status: strPtr("COMPLETED")}, enums.PaymentStatusCompleted},
		{&sq.Payment{ID: strPtr("p"), Status: strPtr("APPROVED")}, enums.PaymentStatusPending},
		{&sq.Payment{ID: strPtr("p"), Status: strPtr("CANCELED")}, enums.PaymentStatusFailed},
		{&sq.Payment{ID: strPtr("p"), Status: strPtr("FAILED")}, enums.PaymentStatusFailed},
		{&sq.Payment{ID: strPtr("p"), Status: strPtr("COMPLETED"), RefundedMoney: &sq.Money{Amount: &refunded}}, enums.PaymentStatusRefunded},
	}
	for _, tt := range tests {
		gw, _ := NewSquare(&fakeSquare{payment: tt.payment}, "EXTERNAL")
		report, err := gw.GetStatus(context.Background(), "p")
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if report.Status != tt.want {
			t.Fatalf("status %s: expected %s, got %s", *tt.payment.Status, tt.want, report.Status)
		}
	}
}

type fakeLinks struct {
	created map[string]interface{}
	resp    map[string]interface{}
	err     error
}

func (f *fakeLinks) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.created = data
	return f.resp, f.err
}

func (f *fakeLinks) Fetch(_ string, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	return f.resp, f.err
}

func TestRazorpayCreateCharge(t *testing.T) {
	fake := &fakeLinks{resp: map[string]interface{}{"id": "plink_1", "short_url": "https://rzp.io/i/abc", "status": "created"}}
	gw, err := NewRazorpay(fake)
	if err != nil {
		t.Fatalf("new razorpay: %v", err)
	}
	req := chargeRequest()
	charge, err := gw.CreateCharge(context.Background(), req)
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if charge.Reference != "plink_1" || charge.RedirectURL != "https://rzp.io/i/abc" {
		t.Fatalf("unexpected charge %+v", charge)
	}
	if fake.created["reference_id"] != req.PaymentID.String() {
		t.Fatalf("reference id not sent")
	}

	empty, _ := NewRazorpay(&fakeLinks{resp: map[string]interface{}{}})
	if _, err := empty.CreateCharge(context.Background(), req); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestRazorpayGetStatus(t *testing.T) {
	fake := &fakeLinks{resp: map[string]interface{}{
		"id":     "plink_1",
		"status": "paid",
		"payments": []interface{}{
			map[string]interface{}{"payment_id": "pay_1", "status": "captured"},
		},
	}}
	gw, _ := NewRazorpay(fake)
	report, err := gw.GetStatus(context.Background(), "plink_1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if report.Status != enums.PaymentStatusCompleted || report.GatewayPaymentID != "pay_1" {
		t.Fatalf("unexpected report %+v", report)
	}
	if RazorpayLinkStatus("expired") != enums.PaymentStatusFailed || RazorpayLinkStatus("created") != enums.PaymentStatusPending {
		t.Fatalf("unexpected link status mapping")
	}
}
