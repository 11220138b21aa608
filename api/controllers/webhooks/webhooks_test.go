package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	razorpaywebhook "github.com/angelmondragon/coursepay-backend/internal/webhooks/razorpay"
	squarewebhook "github.com/angelmondragon/coursepay-backend/internal/webhooks/square"
	"github.com/angelmondragon/coursepay-backend/pkg/idempotency"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const stripeSecret = "whsec_test"

func newGuard(t *testing.T, scope string) *idempotency.Guard {
	t.Helper()
	guard, err := idempotency.NewGuard(newInMemoryStore(), scope, time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func post(handler http.Handler, path string, payload []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedStripeEvent(t)
	service := &fakeStripeService{}
	handler := StripeWebhook(service, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe_webhook"), nil)

	rec := post(handler, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	rec2 := post(handler, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header})
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedStripeEvent(t)
	service := &fakeStripeService{}
	handler := StripeWebhook(service, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe_webhook"), nil)

	rec := post(handler, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": "t=1,v1=invalid"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	payload, _ := buildSignedStripeEvent(t)
	handler := StripeWebhook(&fakeStripeService{}, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe_webhook"), nil)

	rec := post(handler, "/api/v1/webhooks/stripe", payload, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStripeWebhook_FailureAllowsRedelivery(t *testing.T) {
	payload, header := buildSignedStripeEvent(t)
	service := &fakeStripeService{err: errors.New("db down")}
	handler := StripeWebhook(service, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe_webhook"), nil)

	rec := post(handler, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	service.err = nil
	rec2 := post(handler, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header})
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", rec2.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery processed, calls=%d", service.calls)
	}
}

type stuckGuard struct {
	*idempotency.Guard
}

func (stuckGuard) Delete(context.Context, string) error {
	return errors.New("redis unavailable")
}

func TestStripeWebhook_FailedReleaseIsLogged(t *testing.T) {
	payload, header := buildSignedStripeEvent(t)
	var logs bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &logs})
	handler := StripeWebhook(&fakeStripeService{err: errors.New("db down")}, stripeVerifierFunc(stripeSecret), stuckGuard{newGuard(t, "stripe_webhook")}, logg)

	rec := post(handler, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var warned map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("log line is not json: %s", line)
		}
		if entry["message"] == "release webhook event id failed" {
			warned = entry
		}
	}
	if warned == nil {
		t.Fatalf("release failure was not logged: %s", logs.String())
	}
	if warned["level"] != "warn" || warned["error"] != "redis unavailable" || warned["gateway"] != "stripe" {
		t.Fatalf("unexpected log entry %v", warned)
	}
	if id, _ := warned["event_id"].(string); id == "" {
		t.Fatalf("log entry lacks the event id: %v", warned)
	}
}

func TestSquareWebhook_SuccessAndIdempotent(t *testing.T) {
	payload := buildSquareEvent(t)
	service := &fakeSquareService{}
	verifier := &hmacVerifier{secret: "secret", prefix: "https://api.example.com/api/v1/webhooks/square"}
	handler := SquareWebhook(service, verifier, newGuard(t, "square_webhook"), nil)
	headers := map[string]string{"X-Square-Hmacsha256-Signature": verifier.sign(payload)}

	if rec := post(handler, "/api/v1/webhooks/square", payload, headers); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := post(handler, "/api/v1/webhooks/square", payload, headers); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("duplicate should not increment calls, got %d", service.calls)
	}
}

func TestSquareWebhook_LegacyHeaderAndInvalidSignature(t *testing.T) {
	payload := buildSquareEvent(t)
	service := &fakeSquareService{}
	verifier := &hmacVerifier{secret: "secret"}
	handler := SquareWebhook(service, verifier, newGuard(t, "square_webhook"), nil)

	rec := post(handler, "/api/v1/webhooks/square", payload, map[string]string{"Square-Signature": "bogus"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not run on invalid signature")
	}

	rec = post(handler, "/api/v1/webhooks/square", payload, map[string]string{"Square-Signature": verifier.sign(payload)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected legacy header accepted, got %d", rec.Code)
	}
}

func TestRazorpayWebhook_UsesEventIDHeader(t *testing.T) {
	payload := []byte(`{"event":"payment_link.paid","created_at":1760000000,"payload":{"payment_link":{"entity":{"id":"plink_1","status":"paid"}}}}`)
	service := &fakeRazorpayService{}
	verifier := &hmacVerifier{secret: "rzp_secret", hexEncoded: true}
	handler := RazorpayWebhook(service, verifier, newGuard(t, "razorpay_webhook"), nil)
	headers := map[string]string{
		"X-Razorpay-Signature": verifier.sign(payload),
		"X-Razorpay-Event-Id":  "evt_rzp_1",
	}

	if rec := post(handler, "/api/v1/webhooks/razorpay", payload, headers); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := post(handler, "/api/v1/webhooks/razorpay", payload, headers); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("expected one call, got %d", service.calls)
	}
	if service.last == nil || service.last.Event != "payment_link.paid" {
		t.Fatalf("unexpected event %+v", service.last)
	}
}

func TestRazorpayWebhook_InvalidSignature(t *testing.T) {
	payload := []byte(`{"event":"payment_link.paid","payload":{}}`)
	service := &fakeRazorpayService{}
	handler := RazorpayWebhook(service, &hmacVerifier{secret: "rzp_secret", hexEncoded: true}, newGuard(t, "razorpay_webhook"), nil)

	rec := post(handler, "/api/v1/webhooks/razorpay", payload, map[string]string{"X-Razorpay-Signature": "00"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not run")
	}
}

func buildSignedStripeEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	session := &stripe.CheckoutSession{
		ID:                "cs_" + uuid.NewString(),
		Status:            stripe.CheckoutSessionStatusComplete,
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
		ClientReferenceID: uuid.NewString(),
	}
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypeCheckoutSessionCompleted,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(stripeSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func buildSquareEvent(t *testing.T) []byte {
	t.Helper()
	event := squarewebhook.SquareWebhookEvent{
		EventID: uuid.NewString(),
		Type:    "payment.updated",
		Data: squarewebhook.SquareWebhookData{
			Type: "payment",
			ID:   "sq_pay_1",
			Object: squarewebhook.SquareWebhookObject{
				Payment: &squarewebhook.SquarePayment{ID: "sq_pay_1", Status: "COMPLETED"},
			},
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal square event: %v", err)
	}
	return payload
}

type stripeVerifierFunc string

func (s stripeVerifierFunc) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, header, string(s))
}

// hmacVerifier mirrors the gateway signing schemes: Square signs the
// notification URL plus body in base64, Razorpay signs the body in hex.
type hmacVerifier struct {
	secret     string
	prefix     string
	hexEncoded bool
}

func (h *hmacVerifier) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(h.prefix))
	mac.Write(payload)
	if h.hexEncoded {
		return hex.EncodeToString(mac.Sum(nil))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (h *hmacVerifier) VerifySignature(payload []byte, header string) bool {
	return hmac.Equal([]byte(h.sign(payload)), []byte(header))
}

type fakeStripeService struct {
	calls int
	err   error
}

func (f *fakeStripeService) HandleEvent(context.Context, *stripe.Event) error {
	f.calls++
	return f.err
}

type fakeSquareService struct {
	calls int
}

func (f *fakeSquareService) HandleEvent(context.Context, *squarewebhook.SquareWebhookEvent) error {
	f.calls++
	return nil
}

type fakeRazorpayService struct {
	calls int
	last  *razorpaywebhook.Event
}

func (f *fakeRazorpayService) HandleEvent(_ context.Context, event *razorpaywebhook.Event) error {
	f.calls++
	f.last = event
	return nil
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("cp:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func TestWebhooksWithoutDependenciesAnswer500(t *testing.T) {
	handlers := map[string]http.Handler{
		"stripe":   StripeWebhook(nil, stripeVerifierFunc(stripeSecret), newGuard(t, "s"), nil),
		"square":   SquareWebhook(&fakeSquareService{}, nil, newGuard(t, "q"), nil),
		"razorpay": RazorpayWebhook(&fakeRazorpayService{}, &hmacVerifier{}, nil, nil),
	}
	for name, h := range handlers {
		if rec := post(h, "/api/v1/webhooks/"+name, []byte(`{}`), nil); rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", name, rec.Code)
		}
	}
}

func TestSquareWebhook_RejectsEventWithoutID(t *testing.T) {
	payload := []byte(`{"type":"payment.updated","data":{"type":"payment"}}`)
	service := &fakeSquareService{}
	verifier := &hmacVerifier{secret: "secret"}
	handler := SquareWebhook(service, verifier, newGuard(t, "square_webhook"), nil)

	rec := post(handler, "/api/v1/webhooks/square", payload, map[string]string{"X-Square-Hmacsha256-Signature": verifier.sign(payload)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not run without an event id")
	}
}
