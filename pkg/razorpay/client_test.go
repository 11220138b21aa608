package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(context.Background(), config.RazorpayConfig{KeySecret: "s"}, nil); err == nil {
		t.Fatalf("expected missing key id error")
	}
	if _, err := NewClient(context.Background(), config.RazorpayConfig{KeyID: "rzp_test_1"}, nil); err == nil {
		t.Fatalf("expected missing key secret error")
	}
	client, err := NewClient(context.Background(), config.RazorpayConfig{KeyID: "rzp_test_1", KeySecret: "s"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.PaymentLinks() == nil {
		t.Fatalf("expected payment links api")
	}
}

func TestVerifySignature(t *testing.T) {
	client, err := NewClient(context.Background(), config.RazorpayConfig{KeyID: "rzp_test_1", KeySecret: "s", WebhookSecret: "whsec"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	body := []byte(`{"event":"payment_link.paid"}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	if !client.VerifySignature(body, signature) {
		t.Fatalf("expected signature to verify")
	}
	if client.VerifySignature([]byte(`{"event":"payment_link.expired"}`), signature) {
		t.Fatalf("signature for another body must not verify")
	}
}
