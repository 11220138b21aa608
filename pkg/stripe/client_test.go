package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
)

func TestNewClientMatchesKeyToMode(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{name: "test key", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "test"}},
		{name: "restricted live key", cfg: config.StripeConfig{APIKey: "rk_live_123", Secret: "whsec_1", Env: "LIVE"}},
		{name: "live key in test mode", cfg: config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1"}, wantErr: true},
		{name: "missing key", cfg: config.StripeConfig{Secret: "whsec_1"}, wantErr: true},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_123"}, wantErr: true},
		{name: "unknown mode", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client.CheckoutSessions())
			assert.Equal(t, tt.cfg.Environment(), client.Mode())
		})
	}
}

func TestConstructEventVerifiesSignature(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1", Secret: "whsec_1"}, nil)
	require.NoError(t, err)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","api_version":"2019-01-01"}`)

	event, err := client.ConstructEvent(payload, signHeader(payload, "whsec_1", time.Now()))
	require.NoError(t, err, "older api versions are accepted")
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, stripe.EventType("checkout.session.completed"), event.Type)

	_, err = client.ConstructEvent(payload, "t=1,v1=deadbeef")
	assert.Error(t, err)

	_, err = client.ConstructEvent(payload, signHeader(payload, "whsec_1", time.Now().Add(-time.Hour)))
	assert.Error(t, err, "timestamps outside the tolerance are rejected")

	var unset *Client
	_, err = unset.ConstructEvent(payload, signHeader(payload, "whsec_1", time.Now()))
	assert.Error(t, err)
}

func signHeader(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
