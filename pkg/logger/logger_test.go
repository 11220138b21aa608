package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestErrorCarriesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithPaymentID(ctx, "pay-1")
	log.Error(ctx, "charge failed", errors.New("gateway down"))

	entry := decode(t, buf)
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "pay-1", entry["payment_id"])
	assert.Equal(t, "gateway down", entry["error"])
	assert.Equal(t, "charge failed", entry["message"])
	assert.NotEmpty(t, entry["stack"])
}

func TestFieldsDoNotLeakBetweenContexts(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	parent := log.WithUserID(context.Background(), "u-1")
	_ = log.WithField(parent, "step", "child")
	log.Info(parent, "parent only")

	entry := decode(t, buf)
	assert.Equal(t, "u-1", entry["user_id"])
	assert.NotContains(t, entry, "step")
}

func TestSensitiveFieldsAreRedacted(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{
		"source_nonce":    "cnon:abc",
		"webhook_secret":  "whsec_1",
		"Authorization":   "Bearer x",
		"gateway_payment": "pi_1",
	})
	log.Info(ctx, "checkout")

	entry := decode(t, buf)
	assert.Equal(t, "[redacted]", entry["source_nonce"])
	assert.Equal(t, "[redacted]", entry["webhook_secret"])
	assert.Equal(t, "[redacted]", entry["Authorization"])
	assert.Equal(t, "pi_1", entry["gateway_payment"])
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "api", Output: buf, WarnStack: true}).Warn(context.Background(), "slow")
	assert.Contains(t, decode(t, buf), "stack")

	buf.Reset()
	New(Options{ServiceName: "api", Output: buf}).Warn(context.Background(), "slow")
	assert.NotContains(t, decode(t, buf), "stack")
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Level: ParseLevel("warn"), Output: buf})

	log.Info(context.Background(), "hidden")
	log.Debug(context.Background(), "hidden")

	assert.Zero(t, buf.Len())
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	assert.NotPanics(t, func() {
		ctx := log.WithField(context.Background(), "k", "v")
		log.Error(ctx, "ignored", errors.New("x"))
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.NoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.NoLevel, ParseLevel("loud"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" ERROR "))
}
