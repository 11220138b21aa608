package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	sqwebhooks "github.com/square/square-go-sdk/webhooks/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

type fakePayments struct {
	created *sq.CreatePaymentRequest
	payment *sq.Payment
	err     error
}

func (f *fakePayments) Create(_ context.Context, req *sq.CreatePaymentRequest, _ ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error) {
	f.created = req
	if f.err != nil {
		return nil, f.err
	}
	return &sq.CreatePaymentResponse{Payment: f.payment}, nil
}

func (f *fakePayments) Get(_ context.Context, _ *sq.GetPaymentsRequest, _ ...sqoption.RequestOption) (*sq.GetPaymentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sq.GetPaymentResponse{Payment: f.payment}, nil
}

func testClient(api paymentsAPI) *Client {
	return &Client{payments: api, locationID: "LOC1", sourceID: "EXTERNAL", logg: logger.Nop()}
}

func TestCreatePaymentBuildsRequest(t *testing.T) {
	status := "APPROVED"
	api := &fakePayments{payment: &sq.Payment{Status: &status}}
	paymentID := uuid.New()

	payment, err := testClient(api).CreatePayment(context.Background(), Charge{
		PaymentID:  paymentID,
		Minor:      15000000,
		Currency:   "cop",
		CourseName: " Curso X ",
		BuyerEmail: "ana@example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, "APPROVED", *payment.Status)
	req := api.created
	require.NotNil(t, req)
	assert.Equal(t, "checkout-"+paymentID.String(), req.IdempotencyKey)
	assert.Equal(t, "EXTERNAL", req.SourceID, "default source fills an empty one")
	assert.Equal(t, int64(15000000), *req.AmountMoney.Amount)
	assert.Equal(t, sq.Currency("COP"), *req.AmountMoney.Currency)
	assert.Equal(t, "LOC1", *req.LocationID)
	assert.Equal(t, paymentID.String(), *req.ReferenceID)
	assert.Equal(t, "Curso X", *req.Note)
	assert.True(t, *req.Autocomplete)
}

func TestCreatePaymentRejectsBadCharges(t *testing.T) {
	api := &fakePayments{}
	c := testClient(api)

	_, err := c.CreatePayment(context.Background(), Charge{Minor: 100, Currency: "COP"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = c.CreatePayment(context.Background(), Charge{PaymentID: uuid.New(), Currency: "COP"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Nil(t, api.created)
}

func TestCreatePaymentClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want pkgerrors.Code
	}{
		{"transport", errors.New("dial tcp: timeout"), pkgerrors.CodeDependency},
		{"reused key", sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`)), pkgerrors.CodeIdempotency},
		{"bad token", sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`)), pkgerrors.CodeUnauthorized},
		{"declined", sqcore.NewAPIError(http.StatusPaymentRequired, errors.New(`{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED"}]}`)), pkgerrors.CodeValidation},
		{"opaque body", sqcore.NewAPIError(http.StatusBadGateway, errors.New("<html>")), pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testClient(&fakePayments{err: tt.err}).CreatePayment(context.Background(), Charge{PaymentID: uuid.New(), Minor: 1, Currency: "USD"})
			require.Error(t, err)
			assert.Equal(t, tt.want, pkgerrors.As(err).Code())
		})
	}
}

func TestCodeForStatus(t *testing.T) {
	tests := map[int]pkgerrors.Code{
		http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
		http.StatusForbidden:           pkgerrors.CodeForbidden,
		http.StatusNotFound:            pkgerrors.CodeNotFound,
		http.StatusConflict:            pkgerrors.CodeConflict,
		http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
		http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
		http.StatusBadRequest:          pkgerrors.CodeValidation,
		http.StatusServiceUnavailable:  pkgerrors.CodeDependency,
	}
	for status, want := range tests {
		assert.Equal(t, want, codeForStatus(status), "status %d", status)
	}
}

func TestGetPaymentWrapsNotFound(t *testing.T) {
	api := &fakePayments{err: sqcore.NewAPIError(http.StatusNotFound, errors.New(`{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND"}]}`))}

	_, err := testClient(api).GetPayment(context.Background(), "sq_missing")

	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestVerifySignature(t *testing.T) {
	c := &Client{webhooks: sqwebhooks.NewClient(), webhookSecret: "sig-key", webhookURL: "https://api.example.com/api/v1/webhooks/square"}
	body := []byte(`{"event_id":"evt-1","type":"payment.updated"}`)

	mac := hmac.New(sha256.New, []byte("sig-key"))
	mac.Write([]byte(c.webhookURL))
	mac.Write(body)
	valid := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.True(t, c.VerifySignature(body, valid))
	assert.False(t, c.VerifySignature([]byte(`{"tampered":true}`), valid))
	assert.False(t, c.VerifySignature(body, ""))
	assert.False(t, c.VerifySignature(nil, valid), "an empty body never verifies")

	noURL := &Client{webhooks: sqwebhooks.NewClient(), webhookSecret: "sig-key"}
	assert.False(t, noURL.VerifySignature(body, valid))

	var unset *Client
	assert.False(t, unset.VerifySignature(body, valid))
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok", WebhookSecret: "s", Env: "staging"}, logger.Nop())
	assert.Error(t, err)

	_, err = NewClient(ctx, config.SquareConfig{WebhookSecret: "s"}, logger.Nop())
	assert.Error(t, err)

	_, err = NewClient(ctx, config.SquareConfig{AccessToken: "tok"}, logger.Nop())
	assert.Error(t, err)

	c, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok", WebhookSecret: "s", DefaultSourceID: " EXTERNAL "}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "sandbox", c.env)
	assert.Equal(t, "EXTERNAL", c.DefaultSourceID())
}
