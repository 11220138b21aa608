package square

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	sqwebhooks "github.com/square/square-go-sdk/webhooks/client"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

var hosts = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

type paymentsAPI interface {
	Create(ctx context.Context, req *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
	Get(ctx context.Context, req *sq.GetPaymentsRequest, opts ...sqoption.RequestOption) (*sq.GetPaymentResponse, error)
}

type signatureAPI interface {
	VerifySignature(ctx context.Context, req *sq.VerifySignatureRequest) error
}

var _ signatureAPI = (*sqwebhooks.Client)(nil)

// Client books course charges against one Square location.
type Client struct {
	payments      paymentsAPI
	webhooks      signatureAPI
	env           string
	locationID    string
	sourceID      string
	webhookSecret string
	webhookURL    string
	logg          *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env := cfg.Environment()
	host, ok := hosts[env]
	if !ok {
		return nil, errors.New(`square environment must be "sandbox" or "production"`)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square access token is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("square webhook secret is required")
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(host), sqoption.WithToken(token))
	c := &Client{
		payments:      sdk.Payments,
		webhooks:      sdk.Webhooks,
		env:           env,
		locationID:    strings.TrimSpace(cfg.LocationID),
		sourceID:      strings.TrimSpace(cfg.DefaultSourceID),
		webhookSecret: secret,
		webhookURL:    strings.TrimSpace(cfg.WebhookURL),
		logg:          logg,
	}
	logg.Info(logg.WithField(ctx, "square_env", env), "square client ready")
	return c, nil
}

// DefaultSourceID is charged when the checkout carries no card nonce.
func (c *Client) DefaultSourceID() string {
	if c == nil {
		return ""
	}
	return c.sourceID
}

// Charge describes one course purchase booked through the Payments API.
type Charge struct {
	PaymentID  uuid.UUID
	Minor      int64
	Currency   string
	SourceID   string
	CourseName string
	BuyerEmail string
}

// IdempotencyKey is stable per local payment so a retried checkout never
// books a second Square charge.
func (ch Charge) IdempotencyKey() string {
	return "checkout-" + ch.PaymentID.String()
}

func (ch Charge) request(locationID string) *sq.CreatePaymentRequest {
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(ch.Currency)))
	minor := ch.Minor
	autocomplete := true
	reference := ch.PaymentID.String()
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: ch.IdempotencyKey(),
		SourceID:       ch.SourceID,
		AmountMoney:    &sq.Money{Amount: &minor, Currency: &currency},
		ReferenceID:    &reference,
		Autocomplete:   &autocomplete,
	}
	if locationID != "" {
		req.LocationID = &locationID
	}
	if note := strings.TrimSpace(ch.CourseName); note != "" {
		req.Note = &note
	}
	if email := strings.TrimSpace(ch.BuyerEmail); email != "" {
		req.BuyerEmailAddress = &email
	}
	return req
}

func (c *Client) CreatePayment(ctx context.Context, ch Charge) (*sq.Payment, error) {
	if ch.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square charge needs a payment id")
	}
	if ch.Minor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square charge amount must be positive")
	}
	if ch.SourceID == "" {
		ch.SourceID = c.sourceID
	}
	ctx = c.logg.WithFields(ctx, map[string]any{"payment_id": ch.PaymentID.String(), "amount_minor": ch.Minor})

	resp, err := c.payments.Create(ctx, ch.request(c.locationID))
	if err != nil {
		c.logg.Error(ctx, "square create payment failed", err)
		return nil, classify(err, "create payment")
	}
	payment := resp.GetPayment()
	c.logg.Info(c.logg.WithField(ctx, "square_status", deref(payment.GetStatus())), "square payment created")
	return payment, nil
}

func (c *Client) GetPayment(ctx context.Context, reference string) (*sq.Payment, error) {
	resp, err := c.payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: reference})
	if err != nil {
		c.logg.Error(c.logg.WithField(ctx, "square_payment", reference), "square get payment failed", err)
		return nil, classify(err, "get payment")
	}
	return resp.GetPayment(), nil
}

// VerifySignature checks the x-square-hmacsha256-signature header against
// the notification URL and raw body. An empty body never verifies.
func (c *Client) VerifySignature(payload []byte, header string) bool {
	if c == nil || c.webhooks == nil || len(payload) == 0 || header == "" || c.webhookSecret == "" {
		return false
	}
	err := c.webhooks.VerifySignature(context.Background(), &sq.VerifySignatureRequest{
		RequestBody:     string(payload),
		SignatureHeader: header,
		SignatureKey:    c.webhookSecret,
		NotificationURL: c.webhookURL,
	})
	return err == nil
}

// classify turns an SDK failure into a domain error. Square reports the
// reason inside the response body, which the SDK keeps as the wrapped error.
func classify(err error, op string) error {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op+" failed")
	}
	code := codeForStatus(apiErr.StatusCode)
	for _, e := range bodyErrors(apiErr) {
		if e.Code == sq.ErrorCodeIdempotencyKeyReused {
			code = pkgerrors.CodeIdempotency
			break
		}
		if e.Category == sq.ErrorCategoryAuthenticationError {
			code = pkgerrors.CodeUnauthorized
			break
		}
	}
	return pkgerrors.Wrap(code, err, "square "+op+" failed").WithDetails(map[string]any{"status": apiErr.StatusCode})
}

func bodyErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(inner.Error()), &body) != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
