package razorpay

import (
	"context"
	"errors"
	"strings"

	rzp "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

var (
	errKeyIDRequired     = errors.New("razorpay key id is required")
	errKeySecretRequired = errors.New("razorpay key secret is required")
)

// PaymentLinks is the subset of the Payment Links API the gateway uses.
type PaymentLinks interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(id string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Client wraps the Razorpay SDK with the webhook secret.
type Client struct {
	api           *rzp.Client
	webhookSecret string
}

func NewClient(ctx context.Context, cfg config.RazorpayConfig, logg *logger.Logger) (*Client, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		return nil, errKeyIDRequired
	}
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keySecret == "" {
		return nil, errKeySecretRequired
	}

	api := rzp.NewClient(keyID, keySecret)
	if logg != nil {
		logg.Info(ctx, "razorpay client initialized")
	}
	return &Client{api: api, webhookSecret: strings.TrimSpace(cfg.WebhookSecret)}, nil
}

func (c *Client) PaymentLinks() PaymentLinks {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.PaymentLink
}

// VerifySignature checks the X-Razorpay-Signature header of a webhook body.
func (c *Client) VerifySignature(payload []byte, header string) bool {
	if c == nil || c.webhookSecret == "" || header == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(payload), header, c.webhookSecret)
}
