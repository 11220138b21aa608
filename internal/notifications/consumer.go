// Package notifications turns enrollment events from the payment event stream
// into confirmation emails.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/outbox"
)

// ConsumerScope namespaces processed event ids in Redis.
const ConsumerScope = "enrollment_mail"

const (
	defaultSendAttempts = 3
	defaultSendDelay    = 500 * time.Millisecond
)

type dedupeGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Delivery is a transport-neutral view of one message from the event stream.
type Delivery struct {
	MessageID string
	EventType string
	Data      []byte
}

// Result tells the transport whether to acknowledge the message.
type Result struct {
	Ack   bool
	Retry bool
}

var (
	ackResult   = Result{Ack: true}
	retryResult = Result{Retry: true}
)

type ConsumerParams struct {
	Mailer     Mailer
	Guard      dedupeGuard
	Logger     *logger.Logger
	SenderName string
	// SendAttempts bounds in-process retries before the message is handed back
	// to the transport.
	SendAttempts int
	SendDelay    time.Duration
}

// Consumer mails a confirmation for every enrollment_activated event, once per
// event id.
type Consumer struct {
	mailer     Mailer
	guard      dedupeGuard
	logg       *logger.Logger
	senderName string
	attempts   int
	delay      time.Duration
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	attempts := params.SendAttempts
	if attempts <= 0 {
		attempts = defaultSendAttempts
	}
	delay := params.SendDelay
	if delay <= 0 {
		delay = defaultSendDelay
	}
	return &Consumer{
		mailer:     params.Mailer,
		guard:      params.Guard,
		logg:       params.Logger,
		senderName: strings.TrimSpace(params.SenderName),
		attempts:   attempts,
		delay:      delay,
	}, nil
}

// Process handles a single delivery. Malformed payloads are acknowledged and
// logged since redelivery cannot fix them.
func (c *Consumer) Process(ctx context.Context, d Delivery) Result {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": d.MessageID,
		"event_type": d.EventType,
		"mailer":     c.mailer.Name(),
	})

	if d.EventType != string(enums.EventEnrollmentActivated) {
		return ackResult
	}

	envelope, err := outbox.DecodeEnvelope(d.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return ackResult
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		c.logg.Warn(logCtx, "event id missing")
		return ackResult
	}
	logCtx = c.logg.WithField(logCtx, "event_id", envelope.EventID)

	var payload outbox.EnrollmentActivatedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return ackResult
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"enrollment_id": payload.EnrollmentID.String(),
		"payment_id":    payload.PaymentID.String(),
	})
	if strings.TrimSpace(payload.UserEmail) == "" {
		c.logg.Warn(logCtx, "enrollment has no recipient email")
		return ackResult
	}

	already, err := c.guard.CheckAndMark(ctx, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return retryResult
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return ackResult
	}

	msg, err := renderEnrollmentConfirmation(payload, c.senderName)
	if err != nil {
		c.logg.Error(logCtx, "render failed", err)
		return ackResult
	}

	if err := c.send(ctx, msg); err != nil {
		c.logg.Error(logCtx, "confirmation mail failed", err)
		if delErr := c.guard.Delete(ctx, envelope.EventID); delErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency mark", delErr)
		}
		return retryResult
	}

	c.logg.Info(logCtx, "enrollment confirmation sent")
	return ackResult
}

func (c *Consumer) send(ctx context.Context, msg Message) error {
	backoff := retry.WithMaxRetries(uint64(c.attempts-1), retry.NewExponential(c.delay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.mailer.Send(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
