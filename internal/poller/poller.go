// Package poller confirms a payment after the gateway redirects the user back.
// It queries the status endpoint with a fixed delay between attempts and a hard
// cap on the number of queries.
package poller

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/coursepay-backend/pkg/apiclient"
)

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = 2 * time.Second

	// FallbackMessage is shown when a failed query carries no server message.
	FallbackMessage = "unable to verify payment status"
)

var (
	ErrMissingReference = errors.New("payment reference missing")
	ErrUnauthenticated  = errors.New("authentication required")
)

type OutcomeKind string

const (
	// OutcomeConfirmed means the payment completed and the enrollment is active.
	OutcomeConfirmed OutcomeKind = "confirmed"
	// OutcomeUnconfirmed means every attempt saw pending. The payment may still
	// settle later.
	OutcomeUnconfirmed OutcomeKind = "unconfirmed"
	// OutcomeRejected means the gateway failed or refunded the payment.
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeError    OutcomeKind = "error"
)

type Request struct {
	Reference  string
	Credential string
}

type Outcome struct {
	Kind       OutcomeKind
	Status     string
	Payment    *apiclient.Payment
	Enrollment *apiclient.Enrollment
	Message    string
	Attempts   int
}

// StatusQuerier is the status endpoint as the poller sees it.
type StatusQuerier interface {
	PaymentStatus(ctx context.Context, reference, token string) (*apiclient.StatusResult, error)
}

type Options struct {
	MaxAttempts int
	Delay       time.Duration
}

type Poller struct {
	client      StatusQuerier
	maxAttempts int
	delay       time.Duration
}

func New(client StatusQuerier, opts Options) (*Poller, error) {
	if client == nil {
		return nil, errors.New("status client required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	return &Poller{client: client, maxAttempts: opts.MaxAttempts, delay: opts.Delay}, nil
}

var errStillPending = errors.New("payment still pending")

// Poll returns ErrMissingReference or ErrUnauthenticated without querying when
// the request is incomplete, and ErrUnauthenticated when the API rejects the
// credential. Every other result is reported through the Outcome. A cancelled
// ctx stops the wait between attempts and returns ctx.Err().
func (p *Poller) Poll(ctx context.Context, req Request) (*Outcome, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return nil, ErrMissingReference
	}
	if strings.TrimSpace(req.Credential) == "" {
		return nil, ErrUnauthenticated
	}

	out := &Outcome{}
	var queryErr error
	backoff := retry.WithMaxRetries(uint64(p.maxAttempts-1), retry.NewConstant(p.delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out.Attempts++
		result, err := p.client.PaymentStatus(ctx, reference, req.Credential)
		if err != nil {
			queryErr = err
			return err
		}
		out.Status = result.Status
		out.Payment = result.Payment
		out.Enrollment = result.Enrollment
		out.Message = result.Message
		if result.Status == "pending" {
			return retry.RetryableError(errStillPending)
		}
		return nil
	})

	switch {
	case queryErr != nil:
		if apiclient.IsUnauthorized(queryErr) {
			return nil, ErrUnauthenticated
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		out.Kind = OutcomeError
		out.Message = errorMessage(queryErr)
		return out, nil
	case errors.Is(err, errStillPending):
		out.Kind = OutcomeUnconfirmed
		return out, nil
	case err != nil:
		return nil, err
	}

	switch out.Status {
	case "completed":
		out.Kind = OutcomeConfirmed
	case "failed", "refunded":
		out.Kind = OutcomeRejected
	default:
		out.Kind = OutcomeError
		if out.Message == "" {
			out.Message = FallbackMessage
		}
	}
	return out, nil
}

func errorMessage(err error) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return FallbackMessage
}
