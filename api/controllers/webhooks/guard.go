package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/coursepay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

// maxPayload bounds a webhook body. Gateways send a few kilobytes.
const maxPayload = 1 << 20

type eventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type signatureVerifier interface {
	VerifySignature(payload []byte, header string) bool
}

// intake is one gateway's webhook endpoint. open authenticates and decodes
// the body; handle runs at most once per event id, and a failed handle
// releases the id so the gateway's redelivery is processed again.
type intake[E any] struct {
	gateway    string
	sigHeaders []string
	open       func(payload []byte, signature string) (E, error)
	eventID    func(r *http.Request, event E) string
	handle     func(ctx context.Context, event E) error
	guard      eventGuard
	logg       *logger.Logger
}

func (in intake[E]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		responses.WriteError(ctx, in.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
		return
	}

	var signature string
	for _, h := range in.sigHeaders {
		if signature = strings.TrimSpace(r.Header.Get(h)); signature != "" {
			break
		}
	}
	if signature == "" {
		responses.WriteError(ctx, in.logg, w, pkgerrors.New(pkgerrors.CodeValidation, in.gateway+" signature missing"))
		return
	}

	event, err := in.open(payload, signature)
	if err != nil {
		responses.WriteError(ctx, in.logg, w, err)
		return
	}

	eventID := strings.TrimSpace(in.eventID(r, event))
	if eventID == "" {
		responses.WriteError(ctx, in.logg, w, pkgerrors.New(pkgerrors.CodeValidation, in.gateway+" event id missing"))
		return
	}
	if in.logg != nil {
		ctx = in.logg.WithFields(ctx, map[string]any{"gateway": in.gateway, "event_id": eventID})
	}

	seen, err := in.guard.CheckAndMark(ctx, eventID)
	if err != nil {
		responses.WriteError(ctx, in.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	if seen {
		if in.logg != nil {
			in.logg.Debug(ctx, "duplicate webhook delivery")
		}
		responses.WriteSuccess(w, nil)
		return
	}

	if err := in.handle(ctx, event); err != nil {
		// A stuck mark makes the redelivery look like a duplicate until it expires.
		if derr := in.guard.Delete(ctx, eventID); derr != nil && in.logg != nil {
			in.logg.Warn(in.logg.WithField(ctx, "error", derr.Error()), "release webhook event id failed")
		}
		responses.WriteError(ctx, in.logg, w, err)
		return
	}
	if in.logg != nil {
		in.logg.Info(ctx, "webhook processed")
	}
	responses.WriteSuccess(w, nil)
}

// hmacJSON checks a body signature with v and then decodes the JSON body.
func hmacJSON[E any](v signatureVerifier, gateway string) func([]byte, string) (E, error) {
	return func(payload []byte, signature string) (E, error) {
		var event E
		if !v.VerifySignature(payload, signature) {
			return event, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid "+gateway+" signature")
		}
		if err := json.Unmarshal(payload, &event); err != nil {
			return event, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event")
		}
		return event, nil
	}
}

// unavailable answers every delivery with a 500 so the gateway keeps
// retrying until the missing dependency is configured.
func unavailable(logg *logger.Logger, what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, what+" unavailable"))
	}
}
