// Package webhooks holds what the per-gateway webhook services share: how a
// gateway notification becomes a payment status update and which outcomes are
// acknowledged instead of retried.
package webhooks

import (
	"context"

	"github.com/angelmondragon/coursepay-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

// Applier is the payments surface webhook services drive.
type Applier interface {
	ApplyGatewayStatus(ctx context.Context, update payments.Update) (*payments.UpdateResult, error)
}

// Apply forwards the update. Disallowed transitions and unknown payments are
// logged and acknowledged so the gateway stops redelivering them; any other
// error is returned for a retry.
func Apply(ctx context.Context, applier Applier, logg *logger.Logger, update payments.Update) error {
	_, err := applier.ApplyGatewayStatus(ctx, update)
	if err == nil {
		return nil
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeStateConflict, pkgerrors.CodeNotFound:
		if logg != nil {
			logg.Warn(logg.WithFields(ctx, map[string]any{
				"source":    update.Source,
				"reference": update.Reference,
				"status":    update.Status,
				"error":     err.Error(),
			}), "webhook update ignored")
		}
		return nil
	default:
		return err
	}
}
