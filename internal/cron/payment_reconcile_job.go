package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const (
	defaultReconcileLimit  = 100
	defaultReconcileMinAge = 2 * time.Minute
	defaultExpireAfter     = 48 * time.Hour

	// ExpiredReason is stored as the failure reason of abandoned payments.
	ExpiredReason = "expired"
)

type paymentReconciler interface {
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
	Refresh(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	ApplyGatewayStatus(ctx context.Context, update payments.Update) (*payments.UpdateResult, error)
}

// PaymentReconcileJobParams configures the stale payment sweep.
type PaymentReconcileJobParams struct {
	Logger      *logger.Logger
	Payments    paymentReconciler
	MinAge      time.Duration
	ExpireAfter time.Duration
	Limit       int
	Now         func() time.Time
}

// NewPaymentReconcileJob asks the gateway about payments that stayed pending
// and fails the ones that outlived ExpireAfter.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	expireAfter := params.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = defaultExpireAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &paymentReconcileJob{
		logg:        params.Logger,
		payments:    params.Payments,
		minAge:      minAge,
		expireAfter: expireAfter,
		limit:       limit,
		now:         now,
	}, nil
}

type paymentReconcileJob struct {
	logg        *logger.Logger
	payments    paymentReconciler
	minAge      time.Duration
	expireAfter time.Duration
	limit       int
	now         func() time.Time
}

type reconcileTally struct {
	settled int
	expired int
	pending int
	skipped int
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	candidates, err := j.payments.ListStalePending(ctx, now.Add(-j.minAge), j.limit)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}

	var (
		errs  error
		tally reconcileTally
	)
	expiryCutoff := now.Add(-j.expireAfter)
	for i := range candidates {
		if err := j.reconcile(ctx, &candidates[i], expiryCutoff, &tally); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", candidates[i].ID, err))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates":    len(candidates),
		"settled":       tally.settled,
		"expired":       tally.expired,
		"still_pending": tally.pending,
		"skipped":       tally.skipped,
		"errors":        len(multierr.Errors(errs)),
	}), "payment reconcile loop complete")
	return errs
}

func (j *paymentReconcileJob) reconcile(ctx context.Context, payment *models.Payment, expiryCutoff time.Time, tally *reconcileTally) error {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"payment_id": payment.ID.String(),
		"gateway":    payment.Gateway,
		"created_at": payment.CreatedAt,
	})

	refreshed, err := j.payments.Refresh(ctx, payment)
	if err != nil {
		return err
	}
	if refreshed.Status != enums.PaymentStatusPending {
		tally.settled++
		j.logg.Info(j.logg.WithField(logCtx, "status", refreshed.Status), "pending payment settled by gateway")
		return nil
	}
	if !payment.CreatedAt.Before(expiryCutoff) {
		tally.pending++
		return nil
	}

	_, err = j.payments.ApplyGatewayStatus(ctx, payments.Update{
		PaymentID: &payment.ID,
		Status:    enums.PaymentStatusFailed,
		Reason:    ExpiredReason,
		Source:    "reconcile_expiry",
	})
	if err != nil {
		// a webhook can settle the payment between Refresh and the expiry write
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			tally.skipped++
			j.logg.Warn(logCtx, "payment changed before expiry; leaving it")
			return nil
		}
		return err
	}
	tally.expired++
	j.logg.Info(logCtx, "pending payment expired")
	return nil
}
