package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

var reconcileNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeReconciler struct {
	pending    []models.Payment
	gateway    map[uuid.UUID]enums.PaymentStatus
	refreshErr map[uuid.UUID]error
	applyErr   error
	applied    []payments.Update
	listCutoff time.Time
	listLimit  int
}

func (f *fakeReconciler) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	f.listCutoff = createdBefore
	f.listLimit = limit
	return f.pending, nil
}

func (f *fakeReconciler) Refresh(_ context.Context, p *models.Payment) (*models.Payment, error) {
	if err := f.refreshErr[p.ID]; err != nil {
		return nil, err
	}
	out := *p
	if status, ok := f.gateway[p.ID]; ok {
		out.Status = status
	}
	return &out, nil
}

func (f *fakeReconciler) ApplyGatewayStatus(_ context.Context, u payments.Update) (*payments.UpdateResult, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.applied = append(f.applied, u)
	return &payments.UpdateResult{Changed: true, Previous: enums.PaymentStatusPending}, nil
}

func pendingPayment(age time.Duration) models.Payment {
	return models.Payment{
		ID:        uuid.New(),
		Status:    enums.PaymentStatusPending,
		Gateway:   enums.GatewaySandbox,
		CreatedAt: reconcileNow.Add(-age),
	}
}

func newReconcileJob(t *testing.T, svc *fakeReconciler) Job {
	t.Helper()
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:      logger.Nop(),
		Payments:    svc,
		MinAge:      2 * time.Minute,
		ExpireAfter: 48 * time.Hour,
		Limit:       25,
		Now:         func() time.Time { return reconcileNow },
	})
	require.NoError(t, err)
	return job
}

func TestPaymentReconcileExpiresAbandonedPayments(t *testing.T) {
	fresh := pendingPayment(10 * time.Minute)
	abandoned := pendingPayment(72 * time.Hour)
	settled := pendingPayment(72 * time.Hour)
	svc := &fakeReconciler{
		pending: []models.Payment{fresh, abandoned, settled},
		gateway: map[uuid.UUID]enums.PaymentStatus{settled.ID: enums.PaymentStatusCompleted},
	}

	require.NoError(t, newReconcileJob(t, svc).Run(context.Background()))

	assert.Equal(t, reconcileNow.Add(-2*time.Minute), svc.listCutoff)
	assert.Equal(t, 25, svc.listLimit)
	require.Len(t, svc.applied, 1)
	assert.Equal(t, abandoned.ID, *svc.applied[0].PaymentID)
	assert.Equal(t, enums.PaymentStatusFailed, svc.applied[0].Status)
	assert.Equal(t, ExpiredReason, svc.applied[0].Reason)
}

func TestPaymentReconcileAggregatesErrors(t *testing.T) {
	a := pendingPayment(time.Hour)
	b := pendingPayment(time.Hour)
	c := pendingPayment(time.Hour)
	svc := &fakeReconciler{
		pending: []models.Payment{a, b, c},
		refreshErr: map[uuid.UUID]error{
			a.ID: errors.New("gateway timeout"),
			c.ID: errors.New("gateway unavailable"),
		},
	}

	err := newReconcileJob(t, svc).Run(context.Background())

	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), a.ID.String())
	assert.Contains(t, err.Error(), c.ID.String())
}

func TestPaymentReconcileToleratesConcurrentSettlement(t *testing.T) {
	svc := &fakeReconciler{
		pending:  []models.Payment{pendingPayment(72 * time.Hour)},
		applyErr: pkgerrors.New(pkgerrors.CodeStateConflict, "payment cannot move from completed to failed"),
	}

	assert.NoError(t, newReconcileJob(t, svc).Run(context.Background()))
}

func TestPaymentReconcileCountsLateRefundAsSettled(t *testing.T) {
	refunded := pendingPayment(72 * time.Hour)
	svc := &fakeReconciler{
		pending: []models.Payment{refunded},
		gateway: map[uuid.UUID]enums.PaymentStatus{refunded.ID: enums.PaymentStatusRefunded},
	}

	require.NoError(t, newReconcileJob(t, svc).Run(context.Background()))
	assert.Empty(t, svc.applied, "a refunded payment is never expired")
}
