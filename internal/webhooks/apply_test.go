package webhooks

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

type stubApplier struct {
	err     error
	updates []payments.Update
}

func (s *stubApplier) ApplyGatewayStatus(_ context.Context, update payments.Update) (*payments.UpdateResult, error) {
	s.updates = append(s.updates, update)
	return &payments.UpdateResult{}, s.err
}

func TestApplyAcknowledgesConflicts(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "ok"},
		{name: "state conflict", err: pkgerrors.New(pkgerrors.CodeStateConflict, "payment cannot move")},
		{name: "not found", err: pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")},
		{name: "dependency", err: pkgerrors.New(pkgerrors.CodeDependency, "db down"), wantErr: true},
		{name: "plain", err: errors.New("boom"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &stubApplier{err: tt.err}
			err := Apply(context.Background(), applier, logger.Nop(), payments.Update{Reference: "ref", Status: enums.PaymentStatusCompleted})
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v got %v", tt.wantErr, err)
			}
			if len(applier.updates) != 1 {
				t.Fatalf("expected one update, got %d", len(applier.updates))
			}
		})
	}
}
