package squarewebhook

import (
	"context"
	"testing"

	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

type recordingApplier struct {
	updates []payments.Update
}

func (r *recordingApplier) ApplyGatewayStatus(_ context.Context, update payments.Update) (*payments.UpdateResult, error) {
	r.updates = append(r.updates, update)
	return &payments.UpdateResult{}, nil
}

func paymentEvent(status string, refunded int64) *SquareWebhookEvent {
	payment := &SquarePayment{ID: "sq_pay_1", Status: status, ReferenceID: "ignored"}
	if refunded > 0 {
		payment.RefundedMoney = &SquareMoney{Amount: refunded, Currency: "COP"}
	}
	return &SquareWebhookEvent{
		EventID: "evt-1",
		Type:    "payment.updated",
		Data:    SquareWebhookData{Type: "payment", ID: "sq_pay_1", Object: SquareWebhookObject{Payment: payment}},
	}
}

func TestPaymentEventsMapToStatus(t *testing.T) {
	tests := []struct {
		name     string
		event    *SquareWebhookEvent
		want     enums.PaymentStatus
		expected bool
	}{
		{name: "completed", event: paymentEvent("COMPLETED", 0), want: enums.PaymentStatusCompleted, expected: true},
		{name: "failed", event: paymentEvent("FAILED", 0), want: enums.PaymentStatusFailed, expected: true},
		{name: "canceled", event: paymentEvent("CANCELED", 0), want: enums.PaymentStatusFailed, expected: true},
		{name: "approved", event: paymentEvent("APPROVED", 0)},
		{name: "refunded", event: paymentEvent("COMPLETED", 500), want: enums.PaymentStatusRefunded, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &recordingApplier{}
			svc, err := NewService(ServiceParams{Payments: applier, Logger: logger.Nop()})
			if err != nil {
				t.Fatalf("new service: %v", err)
			}
			if err := svc.HandleEvent(context.Background(), tt.event); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if !tt.expected {
				if len(applier.updates) != 0 {
					t.Fatalf("expected no update, got %+v", applier.updates)
				}
				return
			}
			if len(applier.updates) != 1 {
				t.Fatalf("expected one update, got %d", len(applier.updates))
			}
			if applier.updates[0].Status != tt.want || applier.updates[0].Reference != "sq_pay_1" {
				t.Fatalf("unexpected update %+v", applier.updates[0])
			}
		})
	}
}

func TestRefundEvent(t *testing.T) {
	applier := &recordingApplier{}
	svc, _ := NewService(ServiceParams{Payments: applier})
	event := &SquareWebhookEvent{
		EventID: "evt-2",
		Type:    "refund.updated",
		Data: SquareWebhookData{Object: SquareWebhookObject{
			Refund: &SquareRefund{ID: "rf_1", Status: "PENDING", PaymentID: "sq_pay_1"},
		}},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle pending refund: %v", err)
	}
	if len(applier.updates) != 0 {
		t.Fatalf("pending refund must not update")
	}

	event.Data.Object.Refund.Status = "COMPLETED"
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle refund: %v", err)
	}
	if len(applier.updates) != 1 || applier.updates[0].Status != enums.PaymentStatusRefunded {
		t.Fatalf("unexpected updates %+v", applier.updates)
	}
}

func TestMissingPayloadIsValidationError(t *testing.T) {
	svc, _ := NewService(ServiceParams{Payments: &recordingApplier{}})
	err := svc.HandleEvent(context.Background(), &SquareWebhookEvent{Type: "payment.updated"})
	if err == nil {
		t.Fatalf("expected error")
	}
}
