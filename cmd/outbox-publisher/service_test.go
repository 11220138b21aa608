package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	"github.com/angelmondragon/coursepay-backend/pkg/kafka"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/outbox"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			paymentEvent(t, 0),
			paymentEvent(t, 0),
		},
	}
	sink := &fakeSink{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, sink, 5)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("unexpected failed rows: %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("unexpected published rows: %v", repo.published)
	}
	if len(repo.terminal) != 0 {
		t.Fatalf("transient failure should not park the row")
	}
}

func TestServiceProcessBatchPublishesKeyAndAttributes(t *testing.T) {
	event := paymentEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	sink := &fakeSink{}
	service := newTestService(t, repo, sink, 5)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sink.sent))
	}
	msg := sink.sent[0]
	if msg.Key != event.AggregateID.String() {
		t.Fatalf("expected aggregate id as key, got %q", msg.Key)
	}
	if msg.Attributes["event_type"] != string(enums.EventPaymentCompleted) {
		t.Fatalf("unexpected event_type attribute %q", msg.Attributes["event_type"])
	}
	if msg.Attributes["event_id"] == "" {
		t.Fatalf("expected event_id attribute")
	}
	if string(msg.Data) != string(event.Payload) {
		t.Fatalf("payload must be forwarded unchanged")
	}
}

func TestServiceProcessBatchParksUndecodablePayload(t *testing.T) {
	bad := paymentEvent(t, 0)
	bad.Payload = json.RawMessage(`{"version":1,"eventId":"x","data":{"payment_id":42}}`)
	repo := &fakeRepo{events: []models.OutboxEvent{bad}}
	sink := &fakeSink{}
	service := newTestService(t, repo, sink, 5)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("undecodable payload must not be published")
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != bad.ID {
		t.Fatalf("expected row to be parked, got %v", repo.terminal)
	}
	if repo.terminalAttempts != 5 {
		t.Fatalf("expected terminal attempts 5, got %d", repo.terminalAttempts)
	}
}

func TestServiceProcessBatchParksUnknownEventType(t *testing.T) {
	event := paymentEvent(t, 0)
	event.EventType = enums.OutboxEventType("course_archived")
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	service := newTestService(t, repo, &fakeSink{}, 5)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected unknown event type to be parked")
	}
}

func TestServiceProcessBatchParksAtMaxAttempts(t *testing.T) {
	event := paymentEvent(t, 4)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	sink := &fakeSink{errs: []error{errors.New("broker down")}}
	service := newTestService(t, repo, sink, 5)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("last attempt should not be recorded as a plain failure")
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row to be parked at max attempts")
	}
}

func TestServiceProcessBatchParksNonRetryable(t *testing.T) {
	event := paymentEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	sink := &fakeSink{errs: []error{nonRetryableError{err: errors.New("message too large")}}}
	service := newTestService(t, repo, sink, 5)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected non-retryable error to park the row")
	}
}

func TestServiceProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{}, 5)
	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed {
		t.Fatalf("empty batch should not report processed")
	}
}

func TestServiceRunStopsWhenSinkUnreachable(t *testing.T) {
	sink := &fakeSink{pingErr: errors.New("no brokers")}
	service := newTestService(t, &fakeRepo{}, sink, 5)
	if err := service.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness failure")
	}
}

func TestKafkaSinkMapsMessage(t *testing.T) {
	producer := &fakeProducer{}
	s := &kafkaSink{producer: producer}
	err := s.Publish(context.Background(), outgoingMessage{
		Key:        "agg-1",
		Data:       []byte(`{}`),
		Attributes: map[string]string{"event_type": "payment_completed"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if producer.last.Key != "agg-1" || producer.last.Headers["event_type"] != "payment_completed" {
		t.Fatalf("unexpected kafka message: %+v", producer.last)
	}
}

func TestErrorBackoffIsCapped(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{}, 5)
	b := service.errorBackoff()
	var last time.Duration
	for i := 0; i < 40; i++ {
		last, _ = b.Next()
	}
	if last > maxErrorDelay+idleJitter {
		t.Fatalf("backoff grew past the cap: %s", last)
	}
}

func TestRunReturnsWhenCancelled(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{}, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func paymentEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	aggregateID := uuid.New()
	data, err := json.Marshal(outbox.PaymentStatusChangedEvent{
		PaymentID:      aggregateID,
		UserID:         uuid.New(),
		CourseID:       uuid.New(),
		Amount:         "150000",
		Currency:       "COP",
		Gateway:        enums.GatewaySandbox,
		PreviousStatus: enums.PaymentStatusPending,
		Status:         enums.PaymentStatusCompleted,
	})
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    outbox.CurrentVersion,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   aggregateID,
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

func newTestService(t *testing.T, repo *fakeRepo, sink *fakeSink, maxAttempts int) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Outbox.BatchSize = 10
	cfg.Outbox.PollIntervalMS = 1
	cfg.Outbox.MaxAttempts = maxAttempts
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard}),
		DB:         fakeDB{},
		Sink:       sink,
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeRepo struct {
	events           []models.OutboxEvent
	published        []uuid.UUID
	failed           []uuid.UUID
	terminal         []uuid.UUID
	terminalAttempts int
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, attempts int) error {
	f.terminal = append(f.terminal, id)
	f.terminalAttempts = attempts
	return nil
}

type fakeSink struct {
	errs    []error
	pingErr error
	sent    []outgoingMessage
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Ping(context.Context) error { return f.pingErr }

func (f *fakeSink) Publish(_ context.Context, msg outgoingMessage) error {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, msg)
	}
	return err
}

type fakeProducer struct {
	last kafka.Message
}

func (f *fakeProducer) Ping(context.Context) error { return nil }

func (f *fakeProducer) Publish(_ context.Context, msg kafka.Message) error {
	f.last = msg
	return nil
}
