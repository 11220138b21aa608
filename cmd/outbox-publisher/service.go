package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/outbox"
)

const (
	publishTimeout = 15 * time.Second
	idleJitter     = 250 * time.Millisecond
	maxErrorDelay  = 10 * time.Second
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

// nonRetryableError marks failures a retry cannot fix.
type nonRetryableError struct{ err error }

func (e nonRetryableError) Error() string { return e.err.Error() }
func (e nonRetryableError) Unwrap() error { return e.err }

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	Sink       sink
	Repository outboxRepository
	Registry   *outbox.DecoderRegistry
}

// Service drains outbox_events to the configured sink. Rows are locked for
// the duration of a batch so several publishers can run side by side.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	repo        outboxRepository
	sink        sink
	decoders    *outbox.DecoderRegistry
	batch       int
	maxAttempts int
	poll        time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Sink == nil:
		return nil, errors.New("event sink is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	}
	decoders := p.Registry
	if decoders == nil {
		decoders = outbox.DefaultRegistry()
	}
	cfg := p.Config.Outbox
	return &Service{
		logg:        p.Logger,
		db:          p.DB,
		repo:        p.Repository,
		sink:        p.Sink,
		decoders:    decoders,
		batch:       positiveOr(cfg.BatchSize, 50),
		maxAttempts: positiveOr(cfg.MaxAttempts, 10),
		poll:        time.Duration(positiveOr(cfg.PollIntervalMS, 500)) * time.Millisecond,
	}, nil
}

// Run polls until ctx ends. An empty table waits one poll interval; a failed
// batch backs off exponentially up to maxErrorDelay.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.sink.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", s.sink.Name(), err)
	}

	idle := retry.WithJitter(idleJitter, retry.NewConstant(s.poll))
	onError := s.errorBackoff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		busy, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait, _ = onError.Next()
		case busy:
			onError = s.errorBackoff()
			continue
		default:
			onError = s.errorBackoff()
			wait, _ = idle.Next()
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) errorBackoff() retry.Backoff {
	return retry.WithJitter(idleJitter, retry.WithCappedDuration(maxErrorDelay, retry.NewExponential(2*s.poll)))
}

type delivery int

const (
	delivered delivery = iota
	deferred
	parked
)

// processBatch reports whether any row was fetched, so Run can loop again
// straight away while a backlog remains.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var fetched int
	tally := map[delivery]int{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batch, s.maxAttempts)
		if err != nil {
			return err
		}
		fetched = len(events)
		for i := range events {
			outcome, err := s.deliver(ctx, tx, &events[i])
			if err != nil {
				return err
			}
			tally[outcome]++
		}
		return nil
	})
	if err == nil && fetched > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"fetched":   fetched,
			"published": tally[delivered],
			"deferred":  tally[deferred],
			"parked":    tally[parked],
		}), "outbox batch done")
	}
	return fetched > 0, err
}

// deliver publishes one row and records the result on it. The returned error
// is only for bookkeeping failures, which abort the batch.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, event *models.OutboxEvent) (delivery, error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	})

	env, err := s.verify(event)
	if err != nil {
		err = nonRetryableError{err: err}
	} else {
		logCtx = s.logg.WithField(logCtx, "event_id", env.EventID)
		err = s.publish(ctx, event, env)
	}

	var permanent nonRetryableError
	switch {
	case err == nil:
		if markErr := s.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
			return delivered, fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		s.logg.Debug(logCtx, "outbox event published")
		return delivered, nil
	case errors.As(err, &permanent):
	case event.AttemptCount+1 >= s.maxAttempts:
		err = fmt.Errorf("giving up after %d attempts: %w", s.maxAttempts, err)
	default:
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed, will retry")
		if markErr := s.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
			return deferred, fmt.Errorf("mark failure %s: %w", event.ID, markErr)
		}
		return deferred, nil
	}

	s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "outbox event parked")
	if markErr := s.repo.MarkTerminalTx(tx, event.ID, err, s.maxAttempts); markErr != nil {
		return parked, fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
	}
	return parked, nil
}

// verify decodes the stored envelope and its data, so nothing a consumer
// cannot read leaves the service.
func (s *Service) verify(event *models.OutboxEvent) (outbox.PayloadEnvelope, error) {
	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return outbox.PayloadEnvelope{}, err
	}
	version := env.Version
	if version == 0 {
		version = outbox.CurrentVersion
	}
	if _, err := s.decoders.Decode(event.EventType, version, env.Data); err != nil {
		return outbox.PayloadEnvelope{}, err
	}
	return env, nil
}

func (s *Service) publish(ctx context.Context, event *models.OutboxEvent, env outbox.PayloadEnvelope) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return s.sink.Publish(ctx, outgoingMessage{
		Key:  event.AggregateID.String(),
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       env.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
