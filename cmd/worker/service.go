package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/coursepay-backend/internal/notifications"
	"github.com/angelmondragon/coursepay-backend/pkg/kafka"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

var errRedeliver = errors.New("message handed back for redelivery")

type processor interface {
	Process(ctx context.Context, d notifications.Delivery) notifications.Result
}

type pinger func(context.Context) error

// source is the event stream the worker consumes.
type source interface {
	Name() string
	Ping(ctx context.Context) error
	Run(ctx context.Context, handle func(context.Context, notifications.Delivery) notifications.Result) error
}

type ServiceParams struct {
	Logger    *logger.Logger
	Redis     pinger
	Source    source
	Processor processor
}

type Service struct {
	logg      *logger.Logger
	redis     pinger
	source    source
	processor processor
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Source == nil {
		return nil, errors.New("event source is required")
	}
	if params.Processor == nil {
		return nil, errors.New("notification consumer is required")
	}
	return &Service{
		logg:      params.Logger,
		redis:     params.Redis,
		source:    params.Source,
		processor: params.Processor,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "redis", s.redis); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, s.source.Name(), s.source.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	err := s.source.Run(ctx, s.processor.Process)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "consumer stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return nil
}

type subscriber interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type pubsubSource struct {
	sub  subscriber
	ping pinger
}

func (s *pubsubSource) Name() string { return "pubsub" }

func (s *pubsubSource) Ping(ctx context.Context) error { return s.ping(ctx) }

func (s *pubsubSource) Run(ctx context.Context, handle func(context.Context, notifications.Delivery) notifications.Result) error {
	return s.sub.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		result := handle(ctx, notifications.Delivery{
			MessageID: msg.ID,
			EventType: msg.Attributes["event_type"],
			Data:      msg.Data,
		})
		if result.Retry {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type kafkaConsumer interface {
	Ping(ctx context.Context) error
	Run(ctx context.Context, handle func(context.Context, kafka.Message) error) error
}

// kafkaSource stops on the first message that needs redelivery; the offset
// stays uncommitted and the restarted worker picks it up again.
type kafkaSource struct {
	consumer kafkaConsumer
}

func (s *kafkaSource) Name() string { return "kafka" }

func (s *kafkaSource) Ping(ctx context.Context) error { return s.consumer.Ping(ctx) }

func (s *kafkaSource) Run(ctx context.Context, handle func(context.Context, notifications.Delivery) notifications.Result) error {
	return s.consumer.Run(ctx, func(ctx context.Context, msg kafka.Message) error {
		result := handle(ctx, notifications.Delivery{
			MessageID: msg.Key,
			EventType: msg.Headers["event_type"],
			Data:      msg.Value,
		})
		if result.Retry {
			return errRedeliver
		}
		return nil
	})
}
