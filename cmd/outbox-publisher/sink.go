package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/coursepay-backend/pkg/kafka"
)

type outgoingMessage struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// sink is the transport an outbox row is delivered to.
type sink interface {
	Name() string
	Ping(ctx context.Context) error
	Publish(ctx context.Context, msg outgoingMessage) error
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) *gcppubsub.PublishResult
}

type pubsubPinger interface {
	Ping(ctx context.Context) error
}

type pubsubSink struct {
	client    pubsubPinger
	publisher topicPublisher
}

func newPubSubSink(client pubsubPinger, publisher *gcppubsub.Publisher) (*pubsubSink, error) {
	if client == nil || publisher == nil {
		return nil, errors.New("pubsub publisher not configured")
	}
	return &pubsubSink{client: client, publisher: publisher}, nil
}

func (s *pubsubSink) Name() string { return "pubsub" }

func (s *pubsubSink) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *pubsubSink) Publish(ctx context.Context, msg outgoingMessage) error {
	result := s.publisher.Publish(ctx, &gcppubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if result == nil {
		return nonRetryableError{err: errors.New("publisher returned nil result")}
	}
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

type kafkaProducer interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, msg kafka.Message) error
}

type kafkaSink struct {
	producer kafkaProducer
}

func (s *kafkaSink) Name() string { return "kafka" }

func (s *kafkaSink) Ping(ctx context.Context) error { return s.producer.Ping(ctx) }

func (s *kafkaSink) Publish(ctx context.Context, msg outgoingMessage) error {
	if err := s.producer.Publish(ctx, kafka.Message{Key: msg.Key, Value: msg.Data, Headers: msg.Attributes}); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}
