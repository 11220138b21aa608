// Package kafka wraps segmentio/kafka-go for the payment events stream: one
// writer for the outbox publisher and one group reader per consumer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const dialTimeout = 5 * time.Second

var errNoBrokers = errors.New("kafka brokers are required")

// Message is the transport-neutral shape written to and read from a topic.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer  messageWriter
	brokers []string
	topic   string
}

func NewProducer(cfg config.KafkaConfig, logg *logger.Logger) (*Producer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireAll,
	}
	if logg != nil {
		ctx := logg.WithFields(context.Background(), map[string]any{"brokers": brokers, "topic": cfg.Topic})
		logg.Info(ctx, "kafka producer initialized")
	}
	return &Producer{writer: writer, brokers: brokers, topic: cfg.Topic}, nil
}

// Publish writes one message. Messages with the same key land on the same
// partition, so events of one payment stay ordered.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka producer not initialized")
	}
	return p.writer.WriteMessages(ctx, toKafkaMessage(msg))
}

// Ping dials the first reachable broker.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil {
		return errors.New("kafka producer not initialized")
	}
	return ping(ctx, p.brokers)
}

func (p *Producer) Topic() string {
	return p.topic
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the topic as part of a consumer group. Offsets are committed
// only after the handler succeeds.
type Consumer struct {
	reader  messageReader
	brokers []string
	logg    *logger.Logger
}

func NewConsumer(cfg config.KafkaConfig, logg *logger.Logger) (*Consumer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka group id is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
		SessionTimeout: 20 * time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	})
	return &Consumer{reader: reader, brokers: brokers, logg: logg}, nil
}

// Run fetches until ctx is cancelled. A handler error leaves the offset
// uncommitted and stops the loop so the message is redelivered after restart.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, msg Message) error) error {
	if c == nil || c.reader == nil {
		return errors.New("kafka consumer not initialized")
	}
	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch kafka message: %w", err)
		}
		if err := handle(ctx, fromKafkaMessage(raw)); err != nil {
			return fmt.Errorf("handle kafka message at offset %d: %w", raw.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, raw); err != nil {
			return fmt.Errorf("commit kafka offset %d: %w", raw.Offset, err)
		}
	}
}

func (c *Consumer) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("kafka consumer not initialized")
	}
	return ping(ctx, c.brokers)
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func ping(ctx context.Context, brokers []string) error {
	dialer := &kafka.Dialer{Timeout: dialTimeout}
	var lastErr error
	for _, broker := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func cleanBrokers(raw []string) []string {
	brokers := make([]string, 0, len(raw))
	for _, b := range raw {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func toKafkaMessage(msg Message) kafka.Message {
	out := kafka.Message{Key: []byte(msg.Key), Value: msg.Value}
	for k, v := range msg.Headers {
		out.Headers = append(out.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaMessage(raw kafka.Message) Message {
	msg := Message{Key: string(raw.Key), Value: raw.Value}
	if len(raw.Headers) > 0 {
		msg.Headers = make(map[string]string, len(raw.Headers))
		for _, h := range raw.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
