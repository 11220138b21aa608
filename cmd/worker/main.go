package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/coursepay-backend/internal/notifications"
	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/idempotency"
	"github.com/angelmondragon/coursepay-backend/pkg/instance"
	"github.com/angelmondragon/coursepay-backend/pkg/kafka"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/pubsub"
	"github.com/angelmondragon/coursepay-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notifications-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "notifications-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	mailer, err := notifications.NewMailer(cfg.Sendgrid, cfg.SMTP, cfg.App.PublicName)
	if err != nil {
		logg.Error(ctx, "failed to configure mailer", err)
		os.Exit(1)
	}

	guard, err := idempotency.NewGuard(redisClient, notifications.ConsumerScope, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency guard", err)
		os.Exit(1)
	}

	consumer, err := notifications.NewConsumer(notifications.ConsumerParams{
		Mailer:     mailer,
		Guard:      guard,
		Logger:     logg,
		SenderName: cfg.App.PublicName,
	})
	if err != nil {
		logg.Error(ctx, "failed to create notification consumer", err)
		os.Exit(1)
	}

	eventSource, closeSource, err := buildSource(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap event source", err)
		os.Exit(1)
	}
	defer closeSource()

	service, err := NewService(ServiceParams{
		Logger:    logg,
		Redis:     redisClient.Ping,
		Source:    eventSource,
		Processor: consumer,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID("worker-0"),
		"serviceKind": cfg.Service.Kind,
		"source":      eventSource.Name(),
		"mailer":      mailer.Name(),
	})
	logg.Info(ctx, "starting notifications worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func buildSource(ctx context.Context, cfg *config.Config, logg *logger.Logger) (source, func(), error) {
	switch cfg.Events.TransportName() {
	case config.EventsTransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		sub, err := client.NotificationsSubscriber(ctx)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return &pubsubSource{sub: sub, ping: client.Ping}, func() {
			if err := client.Close(); err != nil {
				logg.Error(ctx, "error closing pubsub client", err)
			}
		}, nil
	case config.EventsTransportKafka:
		consumer, err := kafka.NewConsumer(cfg.Kafka, logg)
		if err != nil {
			return nil, nil, err
		}
		return &kafkaSource{consumer: consumer}, func() {
			if err := consumer.Close(); err != nil {
				logg.Error(ctx, "error closing kafka consumer", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("events transport %q has nothing to consume; set %s to pubsub or kafka", cfg.Events.Transport, config.EnvEventsTransport)
	}
}
