// Package pubsub connects the event transport to Google Cloud Pub/Sub: the
// outbox publisher writes to the payments topic and the notifications worker
// reads from its subscription.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub payments topic is required")
	errNotConnected      = errors.New("pubsub client not initialized")
)

// project expands short topic and subscription ids into resource names.
// Names already starting with "projects/" pass through.
type project string

func (p project) name(kind, id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.TrimSpace(string(p)) == "" {
		return ""
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+kind+"/") {
		return id
	}
	return "projects/" + strings.TrimSpace(string(p)) + "/" + kind + "/" + id
}

func (p project) topic(id string) string        { return p.name("topics", id) }
func (p project) subscription(id string) string { return p.name("subscriptions", id) }

type Client struct {
	client  *pubsub.Client
	project project
	cfg     config.PubSubConfig
}

// NewClient connects and fails fast when the payments topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.PaymentsTopic) == "" {
		return nil, errTopicRequired
	}

	ps, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: ps, project: project(gcp.ProjectID), cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project": gcp.ProjectID,
			"topic":   cfg.PaymentsTopic,
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping confirms the payments topic is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotConnected
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.project.topic(c.cfg.PaymentsTopic)})
	return missing(err, "topic", c.cfg.PaymentsTopic)
}

// PaymentsPublisher publishes payment and enrollment events. Callers Stop it
// before closing the client.
func (c *Client) PaymentsPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Publisher(c.project.topic(c.cfg.PaymentsTopic))
}

// NotificationsSubscriber returns the notifications worker's subscriber once
// the subscription is confirmed to exist.
func (c *Client) NotificationsSubscriber(ctx context.Context) (*pubsub.Subscriber, error) {
	if c == nil || c.client == nil {
		return nil, errNotConnected
	}
	id := c.cfg.NotificationsSubscription
	full := c.project.subscription(id)
	if full == "" {
		return nil, fmt.Errorf("subscription %q not configured", id)
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	if err := missing(err, "subscription", id); err != nil {
		return nil, err
	}
	return c.client.Subscriber(full), nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func missing(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, id)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, id, err)
	}
}
