// Package idempotency records processed event ids in Redis so redelivered
// webhooks and outbox messages are handled once.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/coursepay-backend/pkg/redis"
)

// Guard marks event ids as processed under a fixed scope. Keys follow the
// `cp:idempotency:<scope>:<event_id>` pattern.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// NewGuard builds a guard for one consumer scope, e.g. "stripe_webhook".
func NewGuard(store redis.IdempotencyStore, scope string, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, errors.New("idempotency scope is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark returns true when eventID was already seen. Otherwise it marks
// it and returns false.
func (g *Guard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete forgets eventID so a redelivery is processed again. Call it when the
// handler failed after CheckAndMark.
func (g *Guard) Delete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}
