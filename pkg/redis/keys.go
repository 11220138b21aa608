package redis

import (
	"strconv"
	"strings"
	"time"
)

const defaultNamespace = "cp"

// Keyspace builds every key this service writes, so environments sharing
// one Redis can be separated by namespace alone.
type Keyspace struct {
	namespace string
}

func NewKeyspace(namespace string) Keyspace {
	namespace = strings.Trim(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		namespace = defaultNamespace
	}
	return Keyspace{namespace: namespace}
}

func (k Keyspace) IdempotencyKey(scope, id string) string {
	return k.join("idem", scope, id)
}

func (k Keyspace) LockKey(name string) string {
	return k.join("lock", name)
}

// RateLimitKey names the counter for the window containing at. Windows are
// aligned to the epoch so every replica counts into the same key.
func (k Keyspace) RateLimitKey(scope string, at time.Time, window time.Duration) string {
	slot := at.Unix()
	if secs := int64(window / time.Second); secs > 0 {
		slot /= secs
	}
	return k.join("rl", scope, strconv.FormatInt(slot, 10))
}

func (k Keyspace) join(parts ...string) string {
	var b strings.Builder
	b.WriteString(k.ns())
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}

func (k Keyspace) ns() string {
	if k.namespace == "" {
		return defaultNamespace
	}
	return k.namespace
}
