package outbox

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// CurrentVersion is stamped on envelopes when the emitter leaves Version unset.
const CurrentVersion = 1

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps event type and version to a typed payload decoder.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// DefaultRegistry knows every event this service emits.
func DefaultRegistry() *DecoderRegistry {
	r := NewDecoderRegistry()
	for _, eventType := range []enums.OutboxEventType{enums.EventPaymentCompleted, enums.EventPaymentFailed, enums.EventPaymentRefunded} {
		r.Register(eventType, CurrentVersion, decodeInto[PaymentStatusChangedEvent])
	}
	r.Register(enums.EventEnrollmentActivated, CurrentVersion, decodeInto[EnrollmentActivatedEvent])
	r.Register(enums.EventEnrollmentCancelled, CurrentVersion, decodeInto[EnrollmentCancelledEvent])
	return r
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}

func decodeInto[T any](payload json.RawMessage) (any, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
