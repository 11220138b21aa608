package enums

// OutboxAggregateType is the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregatePayment    OutboxAggregateType = "payment"
	AggregateEnrollment OutboxAggregateType = "enrollment"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregatePayment || a == AggregateEnrollment
}

// OutboxEventType is the event_type column of outbox_events and the
// event_type attribute on every published message.
type OutboxEventType string

const (
	EventPaymentCompleted    OutboxEventType = "payment_completed"
	EventPaymentFailed       OutboxEventType = "payment_failed"
	EventPaymentRefunded     OutboxEventType = "payment_refunded"
	EventEnrollmentActivated OutboxEventType = "enrollment_activated"
	EventEnrollmentCancelled OutboxEventType = "enrollment_cancelled"
)

var outboxEventTypes = set[OutboxEventType]{
	EventPaymentCompleted, EventPaymentFailed, EventPaymentRefunded,
	EventEnrollmentActivated, EventEnrollmentCancelled,
}

func (e OutboxEventType) IsValid() bool { return outboxEventTypes.has(e) }

