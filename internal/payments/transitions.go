package payments

import "github.com/angelmondragon/coursepay-backend/pkg/enums"

var allowedTransitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending:   {enums.PaymentStatusCompleted, enums.PaymentStatusFailed},
	enums.PaymentStatusCompleted: {enums.PaymentStatusRefunded},
}

// CanTransition reports whether a payment may move from one status to
// another. Re-applying the current status is not a transition.
func CanTransition(from, to enums.PaymentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func eventForStatus(status enums.PaymentStatus) (enums.OutboxEventType, bool) {
	switch status {
	case enums.PaymentStatusCompleted:
		return enums.EventPaymentCompleted, true
	case enums.PaymentStatusFailed:
		return enums.EventPaymentFailed, true
	case enums.PaymentStatusRefunded:
		return enums.EventPaymentRefunded, true
	default:
		return "", false
	}
}
