package outbox

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// PaymentStatusChangedEvent backs payment_completed, payment_failed and
// payment_refunded.
type PaymentStatusChangedEvent struct {
	PaymentID        uuid.UUID           `json:"payment_id"`
	UserID           uuid.UUID           `json:"user_id"`
	CourseID         uuid.UUID           `json:"course_id"`
	Amount           string              `json:"amount"`
	Currency         string              `json:"currency"`
	Gateway          enums.Gateway       `json:"gateway"`
	GatewayReference string              `json:"gateway_reference,omitempty"`
	PreviousStatus   enums.PaymentStatus `json:"previous_status"`
	Status           enums.PaymentStatus `json:"status"`
	Reason           string              `json:"reason,omitempty"`
}

// EnrollmentActivatedEvent carries enough context to send the confirmation
// mail without another lookup.
type EnrollmentActivatedEvent struct {
	EnrollmentID  uuid.UUID      `json:"enrollment_id"`
	PaymentID     uuid.UUID      `json:"payment_id"`
	UserID        uuid.UUID      `json:"user_id"`
	UserEmail     string         `json:"user_email,omitempty"`
	UserName      string         `json:"user_name,omitempty"`
	CourseID      uuid.UUID      `json:"course_id"`
	CourseName    string         `json:"course_name"`
	PlanType      enums.PlanType `json:"plan_type"`
	StartDate     time.Time      `json:"start_date"`
	EndDate       time.Time      `json:"end_date"`
	PriceSnapshot string         `json:"price_snapshot"`
	Currency      string         `json:"currency"`
}

// EnrollmentCancelledEvent is emitted on refunds and user cancellations.
type EnrollmentCancelledEvent struct {
	EnrollmentID uuid.UUID  `json:"enrollment_id"`
	PaymentID    *uuid.UUID `json:"payment_id,omitempty"`
	UserID       uuid.UUID  `json:"user_id"`
	CourseID     uuid.UUID  `json:"course_id"`
	Reason       string     `json:"reason"`
	CancelledAt  time.Time  `json:"cancelled_at"`
}
