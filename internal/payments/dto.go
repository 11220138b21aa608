package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coursepay-backend/internal/enrollments"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// PaymentDTO is the wire shape of a payment.
type PaymentDTO struct {
	ID               uuid.UUID           `json:"id"`
	UserID           uuid.UUID           `json:"user_id"`
	CourseID         uuid.UUID           `json:"course_id"`
	CourseName       string              `json:"course_name,omitempty"`
	Amount           string              `json:"amount"`
	Currency         string              `json:"currency"`
	Status           enums.PaymentStatus `json:"status"`
	Method           *string             `json:"method,omitempty"`
	Description      *string             `json:"description,omitempty"`
	Gateway          enums.Gateway       `json:"gateway"`
	GatewayReference *string             `json:"gateway_reference,omitempty"`
	FailureReason    *string             `json:"failure_reason,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	FailedAt         *time.Time          `json:"failed_at,omitempty"`
	RefundedAt       *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

func FromModel(p *models.Payment) *PaymentDTO {
	if p == nil {
		return nil
	}
	dto := &PaymentDTO{
		ID:               p.ID,
		UserID:           p.UserID,
		CourseID:         p.CourseID,
		Amount:           p.Amount.StringFixed(2),
		Currency:         p.Currency,
		Status:           p.Status,
		Method:           p.Method,
		Description:      p.Description,
		Gateway:          p.Gateway,
		GatewayReference: p.GatewayReference,
		FailureReason:    p.FailureReason,
		CompletedAt:      p.CompletedAt,
		FailedAt:         p.FailedAt,
		RefundedAt:       p.RefundedAt,
		CreatedAt:        p.CreatedAt,
	}
	if p.Course != nil {
		dto.CourseName = p.Course.Name
	}
	return dto
}

// StatusResponse answers the payment status query. Enrollment is present
// only once the payment completed and the enrollment exists.
type StatusResponse struct {
	Status     enums.PaymentStatus        `json:"status"`
	Payment    *PaymentDTO                `json:"payment"`
	Enrollment *enrollments.EnrollmentDTO `json:"enrollment,omitempty"`
	Message    string                     `json:"-"`
}

// CheckoutInput starts a purchase of one course.
type CheckoutInput struct {
	UserID      uuid.UUID
	CourseID    uuid.UUID
	Method      *enums.PaymentMethod
	Description string
}

type CheckoutResult struct {
	Payment     *PaymentDTO `json:"payment"`
	RedirectURL string      `json:"redirect_url"`
}

// Update is a status observation from a gateway, webhook, job or admin. The
// payment is resolved by PaymentID, then Reference, then GatewayPaymentID.
type Update struct {
	PaymentID        *uuid.UUID
	Reference        string
	GatewayPaymentID string
	Status           enums.PaymentStatus
	Reason           string
	Details          map[string]any
	Source           string
}

// UpdateResult reports what ApplyGatewayStatus did.
type UpdateResult struct {
	Payment    *models.Payment
	Previous   enums.PaymentStatus
	Changed    bool
	Enrollment *models.Enrollment
}

// ReceiptData is everything the PDF receipt renders.
type ReceiptData struct {
	Payment    *models.Payment
	Course     *models.Course
	User       *models.User
	Enrollment *enrollments.EnrollmentDTO
	IssuedAt   time.Time
}
