package enrollments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// EnrollmentDTO is the wire shape returned by the enrollment and payment
// status endpoints.
type EnrollmentDTO struct {
	ID            uuid.UUID              `json:"id"`
	UserID        uuid.UUID              `json:"user_id"`
	CourseID      uuid.UUID              `json:"course_id"`
	CourseName    string                 `json:"course_name"`
	PaymentID     *uuid.UUID             `json:"payment_id,omitempty"`
	Status        enums.EnrollmentStatus `json:"status"`
	Progress      int                    `json:"progress"`
	PlanType      enums.PlanType         `json:"plan_type"`
	StartDate     time.Time              `json:"start_date"`
	EndDate       time.Time              `json:"end_date"`
	PriceSnapshot string                 `json:"price_snapshot"`
	Currency      string                 `json:"currency"`
	CancelledAt   *time.Time             `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// FromModel maps a row to its DTO. The course name is empty unless the Course
// association was loaded.
func FromModel(e *models.Enrollment) *EnrollmentDTO {
	if e == nil {
		return nil
	}
	dto := &EnrollmentDTO{
		ID:            e.ID,
		UserID:        e.UserID,
		CourseID:      e.CourseID,
		PaymentID:     e.PaymentID,
		Status:        e.Status,
		Progress:      e.Progress,
		PlanType:      e.PlanType,
		StartDate:     e.StartDate,
		EndDate:       e.EndDate,
		PriceSnapshot: e.PriceSnapshot.StringFixed(2),
		Currency:      e.Currency,
		CancelledAt:   e.CancelledAt,
		CreatedAt:     e.CreatedAt,
	}
	if e.Course != nil {
		dto.CourseName = e.Course.Name
	}
	return dto
}

// Caller identifies who is asking. Admins may read any enrollment.
type Caller struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func (c Caller) IsAdmin() bool {
	return c.Role == enums.UserRoleAdmin
}

// Activation outcomes, also used as metric labels.
const (
	OutcomeCreated  = "created"
	OutcomePromoted = "promoted"
	OutcomeExisting = "existing"
	OutcomeSkipped  = "skipped"
)

// ActivationResult reports what Activate did.
type ActivationResult struct {
	Enrollment *models.Enrollment
	Outcome    string
}

// Changed reports whether this call wrote the enrollment.
func (r *ActivationResult) Changed() bool {
	return r != nil && (r.Outcome == OutcomeCreated || r.Outcome == OutcomePromoted)
}

// ReportFilter narrows the admin export.
type ReportFilter struct {
	SchoolID *uuid.UUID
	CourseID *uuid.UUID
	Status   *enums.EnrollmentStatus
	From     *time.Time
	To       *time.Time
}

// ReportRow is one line of the admin enrollment export.
type ReportRow struct {
	EnrollmentID  uuid.UUID
	StudentName   string
	StudentEmail  string
	CourseName    string
	Status        enums.EnrollmentStatus
	PlanType      enums.PlanType
	StartDate     time.Time
	EndDate       time.Time
	PriceSnapshot string
	Currency      string
	PaymentID     *uuid.UUID
	CreatedAt     time.Time
}
