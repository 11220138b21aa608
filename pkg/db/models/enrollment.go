package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// Enrollment grants a user access to a course for a plan period. PaymentID is
// unique so a payment activates at most one enrollment.
type Enrollment struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID              `gorm:"column:user_id;type:uuid;not null"`
	CourseID      uuid.UUID              `gorm:"column:course_id;type:uuid;not null"`
	PaymentID     *uuid.UUID             `gorm:"column:payment_id;type:uuid;uniqueIndex"`
	Status        enums.EnrollmentStatus `gorm:"column:status;not null;default:'pending'"`
	Progress      int                    `gorm:"column:progress;not null;default:0"`
	PlanType      enums.PlanType         `gorm:"column:plan_type;not null"`
	StartDate     time.Time              `gorm:"column:start_date;not null"`
	EndDate       time.Time              `gorm:"column:end_date;not null"`
	PriceSnapshot decimal.Decimal        `gorm:"column:price_snapshot;type:numeric(14,2);not null"`
	Currency      string                 `gorm:"column:currency;not null"`
	CancelledAt   *time.Time             `gorm:"column:cancelled_at"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`

	Course *Course `gorm:"foreignKey:CourseID;references:ID"`
}

func (e *Enrollment) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
