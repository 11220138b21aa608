package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// Payment records one attempt by a user to pay for a course. Rows are never
// deleted; status only moves forward.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID           uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	CourseID         uuid.UUID           `gorm:"column:course_id;type:uuid;not null"`
	Amount           decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency         string              `gorm:"column:currency;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	Method           *string             `gorm:"column:method"`
	Description      *string             `gorm:"column:description"`
	Gateway          enums.Gateway       `gorm:"column:gateway;not null"`
	GatewayReference *string             `gorm:"column:gateway_reference;uniqueIndex"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id"`
	Details          json.RawMessage     `gorm:"column:details;type:jsonb"`
	FailureReason    *string             `gorm:"column:failure_reason"`
	CompletedAt      *time.Time          `gorm:"column:completed_at"`
	FailedAt         *time.Time          `gorm:"column:failed_at"`
	RefundedAt       *time.Time          `gorm:"column:refunded_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Course *Course `gorm:"foreignKey:CourseID;references:ID"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
