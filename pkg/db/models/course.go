package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// Course is a purchasable offering of a school. Price is the current list
// price; enrollments snapshot it at activation time.
type Course struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SchoolID    uuid.UUID       `gorm:"column:school_id;type:uuid;not null"`
	Name        string          `gorm:"column:name;not null"`
	Description *string         `gorm:"column:description"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null"`
	Currency    string          `gorm:"column:currency;not null;default:'COP'"`
	PlanType    enums.PlanType  `gorm:"column:plan_type;not null;default:'monthly'"`
	Active      bool            `gorm:"column:active;not null;default:true"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Course) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
