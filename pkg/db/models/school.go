package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// School owns courses.
type School struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	ContactEmail *string   `gorm:"column:contact_email"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *School) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
