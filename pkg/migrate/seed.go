package migrate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

// Fixed ids so repeated seeds and local tooling agree on the demo rows.
var (
	demoSchoolID  = uuid.MustParse("6f1d2a9e-3c41-4d0b-9a57-0c4e1b7d2a10")
	demoCourseID  = uuid.MustParse("9b3e5c7a-1f24-4e8d-8c61-5d2a0f9e3b21")
	demoStudentID = uuid.MustParse("2c8f4e1b-7a35-4d92-b0e6-3f1a9c5d7e32")
	demoAdminID   = uuid.MustParse("d4a7b2e9-5c18-4f63-a2d0-8e6b1c3f9a43")
)

type SeedResult struct {
	SchoolID  uuid.UUID
	CourseID  uuid.UUID
	StudentID uuid.UUID
	AdminID   uuid.UUID
}

// SeedDemo inserts one school, one course and two users for sandbox runs.
// Existing rows are left untouched.
func SeedDemo(ctx context.Context, conn *gorm.DB) (*SeedResult, error) {
	if conn == nil {
		return nil, fmt.Errorf("db is required")
	}
	contact := "admisiones@demo.school"
	rows := []any{
		&models.School{ID: demoSchoolID, Name: "Demo School", ContactEmail: &contact},
		&models.Course{
			ID:       demoCourseID,
			SchoolID: demoSchoolID,
			Name:     "Curso X",
			Price:    decimal.NewFromInt(150000),
			Currency: "COP",
			PlanType: enums.PlanTypeMonthly,
			Active:   true,
		},
		&models.User{ID: demoStudentID, Email: "student@demo.school", FullName: "Demo Student", Role: enums.UserRoleStudent},
		&models.User{ID: demoAdminID, Email: "admin@demo.school", FullName: "Demo Admin", Role: enums.UserRoleAdmin},
	}

	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
				return fmt.Errorf("seed %T: %w", row, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &SeedResult{
		SchoolID:  demoSchoolID,
		CourseID:  demoCourseID,
		StudentID: demoStudentID,
		AdminID:   demoAdminID,
	}, nil
}
