// Package dbtest opens isolated in-memory SQLite databases carrying the same
// tables as the Postgres migrations, for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE schools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact_email TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE courses (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		price TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'COP',
		plan_type TEXT NOT NULL DEFAULT 'monthly',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		method TEXT,
		description TEXT,
		gateway TEXT NOT NULL,
		gateway_reference TEXT UNIQUE,
		gateway_payment_id TEXT,
		details BLOB,
		failure_reason TEXT,
		completed_at DATETIME,
		failed_at DATETIME,
		refunded_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE enrollments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		payment_id TEXT UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		plan_type TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		price_snapshot TEXT NOT NULL,
		currency TEXT NOT NULL,
		cancelled_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		CONSTRAINT ux_outbox_events_event_aggregate UNIQUE (event_type, aggregate_type, aggregate_id)
	)`,
}

// Open returns a fresh database with every table created.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// The shared-cache database lives as long as one connection does.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Fixture is a user enrolled nowhere yet and a course they can buy.
type Fixture struct {
	User   models.User
	School models.School
	Course models.Course
}

// Seed inserts a student, a school and a course with the given price.
func Seed(t *testing.T, conn *gorm.DB, courseName string, price decimal.Decimal, plan enums.PlanType) Fixture {
	t.Helper()
	f := Fixture{
		User: models.User{
			Email:    fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
			FullName: "Ana Estudiante",
			Role:     enums.UserRoleStudent,
		},
		School: models.School{Name: "Escuela Central"},
	}
	if err := conn.Create(&f.User).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := conn.Create(&f.School).Error; err != nil {
		t.Fatalf("seed school: %v", err)
	}
	f.Course = models.Course{
		SchoolID: f.School.ID,
		Name:     courseName,
		Price:    price,
		Currency: "COP",
		PlanType: plan,
		Active:   true,
	}
	if err := conn.Create(&f.Course).Error; err != nil {
		t.Fatalf("seed course: %v", err)
	}
	return f
}
