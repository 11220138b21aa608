// Package catalog reads the reference entities (courses and users) that the
// payment workflow depends on. Writes to them belong to other services.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/pkg/db"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
)

// Reader is the read surface used by payments and enrollments.
type Reader interface {
	WithTx(tx *gorm.DB) Reader
	FindCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a catalog reader bound to the provided GORM DB.
func NewRepository(conn *gorm.DB) Reader {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Reader {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindCourse maps a missing row to NOT_FOUND and any other failure to
// DEPENDENCY_ERROR.
func (r *repository) FindCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var course models.Course
	if err := r.db.WithContext(ctx).First(&course, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course")
	}
	return &course, nil
}

func (r *repository) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return &user, nil
}
