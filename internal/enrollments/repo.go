package enrollments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	"github.com/angelmondragon/coursepay-backend/pkg/pagination"
)

// Repository persists enrollments. Lookups return gorm.ErrRecordNotFound when
// nothing matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	FindByPaymentID(ctx context.Context, paymentID uuid.UUID) (*models.Enrollment, error)
	FindPendingForUserCourse(ctx context.Context, userID, courseID uuid.UUID) (*models.Enrollment, error)
	InsertIfAbsent(ctx context.Context, enrollment *models.Enrollment) (bool, error)
	PromotePending(ctx context.Context, id uuid.UUID, update Promotion) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, q pagination.Query) ([]models.Enrollment, error)
	ListForReport(ctx context.Context, filter ReportFilter) ([]ReportRow, error)
}

// Promotion carries the columns written when a pending row becomes active.
type Promotion struct {
	PaymentID     uuid.UUID
	PlanType      enums.PlanType
	StartDate     time.Time
	EndDate       time.Time
	PriceSnapshot decimal.Decimal
	Currency      string
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an enrollments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", paymentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := r.db.WithContext(ctx).Preload("Course").First(&enrollment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *repository) FindByPaymentID(ctx context.Context, paymentID uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Course").
		Where("payment_id = ?", paymentID).
		First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *repository) FindPendingForUserCourse(ctx context.Context, userID, courseID uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, enums.EnrollmentStatusPending).
		Where("payment_id IS NULL").
		Order("created_at ASC").
		First(&enrollment).Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// InsertIfAbsent inserts unless another row already holds the payment id.
// It reports whether this call inserted.
func (r *repository) InsertIfAbsent(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).
		Omit(clause.Associations).
		Create(enrollment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PromotePending flips a pending row to active. The status guard makes a
// concurrent promotion lose cleanly.
func (r *repository) PromotePending(ctx context.Context, id uuid.UUID, update Promotion) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", id, enums.EnrollmentStatusPending).
		Where("payment_id IS NULL OR payment_id = ?", update.PaymentID).
		Updates(map[string]any{
			"status":         enums.EnrollmentStatusActive,
			"payment_id":     update.PaymentID,
			"plan_type":      update.PlanType,
			"start_date":     update.StartDate,
			"end_date":       update.EndDate,
			"price_snapshot": update.PriceSnapshot,
			"currency":       update.Currency,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ? AND status IN ?", id, []enums.EnrollmentStatus{enums.EnrollmentStatusActive, enums.EnrollmentStatusPending}).
		Updates(map[string]any{
			"status":       enums.EnrollmentStatusCancelled,
			"cancelled_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListForUser(ctx context.Context, userID uuid.UUID, q pagination.Query) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Course").
		Where("user_id = ?", userID).
		Scopes(pagination.Newest(q, "")).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListForReport(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	query := r.db.WithContext(ctx).
		Table("enrollments AS e").
		Select(`e.id AS enrollment_id, u.full_name AS student_name, u.email AS student_email,
			c.name AS course_name, e.status, e.plan_type, e.start_date, e.end_date,
			e.price_snapshot, e.currency, e.payment_id, e.created_at`).
		Joins("JOIN users u ON u.id = e.user_id").
		Joins("JOIN courses c ON c.id = e.course_id")

	if filter.SchoolID != nil {
		query = query.Where("c.school_id = ?", *filter.SchoolID)
	}
	if filter.CourseID != nil {
		query = query.Where("e.course_id = ?", *filter.CourseID)
	}
	if filter.Status != nil {
		query = query.Where("e.status = ?", *filter.Status)
	}
	if filter.From != nil {
		query = query.Where("e.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("e.created_at < ?", *filter.To)
	}

	var rows []ReportRow
	err := query.Order("e.created_at ASC").Scan(&rows).Error
	return rows, err
}
