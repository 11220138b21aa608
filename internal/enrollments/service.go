package enrollments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/internal/catalog"
	"github.com/angelmondragon/coursepay-backend/pkg/db"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/outbox"
	"github.com/angelmondragon/coursepay-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type activationRecorder interface {
	ObserveActivation(result string)
}

// Service turns completed payments into enrollments and serves enrollment reads.
type Service interface {
	// Activate must run inside the caller's transaction so the payment
	// transition and the enrollment write commit together.
	Activate(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*ActivationResult, error)
	ActivateByPaymentID(ctx context.Context, paymentID uuid.UUID) (*ActivationResult, error)
	CancelForPayment(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reason string) (*models.Enrollment, error)
	FindForPayment(ctx context.Context, paymentID uuid.UUID) (*EnrollmentDTO, error)
	Get(ctx context.Context, caller Caller, id uuid.UUID) (*EnrollmentDTO, error)
	List(ctx context.Context, caller Caller, params pagination.Params) (pagination.Page[EnrollmentDTO], error)
	Cancel(ctx context.Context, caller Caller, id uuid.UUID) (*EnrollmentDTO, error)
	Report(ctx context.Context, filter ReportFilter) ([]ReportRow, error)
}

// ServiceParams bundles the activator dependencies.
type ServiceParams struct {
	Repository Repository
	Catalog    catalog.Reader
	TxRunner   txRunner
	Outbox     outbox.Emitter
	Metrics    activationRecorder
	Logger     *logger.Logger
	Clock      func() time.Time
}

type service struct {
	repo    Repository
	catalog catalog.Reader
	tx      txRunner
	outbox  outbox.Emitter
	metrics activationRecorder
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("enrollments repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:    params.Repository,
		catalog: params.Catalog,
		tx:      params.TxRunner,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     clock,
	}, nil
}

func (s *service) Activate(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*ActivationResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activation requires a transaction")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	if payment.Status != enums.PaymentStatusCompleted {
		s.observe(OutcomeSkipped)
		return &ActivationResult{Outcome: OutcomeSkipped}, nil
	}

	repo := s.repo.WithTx(tx)

	existing, err := repo.FindByPaymentID(ctx, payment.ID)
	switch {
	case err == nil && existing.Status != enums.EnrollmentStatusPending:
		s.observe(OutcomeExisting)
		return &ActivationResult{Enrollment: existing, Outcome: OutcomeExisting}, nil
	case err != nil && !db.IsNotFound(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment for payment")
	}

	course, err := s.catalog.WithTx(tx).FindCourse(ctx, payment.CourseID)
	if err != nil {
		return nil, err
	}

	start := s.activationDay()
	plan := course.PlanType
	if !plan.IsValid() {
		plan = enums.PlanTypeMonthly
	}
	promotion := Promotion{
		PaymentID:     payment.ID,
		PlanType:      plan,
		StartDate:     start,
		EndDate:       plan.EndDate(start),
		PriceSnapshot: course.Price,
		Currency:      course.Currency,
	}

	if existing == nil {
		existing, err = repo.FindPendingForUserCourse(ctx, payment.UserID, payment.CourseID)
		if err != nil && !db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending enrollment")
		}
	}

	outcome := OutcomeExisting
	if existing != nil {
		// A conflicting payment_id leaves Postgres refusing every later
		// statement in tx, so the update runs under its own savepoint.
		var promoted bool
		err := tx.Transaction(func(sp *gorm.DB) error {
			var err error
			promoted, err = s.repo.WithTx(sp).PromotePending(ctx, existing.ID, promotion)
			return err
		})
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return s.loadExisting(ctx, repo, payment.ID)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote pending enrollment")
		}
		if promoted {
			outcome = OutcomePromoted
		}
	}

	if outcome != OutcomePromoted {
		row := &models.Enrollment{
			UserID:        payment.UserID,
			CourseID:      payment.CourseID,
			PaymentID:     &promotion.PaymentID,
			Status:        enums.EnrollmentStatusActive,
			PlanType:      promotion.PlanType,
			StartDate:     promotion.StartDate,
			EndDate:       promotion.EndDate,
			PriceSnapshot: promotion.PriceSnapshot,
			Currency:      promotion.Currency,
		}
		var inserted bool
		err := tx.Transaction(func(sp *gorm.DB) error {
			var err error
			inserted, err = s.repo.WithTx(sp).InsertIfAbsent(ctx, row)
			return err
		})
		if err != nil && !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert enrollment")
		}
		if inserted {
			outcome = OutcomeCreated
		}
	}

	enrollment, err := repo.FindByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload enrollment")
	}

	if outcome != OutcomeExisting {
		if err := s.emitActivated(ctx, tx, payment, course, enrollment); err != nil {
			return nil, err
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"enrollment_id": enrollment.ID.String(),
			"outcome":       outcome,
		}), "enrollment activated")
	}

	s.observe(outcome)
	return &ActivationResult{Enrollment: enrollment, Outcome: outcome}, nil
}

func (s *service) ActivateByPaymentID(ctx context.Context, paymentID uuid.UUID) (*ActivationResult, error) {
	var result *ActivationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.repo.WithTx(tx).FindPayment(ctx, paymentID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		result, err = s.Activate(ctx, tx, payment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) CancelForPayment(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reason string) (*models.Enrollment, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cancellation requires a transaction")
	}
	repo := s.repo.WithTx(tx)
	enrollment, err := repo.FindByPaymentID(ctx, paymentID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment for payment")
	}
	return s.cancel(ctx, tx, repo, enrollment, reason)
}

func (s *service) FindForPayment(ctx context.Context, paymentID uuid.UUID) (*EnrollmentDTO, error) {
	enrollment, err := s.repo.FindByPaymentID(ctx, paymentID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment for payment")
	}
	return FromModel(enrollment), nil
}

func (s *service) Get(ctx context.Context, caller Caller, id uuid.UUID) (*EnrollmentDTO, error) {
	enrollment, err := s.load(ctx, s.repo, caller, id)
	if err != nil {
		return nil, err
	}
	return FromModel(enrollment), nil
}

func (s *service) List(ctx context.Context, caller Caller, params pagination.Params) (pagination.Page[EnrollmentDTO], error) {
	q, err := params.Query()
	if err != nil {
		return pagination.Page[EnrollmentDTO]{}, err
	}
	rows, err := s.repo.ListForUser(ctx, caller.UserID, q)
	if err != nil {
		return pagination.Page[EnrollmentDTO]{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list enrollments")
	}
	dtos := make([]EnrollmentDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, *FromModel(&rows[i]))
	}
	return pagination.Trim(dtos, q, func(e EnrollmentDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}

func (s *service) Cancel(ctx context.Context, caller Caller, id uuid.UUID) (*EnrollmentDTO, error) {
	var out *models.Enrollment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		enrollment, err := s.load(ctx, repo, caller, id)
		if err != nil {
			return err
		}
		switch enrollment.Status {
		case enums.EnrollmentStatusCancelled:
			out = enrollment
			return nil
		case enums.EnrollmentStatusCompleted:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "completed enrollments cannot be cancelled")
		}
		out, err = s.cancel(ctx, tx, repo, enrollment, "cancelled_by_user")
		return err
	})
	if err != nil {
		return nil, err
	}
	return FromModel(out), nil
}

func (s *service) Report(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	rows, err := s.repo.ListForReport(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment report")
	}
	return rows, nil
}

func (s *service) load(ctx context.Context, repo Repository, caller Caller, id uuid.UUID) (*models.Enrollment, error) {
	enrollment, err := repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "enrollment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
	}
	if !caller.IsAdmin() && enrollment.UserID != caller.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "enrollment not found")
	}
	return enrollment, nil
}

func (s *service) loadExisting(ctx context.Context, repo Repository, paymentID uuid.UUID) (*ActivationResult, error) {
	enrollment, err := repo.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload enrollment")
	}
	s.observe(OutcomeExisting)
	return &ActivationResult{Enrollment: enrollment, Outcome: OutcomeExisting}, nil
}

func (s *service) cancel(ctx context.Context, tx *gorm.DB, repo Repository, enrollment *models.Enrollment, reason string) (*models.Enrollment, error) {
	if enrollment.Status == enums.EnrollmentStatusCancelled {
		return enrollment, nil
	}
	at := s.now().UTC()
	ok, err := repo.Cancel(ctx, enrollment.ID, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel enrollment")
	}
	if !ok {
		return repo.FindByID(ctx, enrollment.ID)
	}
	enrollment.Status = enums.EnrollmentStatusCancelled
	enrollment.CancelledAt = &at

	if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEnrollmentCancelled,
		AggregateType: enums.AggregateEnrollment,
		AggregateID:   enrollment.ID,
		OccurredAt:    at,
		Data: outbox.EnrollmentCancelledEvent{
			EnrollmentID: enrollment.ID,
			PaymentID:    enrollment.PaymentID,
			UserID:       enrollment.UserID,
			CourseID:     enrollment.CourseID,
			Reason:       reason,
			CancelledAt:  at,
		},
	}); err != nil {
		return nil, fmt.Errorf("emit enrollment_cancelled: %w", err)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"enrollment_id": enrollment.ID.String(),
		"reason":        reason,
	}), "enrollment cancelled")
	return enrollment, nil
}

func (s *service) emitActivated(ctx context.Context, tx *gorm.DB, payment *models.Payment, course *models.Course, enrollment *models.Enrollment) error {
	event := outbox.EnrollmentActivatedEvent{
		EnrollmentID:  enrollment.ID,
		PaymentID:     payment.ID,
		UserID:        payment.UserID,
		CourseID:      course.ID,
		CourseName:    course.Name,
		PlanType:      enrollment.PlanType,
		StartDate:     enrollment.StartDate,
		EndDate:       enrollment.EndDate,
		PriceSnapshot: enrollment.PriceSnapshot.StringFixed(2),
		Currency:      enrollment.Currency,
	}
	user, err := s.catalog.WithTx(tx).FindUser(ctx, payment.UserID)
	switch {
	case err == nil:
		event.UserEmail = user.Email
		event.UserName = user.FullName
	case !errors.Is(err, gorm.ErrRecordNotFound) && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return err
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEnrollmentActivated,
		AggregateType: enums.AggregateEnrollment,
		AggregateID:   enrollment.ID,
		Data:          event,
	}); err != nil {
		return fmt.Errorf("emit enrollment_activated: %w", err)
	}
	return nil
}

// activationDay is midnight UTC of the current day.
func (s *service) activationDay() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveActivation(outcome)
	}
}
