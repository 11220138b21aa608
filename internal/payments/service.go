package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay-backend/internal/catalog"
	"github.com/angelmondragon/coursepay-backend/internal/enrollments"
	"github.com/angelmondragon/coursepay-backend/internal/gateway"
	"github.com/angelmondragon/coursepay-backend/pkg/db"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/outbox"
)

// Status messages returned alongside the status query.
const (
	MessageCompleted = "payment confirmed, enrollment is active"
	MessagePending   = "payment is still being processed"
	MessageFailed    = "payment was not approved"
	MessageRefunded  = "payment was refunded"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type activator interface {
	Activate(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*enrollments.ActivationResult, error)
	CancelForPayment(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, reason string) (*models.Enrollment, error)
	FindForPayment(ctx context.Context, paymentID uuid.UUID) (*enrollments.EnrollmentDTO, error)
}

type gatewayResolver interface {
	Default() gateway.Gateway
	Get(name enums.Gateway) (gateway.Gateway, error)
}

type paymentRecorder interface {
	ObserveTransition(from, to string)
	ObserveStatusQuery(status string)
	ObserveGatewayError(gateway, op string)
}

// Service drives the payment lifecycle. Every status change, whatever its
// source, goes through ApplyGatewayStatus.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	Status(ctx context.Context, caller enrollments.Caller, identifier string) (*StatusResponse, error)
	ApplyGatewayStatus(ctx context.Context, update Update) (*UpdateResult, error)
	Refresh(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	Get(ctx context.Context, caller enrollments.Caller, id uuid.UUID) (*PaymentDTO, error)
	Activate(ctx context.Context, id uuid.UUID) (*enrollments.EnrollmentDTO, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
	Receipt(ctx context.Context, caller enrollments.Caller, id uuid.UUID) (*ReceiptData, error)
}

type ServiceParams struct {
	Repository  Repository
	Catalog     catalog.Reader
	Enrollments activator
	Gateways    gatewayResolver
	TxRunner    txRunner
	Outbox      outbox.Emitter
	Metrics     paymentRecorder
	Logger      *logger.Logger
	Clock       func() time.Time

	SuccessURL              string
	CancelURL               string
	RefundCancelsEnrollment bool
}

type service struct {
	repo          Repository
	catalog       catalog.Reader
	enrollments   activator
	gateways      gatewayResolver
	tx            txRunner
	outbox        outbox.Emitter
	metrics       paymentRecorder
	logg          *logger.Logger
	now           func() time.Time
	successURL    string
	cancelURL     string
	refundCancels bool
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if params.Enrollments == nil {
		return nil, fmt.Errorf("enrollment activator required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
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
		repo:          params.Repository,
		catalog:       params.Catalog,
		enrollments:   params.Enrollments,
		gateways:      params.Gateways,
		tx:            params.TxRunner,
		outbox:        params.Outbox,
		metrics:       params.Metrics,
		logg:          params.Logger,
		now:           clock,
		successURL:    params.SuccessURL,
		cancelURL:     params.CancelURL,
		refundCancels: params.RefundCancelsEnrollment,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if input.UserID == uuid.Nil || input.CourseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user and course are required")
	}
	course, err := s.catalog.FindCourse(ctx, input.CourseID)
	if err != nil {
		return nil, err
	}
	if !course.Active {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "course is not open for enrollment")
	}
	if !course.Price.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "course has no price")
	}
	user, err := s.catalog.FindUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	gw := s.gateways.Default()
	payment := &models.Payment{
		UserID:   input.UserID,
		CourseID: course.ID,
		Amount:   course.Price,
		Currency: course.Currency,
		Status:   enums.PaymentStatusPending,
		Gateway:  gw.Name(),
	}
	if input.Method != nil {
		method := string(*input.Method)
		payment.Method = &method
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		payment.Description = &desc
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	charge, err := gw.CreateCharge(ctx, gateway.ChargeRequest{
		PaymentID:   payment.ID,
		UserID:      user.ID,
		UserEmail:   user.Email,
		CourseID:    course.ID,
		CourseName:  course.Name,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Description: input.Description,
		SuccessURL:  s.successURL,
		CancelURL:   s.cancelURL,
	})
	if err != nil {
		s.observeGatewayError(gw.Name(), "create_charge")
		s.logg.Error(ctx, "gateway charge creation failed", err)
		if _, failErr := s.ApplyGatewayStatus(ctx, Update{
			PaymentID: &payment.ID,
			Status:    enums.PaymentStatusFailed,
			Reason:    "charge_creation_failed",
			Source:    "checkout",
		}); failErr != nil {
			s.logg.Error(ctx, "mark payment failed after charge error", failErr)
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create gateway charge")
	}

	details, err := json.Marshal(charge.Details)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway details")
	}
	if err := s.repo.AttachGatewayReference(ctx, payment.ID, charge.Reference, charge.GatewayPaymentID, details); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store gateway reference")
	}
	reference := charge.Reference
	payment.GatewayReference = &reference
	payment.Course = course

	if charge.Status != enums.PaymentStatusPending {
		result, err := s.ApplyGatewayStatus(ctx, Update{
			PaymentID:        &payment.ID,
			Status:           charge.Status,
			GatewayPaymentID: charge.GatewayPaymentID,
			Details:          charge.Details,
			Source:           "checkout",
		})
		if err != nil {
			return nil, err
		}
		payment = result.Payment
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"gateway":   gw.Name(),
		"reference": charge.Reference,
		"amount":    payment.Amount.StringFixed(2),
	}), "checkout started")

	return &CheckoutResult{
		Payment:     FromModel(payment),
		RedirectURL: charge.RedirectURL,
	}, nil
}

func (s *service) Status(ctx context.Context, caller enrollments.Caller, identifier string) (*StatusResponse, error) {
	payment, err := s.resolve(ctx, s.repo, identifier)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && payment.UserID != caller.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	if payment.Status == enums.PaymentStatusPending {
		refreshed, err := s.Refresh(ctx, payment)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "status refresh failed, payment left pending")
		} else {
			payment = refreshed
		}
	}

	resp := &StatusResponse{Status: payment.Status, Payment: FromModel(payment)}
	switch payment.Status {
	case enums.PaymentStatusCompleted:
		enrollment, err := s.ensureEnrollment(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		resp.Enrollment = enrollment
		resp.Message = MessageCompleted
	case enums.PaymentStatusPending:
		resp.Message = MessagePending
	case enums.PaymentStatusFailed:
		resp.Message = MessageFailed
		if payment.FailureReason != nil && *payment.FailureReason != "" {
			resp.Message = fmt.Sprintf("%s: %s", MessageFailed, *payment.FailureReason)
		}
	case enums.PaymentStatusRefunded:
		resp.Message = MessageRefunded
	}

	if s.metrics != nil {
		s.metrics.ObserveStatusQuery(string(payment.Status))
	}
	return resp, nil
}

// ensureEnrollment activates inside its own transaction so a completed
// payment always answers with its enrollment, even if it was completed by a
// path that did not activate.
func (s *service) ensureEnrollment(ctx context.Context, paymentID uuid.UUID) (*enrollments.EnrollmentDTO, error) {
	var enrollment *models.Enrollment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.repo.WithTx(tx).FindByID(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		result, err := s.enrollments.Activate(ctx, tx, payment)
		if err != nil {
			return err
		}
		enrollment = result.Enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return enrollments.FromModel(enrollment), nil
}

func (s *service) Refresh(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	if payment.Status != enums.PaymentStatusPending || payment.GatewayReference == nil || *payment.GatewayReference == "" {
		return payment, nil
	}
	gw, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		return nil, err
	}
	report, err := gw.GetStatus(ctx, *payment.GatewayReference)
	if err != nil {
		s.observeGatewayError(payment.Gateway, "get_status")
		return nil, err
	}
	if report.Status == enums.PaymentStatusPending {
		return payment, nil
	}
	result, err := s.ApplyGatewayStatus(ctx, Update{
		PaymentID:        &payment.ID,
		Status:           report.Status,
		GatewayPaymentID: report.GatewayPaymentID,
		Reason:           report.Reason,
		Details:          report.Details,
		Source:           "gateway_poll",
	})
	if err != nil {
		return nil, err
	}
	return result.Payment, nil
}

func (s *service) ApplyGatewayStatus(ctx context.Context, update Update) (*UpdateResult, error) {
	if !update.Status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown payment status %q", update.Status)
	}
	var result *UpdateResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.applyTx(ctx, tx, update)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Changed {
		if s.metrics != nil {
			s.metrics.ObserveTransition(string(result.Previous), string(result.Payment.Status))
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"payment_id": result.Payment.ID.String(),
			"from":       result.Previous,
			"to":         result.Payment.Status,
			"source":     update.Source,
		}), "payment status changed")
	}
	return result, nil
}

func (s *service) applyTx(ctx context.Context, tx *gorm.DB, update Update) (*UpdateResult, error) {
	repo := s.repo.WithTx(tx)
	payment, err := s.locate(ctx, repo, update)
	if err != nil {
		return nil, err
	}
	result := &UpdateResult{Payment: payment, Previous: payment.Status}

	if payment.Status == update.Status {
		if payment.Status == enums.PaymentStatusCompleted {
			activation, err := s.enrollments.Activate(ctx, tx, payment)
			if err != nil {
				return nil, err
			}
			result.Enrollment = activation.Enrollment
		}
		return result, nil
	}
	if payment.Status == enums.PaymentStatusPending && update.Status == enums.PaymentStatusRefunded {
		return s.settleThenRefund(ctx, tx, payment, update)
	}
	if !CanTransition(payment.Status, update.Status) {
		return nil, transitionError(payment.Status, update.Status)
	}

	at := s.now().UTC()
	fields := map[string]any{}
	switch update.Status {
	case enums.PaymentStatusCompleted:
		fields["completed_at"] = at
		payment.CompletedAt = &at
	case enums.PaymentStatusFailed:
		fields["failed_at"] = at
		payment.FailedAt = &at
		reason := update.Reason
		if reason == "" {
			reason = "declined"
		}
		fields["failure_reason"] = reason
		payment.FailureReason = &reason
	case enums.PaymentStatusRefunded:
		fields["refunded_at"] = at
		payment.RefundedAt = &at
	}
	if update.GatewayPaymentID != "" {
		fields["gateway_payment_id"] = update.GatewayPaymentID
		gatewayPaymentID := update.GatewayPaymentID
		payment.GatewayPaymentID = &gatewayPaymentID
	}
	if len(update.Details) > 0 {
		details, err := json.Marshal(update.Details)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway details")
		}
		fields["details"] = json.RawMessage(details)
	}

	ok, err := repo.Transition(ctx, payment.ID, payment.Status, update.Status, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}
	if !ok {
		// Another writer moved the payment first.
		current, err := repo.FindByID(ctx, payment.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}
		if current.Status == update.Status {
			return &UpdateResult{Payment: current, Previous: current.Status}, nil
		}
		return nil, transitionError(current.Status, update.Status)
	}
	payment.Status = update.Status
	result.Changed = true

	if err := s.emitStatusEvent(ctx, tx, payment, result.Previous, update.Reason); err != nil {
		return nil, err
	}

	switch update.Status {
	case enums.PaymentStatusCompleted:
		activation, err := s.enrollments.Activate(ctx, tx, payment)
		if err != nil {
			return nil, err
		}
		result.Enrollment = activation.Enrollment
	case enums.PaymentStatusRefunded:
		if s.refundCancels {
			cancelled, err := s.enrollments.CancelForPayment(ctx, tx, payment.ID, "payment_refunded")
			if err != nil {
				return nil, err
			}
			result.Enrollment = cancelled
		}
	}
	return result, nil
}

// settleThenRefund handles a refund reported for a payment whose completion
// was never seen here. The payment is completed first and then refunded in
// the same transaction, so the enrollment is activated and cancelled the
// same way as for any other refund.
func (s *service) settleThenRefund(ctx context.Context, tx *gorm.DB, payment *models.Payment, update Update) (*UpdateResult, error) {
	byID := Update{
		PaymentID:        &payment.ID,
		GatewayPaymentID: update.GatewayPaymentID,
		Details:          update.Details,
		Source:           update.Source,
	}
	completion := byID
	completion.Status = enums.PaymentStatusCompleted
	if _, err := s.applyTx(ctx, tx, completion); err != nil {
		return nil, err
	}
	refund := byID
	refund.Status = enums.PaymentStatusRefunded
	refund.Reason = update.Reason
	result, err := s.applyTx(ctx, tx, refund)
	if err != nil {
		return nil, err
	}
	result.Previous = enums.PaymentStatusPending
	return result, nil
}

func (s *service) emitStatusEvent(ctx context.Context, tx *gorm.DB, payment *models.Payment, previous enums.PaymentStatus, reason string) error {
	eventType, ok := eventForStatus(payment.Status)
	if !ok {
		return nil
	}
	event := outbox.PaymentStatusChangedEvent{
		PaymentID:      payment.ID,
		UserID:         payment.UserID,
		CourseID:       payment.CourseID,
		Amount:         payment.Amount.StringFixed(2),
		Currency:       payment.Currency,
		Gateway:        payment.Gateway,
		PreviousStatus: previous,
		Status:         payment.Status,
		Reason:         reason,
	}
	if payment.GatewayReference != nil {
		event.GatewayReference = *payment.GatewayReference
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data:          event,
	}); err != nil {
		return fmt.Errorf("emit %s: %w", eventType, err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, caller enrollments.Caller, id uuid.UUID) (*PaymentDTO, error) {
	payment, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return FromModel(payment), nil
}

// Activate is the manual path used by administrators for payments confirmed
// out of band.
func (s *service) Activate(ctx context.Context, id uuid.UUID) (*enrollments.EnrollmentDTO, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	result, err := s.ApplyGatewayStatus(ctx, Update{
		PaymentID: &payment.ID,
		Status:    enums.PaymentStatusCompleted,
		Source:    "admin",
	})
	if err != nil {
		return nil, err
	}
	return enrollments.FromModel(result.Enrollment), nil
}

func (s *service) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	rows, err := s.repo.ListStalePending(ctx, createdBefore, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payments")
	}
	return rows, nil
}

func (s *service) Receipt(ctx context.Context, caller enrollments.Caller, id uuid.UUID) (*ReceiptData, error) {
	payment, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusCompleted && payment.Status != enums.PaymentStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "receipts are issued for completed payments only")
	}
	user, err := s.catalog.FindUser(ctx, payment.UserID)
	if err != nil {
		return nil, err
	}
	course := payment.Course
	if course == nil {
		if course, err = s.catalog.FindCourse(ctx, payment.CourseID); err != nil {
			return nil, err
		}
	}
	enrollment, err := s.enrollments.FindForPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	return &ReceiptData{
		Payment:    payment,
		Course:     course,
		User:       user,
		Enrollment: enrollment,
		IssuedAt:   s.now().UTC(),
	}, nil
}

func (s *service) load(ctx context.Context, caller enrollments.Caller, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if !caller.IsAdmin() && payment.UserID != caller.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

// resolve accepts either the payment id or the gateway reference the redirect
// carried back.
func (s *service) resolve(ctx context.Context, repo Repository, identifier string) (*models.Payment, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	var (
		payment *models.Payment
		err     error
	)
	if id, parseErr := uuid.Parse(identifier); parseErr == nil {
		payment, err = repo.FindByID(ctx, id)
	} else {
		payment, err = repo.FindByGatewayReference(ctx, identifier)
	}
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) locate(ctx context.Context, repo Repository, update Update) (*models.Payment, error) {
	var (
		payment *models.Payment
		err     error
	)
	switch {
	case update.PaymentID != nil:
		payment, err = repo.FindByID(ctx, *update.PaymentID)
	case update.Reference != "":
		payment, err = repo.FindByGatewayReference(ctx, update.Reference)
	case update.GatewayPaymentID != "":
		payment, err = repo.FindByGatewayPaymentID(ctx, update.GatewayPaymentID)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment identifier is required")
	}
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) observeGatewayError(name enums.Gateway, op string) {
	if s.metrics != nil {
		s.metrics.ObserveGatewayError(string(name), op)
	}
}

func transitionError(from, to enums.PaymentStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment cannot move from %s to %s", from, to).
		WithDetails(map[string]any{"from": from, "to": to})
}
