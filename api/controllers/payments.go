package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/coursepay-backend/api/responses"
	"github.com/angelmondragon/coursepay-backend/api/validators"
	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/internal/receipts"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

// PaymentStatus answers the status query the return page polls after the
// gateway redirect. The path value is a payment id or a gateway reference.
func PaymentStatus(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		caller, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		identifier := strings.TrimSpace(chi.URLParam(r, "paymentId"))
		if identifier == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required"))
			return
		}

		status, err := svc.Status(r.Context(), caller, identifier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessMessage(w, status, status.Message)
	}
}

type checkoutRequest struct {
	CourseID    uuid.UUID `json:"course_id" validate:"required"`
	Method      *string   `json:"method,omitempty" validate:"omitempty,payment_method"`
	Description string    `json:"description,omitempty" validate:"max=255"`
}

// PaymentCheckout opens a gateway charge for one course.
func PaymentCheckout(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		caller, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.CourseID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "course_id is required"))
			return
		}

		input := payments.CheckoutInput{
			UserID:      caller.UserID,
			CourseID:    payload.CourseID,
			Description: validators.SanitizeString(payload.Description, 255),
		}
		if payload.Method != nil {
			method, err := enums.ParsePaymentMethod(*payload.Method)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid method"))
				return
			}
			input.Method = &method
		}

		result, err := svc.Checkout(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func PaymentDetail(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		caller, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(chi.URLParam(r, "paymentId"), "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), caller, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

type receiptRenderer interface {
	Render(data *payments.ReceiptData) ([]byte, error)
}

// PaymentReceipt streams a PDF receipt for a completed or refunded payment.
func PaymentReceipt(svc payments.Service, renderer receiptRenderer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || renderer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "receipt service unavailable"))
			return
		}
		caller, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(chi.URLParam(r, "paymentId"), "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		data, err := svc.Receipt(r.Context(), caller, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body, err := renderer.Render(data)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteBinary(w, receipts.ContentType, receipts.Filename(data), body)
	}
}
