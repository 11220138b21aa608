package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/coursepay-backend/api/responses"
	"github.com/angelmondragon/coursepay-backend/api/validators"
	"github.com/angelmondragon/coursepay-backend/internal/enrollments"
	"github.com/angelmondragon/coursepay-backend/internal/payments"
	"github.com/angelmondragon/coursepay-backend/internal/reports"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const reportDateLayout = "2006-01-02"

// AdminActivatePayment runs enrollment activation for a completed payment.
// Repeated calls return the existing enrollment.
func AdminActivatePayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(chi.URLParam(r, "paymentId"), "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		enrollment, err := svc.Activate(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, enrollment)
	}
}

// AdminEnrollmentReport exports enrollments as an XLSX workbook.
func AdminEnrollmentReport(svc enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "enrollments service unavailable"))
			return
		}
		filter, err := parseReportFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.Report(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body, err := reports.EnrollmentsXLSX(rows)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filename := fmt.Sprintf("enrollments-%s.xlsx", time.Now().UTC().Format(reportDateLayout))
		responses.WriteBinary(w, reports.ContentType, filename, body)
	}
}

func parseReportFilter(r *http.Request) (enrollments.ReportFilter, error) {
	query := r.URL.Query()
	var filter enrollments.ReportFilter

	if raw := strings.TrimSpace(query.Get("school_id")); raw != "" {
		id, err := validators.ParseUUIDParam(raw, "school_id")
		if err != nil {
			return filter, err
		}
		filter.SchoolID = &id
	}
	if raw := strings.TrimSpace(query.Get("course_id")); raw != "" {
		id, err := validators.ParseUUIDParam(raw, "course_id")
		if err != nil {
			return filter, err
		}
		filter.CourseID = &id
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParseEnrollmentStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]any{"field": "status"})
		}
		filter.Status = &status
	}

	from, err := parseReportDate(query.Get("from"), "from")
	if err != nil {
		return filter, err
	}
	to, err := parseReportDate(query.Get("to"), "to")
	if err != nil {
		return filter, err
	}
	if to != nil {
		// inclusive of the whole day
		end := to.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	if from != nil && to != nil && to.Before(*from) {
		return filter, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from")
	}
	filter.From = from
	filter.To = to
	return filter, nil
}

func parseReportDate(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.ParseInLocation(reportDateLayout, raw, time.UTC)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date must be YYYY-MM-DD").WithDetails(map[string]any{"field": field})
	}
	return &parsed, nil
}

