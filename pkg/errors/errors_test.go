package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeStatus(t *testing.T) {
	tests := map[Code]int{
		CodeValidation:    http.StatusBadRequest,
		CodeUnauthorized:  http.StatusUnauthorized,
		CodeForbidden:     http.StatusForbidden,
		CodeNotFound:      http.StatusNotFound,
		CodeConflict:      http.StatusConflict,
		CodeStateConflict: http.StatusUnprocessableEntity,
		CodeIdempotency:   http.StatusConflict,
		CodeRateLimit:     http.StatusTooManyRequests,
		CodeInternal:      http.StatusInternalServerError,
		CodeDependency:    http.StatusServiceUnavailable,
		"SOMETHING_ELSE":  http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, code.Status(), code)
	}
	assert.True(t, CodeDependency.Retryable())
	assert.False(t, CodeStateConflict.Retryable())
}

func TestPublicExposure(t *testing.T) {
	details := map[string]string{"field": "course_id"}
	tests := []struct {
		name        string
		err         *Error
		wantMsg     string
		wantDetails any
	}{
		{"validation shows details", New(CodeValidation, "bad input").WithDetails(details), "bad input", details},
		{"not found shows message only", New(CodeNotFound, "payment not found").WithDetails(details), "payment not found", nil},
		{"dependency hides everything", New(CodeDependency, "redis dial tcp 10.0.0.1").WithDetails(details), "dependency unavailable", nil},
		{"empty message falls back", New(CodeForbidden, ""), "access denied", nil},
		{"state conflict keeps details", New(CodeStateConflict, "already cancelled").WithDetails(details), "already cancelled", details},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, got := tt.err.Public()
			assert.Equal(t, tt.wantMsg, msg)
			assert.Equal(t, tt.wantDetails, got)
		})
	}
}

func TestWrapPreservesCauseAndCode(t *testing.T) {
	cause := stdErrors.New("db down")
	err := fmt.Errorf("outer: %w", Wrap(CodeDependency, cause, "load course"))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDependency, CodeOf(err))
	assert.True(t, IsCode(err, CodeDependency))
	assert.False(t, IsCode(nil, CodeDependency))
	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain")))
	assert.Equal(t, "DEPENDENCY_ERROR: load course: db down", As(err).Error())
	assert.Equal(t, "NOT_FOUND: gone", New(CodeNotFound, "gone").Error())
}

func TestLogFieldsWalksChain(t *testing.T) {
	fields := LogFields(Wrap(CodeInternal, stdErrors.New("root"), "top"))

	assert.Equal(t, "INTERNAL_ERROR", fields["error_code"])
	chain, ok := fields["error_chain"].([]string)
	require.True(t, ok)
	assert.Len(t, chain, 2)
	assert.NotContains(t, fields, "pg_code")
}

func TestLogFieldsReadsPostgresErrors(t *testing.T) {
	pgx := &pgconn.PgError{Code: "23505", ConstraintName: "ux_enrollments_active", TableName: "enrollments"}
	fields := LogFields(Wrap(CodeConflict, pgx, "insert enrollment"))
	assert.Equal(t, "23505", fields["pg_code"])
	assert.Equal(t, "ux_enrollments_active", fields["pg_constraint"])
	assert.NotContains(t, fields, "pg_detail")

	pqErr := &pq.Error{Code: "40001", Table: "payments"}
	fields = LogFields(fmt.Errorf("migrate: %w", pqErr))
	assert.Equal(t, "40001", fields["pg_code"])
	assert.Equal(t, "payments", fields["pg_table"])
	assert.Equal(t, "INTERNAL_ERROR", fields["error_code"])
}
