package controllers

import (
	"net/http"

	"github.com/angelmondragon/coursepay-backend/api/middleware"
	"github.com/angelmondragon/coursepay-backend/internal/enrollments"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
)

func callerFromRequest(r *http.Request) (enrollments.Caller, error) {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok || !c.Role.IsValid() {
		return enrollments.Caller{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller context missing")
	}
	return enrollments.Caller{UserID: c.UserID, Role: c.Role}, nil
}
