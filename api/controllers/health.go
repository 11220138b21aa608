package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/coursepay-backend/api/responses"
	"github.com/angelmondragon/coursepay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CoursePay-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when the database and redis answer a ping.
func HealthReady(cfg *config.Config, db, cache pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CoursePay-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}
		var failure *pkgerrors.Error
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				checks["database"] = "down"
				failure = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable")
			}
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				checks["redis"] = "down"
				if failure == nil {
					failure = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable")
				}
			}
		}
		if failure != nil {
			responses.WriteError(r.Context(), logg, w, failure.WithDetails(checks))
			return
		}

		checks["status"] = "ready"
		responses.WriteSuccess(w, checks)
	}
}
