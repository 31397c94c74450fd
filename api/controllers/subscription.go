package controllers

import (
	"net/http"

	"github.com/mirae-labs/sajuflow-backend/api/middleware"
	"github.com/mirae-labs/sajuflow-backend/api/responses"
	"github.com/mirae-labs/sajuflow-backend/api/validators"
	subsvc "github.com/mirae-labs/sajuflow-backend/internal/subscriptions"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

type subscriptionActivateRequest struct {
	AuthKey string `json:"auth_key" validate:"required"`
}

func SubscriptionStatus(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		status, err := svc.Status(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, status)
	}
}

// SubscriptionActivate exchanges the payment provider's auth key for a
// billing key and starts the paid plan.
func SubscriptionActivate(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var body subscriptionActivateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.Activate(r.Context(), userID, body.AuthKey)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, status)
	}
}

// SubscriptionCancel schedules a downgrade at the end of the paid cycle.
func SubscriptionCancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		status, err := svc.Cancel(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, status)
	}
}
