package controllers

import (
	"context"
	"net/http"

	"github.com/mirae-labs/sajuflow-backend/api/responses"
	"github.com/mirae-labs/sajuflow-backend/internal/cron"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

// BillingProcessor runs one billing pass and reports what it did.
type BillingProcessor interface {
	Process(ctx context.Context) (*cron.RunResult, error)
}

// CronProcessSubscriptions runs the billing pass on demand. The external
// scheduler calls this daily; the secret check happens in middleware.
func CronProcessSubscriptions(job BillingProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if job == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing job unavailable"))
			return
		}

		// Process folds per-subscription and pass-level failures into the
		// summary, so the trigger answers with the structured result even
		// when parts of the cycle failed.
		result, err := job.Process(r.Context())
		if result == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
