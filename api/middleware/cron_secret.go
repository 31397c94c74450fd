package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/mirae-labs/sajuflow-backend/api/responses"
	"github.com/mirae-labs/sajuflow-backend/pkg/config"
	pkgerrors "github.com/mirae-labs/sajuflow-backend/pkg/errors"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
)

// CronSecret gates the scheduler trigger endpoints behind a shared secret.
// The caller presents it as a bearer token or the X-Cron-Secret header.
func CronSecret(cfg config.CronConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Secret == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cron secret not configured"))
				return
			}

			presented := bearerToken(r)
			if presented == "" {
				presented = r.Header.Get("X-Cron-Secret")
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.Secret)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid cron secret"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
