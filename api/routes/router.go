package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mirae-labs/sajuflow-backend/api/controllers"
	webhookcontrollers "github.com/mirae-labs/sajuflow-backend/api/controllers/webhooks"
	"github.com/mirae-labs/sajuflow-backend/api/middleware"
	"github.com/mirae-labs/sajuflow-backend/internal/analyses"
	subscriptionsvc "github.com/mirae-labs/sajuflow-backend/internal/subscriptions"
	"github.com/mirae-labs/sajuflow-backend/pkg/config"
	"github.com/mirae-labs/sajuflow-backend/pkg/db"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
	"github.com/mirae-labs/sajuflow-backend/pkg/redis"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config *config.Config
	Logger *logger.Logger

	DBPinger    db.Pinger
	CachePinger redis.Pinger

	AnalysisService     analyses.Service
	SubscriptionService subscriptionsvc.Service

	ClerkWebhookService webhookcontrollers.ClerkWebhookService
	ClerkVerifier       webhookcontrollers.SignatureVerifier

	BillingJob controllers.BillingProcessor
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DBPinger, p.CachePinger))
	})

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/clerk", webhookcontrollers.ClerkWebhook(p.ClerkWebhookService, p.ClerkVerifier, logg))
	})

	r.Route("/api/cron", func(r chi.Router) {
		r.Use(middleware.CronSecret(cfg.Cron, logg))
		r.Post("/process-subscriptions", controllers.CronProcessSubscriptions(p.BillingJob, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", controllers.AnalysisCreate(p.AnalysisService, logg))
			r.Get("/", controllers.AnalysisList(p.AnalysisService, logg))
			r.Get("/{analysisID}", controllers.AnalysisGet(p.AnalysisService, logg))
		})

		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", controllers.SubscriptionStatus(p.SubscriptionService, logg))
			r.Post("/activate", controllers.SubscriptionActivate(p.SubscriptionService, logg))
			r.Post("/cancel", controllers.SubscriptionCancel(p.SubscriptionService, logg))
		})
	})

	return r
}
