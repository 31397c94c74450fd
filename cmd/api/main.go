package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	webhookcontrollers "github.com/mirae-labs/sajuflow-backend/api/controllers/webhooks"
	"github.com/mirae-labs/sajuflow-backend/api/routes"
	"github.com/mirae-labs/sajuflow-backend/internal/analyses"
	"github.com/mirae-labs/sajuflow-backend/internal/cron"
	"github.com/mirae-labs/sajuflow-backend/internal/subscriptions"
	"github.com/mirae-labs/sajuflow-backend/internal/users"
	clerkwebhook "github.com/mirae-labs/sajuflow-backend/internal/webhooks/clerk"
	"github.com/mirae-labs/sajuflow-backend/pkg/clerk"
	"github.com/mirae-labs/sajuflow-backend/pkg/config"
	"github.com/mirae-labs/sajuflow-backend/pkg/db"
	"github.com/mirae-labs/sajuflow-backend/pkg/gemini"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
	"github.com/mirae-labs/sajuflow-backend/pkg/migrate"
	"github.com/mirae-labs/sajuflow-backend/pkg/redis"
	"github.com/mirae-labs/sajuflow-backend/pkg/toss"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	tossClient, err := toss.NewClient(cfg.Toss.SecretKey, toss.WithBaseURL(cfg.Toss.BaseURL))
	if err != nil {
		logg.Error(context.Background(), "failed to create toss client", err)
		os.Exit(1)
	}

	clerkClient, err := clerk.NewClient(cfg.Clerk.SecretKey, clerk.WithBaseURL(cfg.Clerk.BaseURL))
	if err != nil {
		logg.Error(context.Background(), "failed to create clerk client", err)
		os.Exit(1)
	}

	geminiClient, err := gemini.NewClient(context.Background(), cfg.Gemini.APIKey)
	if err != nil {
		logg.Error(context.Background(), "failed to create gemini client", err)
		os.Exit(1)
	}
	defer func() {
		if err := geminiClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gemini client", err)
		}
	}()

	userRepo := users.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	analysisRepo := analyses.NewRepository(dbClient.DB())

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Logger:   logg,
		Repo:     subscriptionRepo,
		Billing:  tossClient,
		Identity: clerkClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	usersService, err := users.NewService(users.ServiceParams{
		Logger:   logg,
		Repo:     userRepo,
		Identity: clerkClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create users service", err)
		os.Exit(1)
	}

	analysisService, err := analyses.NewService(analyses.ServiceParams{
		Logger:    logg,
		Repo:      analysisRepo,
		Users:     usersService,
		Quota:     subscriptionService,
		Generator: geminiClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create analysis service", err)
		os.Exit(1)
	}

	webhookService, err := clerkwebhook.NewService(clerkwebhook.ServiceParams{
		Logger:   logg,
		Users:    userRepo,
		Ledger:   subscriptionRepo,
		Replay:   redisClient,
		Identity: clerkClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	clerkVerifier, err := webhookcontrollers.NewClerkVerifier(cfg.Clerk, cfg.App)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook verifier", err)
		os.Exit(1)
	}

	billingJob, err := cron.NewSubscriptionBillingJob(cron.SubscriptionBillingJobParams{
		Logger:   logg,
		Ledger:   subscriptionRepo,
		Charger:  tossClient,
		Identity: clerkClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing job", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:              cfg,
			Logger:              logg,
			DBPinger:            dbClient,
			CachePinger:         redisClient,
			AnalysisService:     analysisService,
			SubscriptionService: subscriptionService,
			ClerkWebhookService: webhookService,
			ClerkVerifier:       clerkVerifier,
			BillingJob:          billingJob,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
