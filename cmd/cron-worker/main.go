package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirae-labs/sajuflow-backend/internal/cron"
	"github.com/mirae-labs/sajuflow-backend/internal/subscriptions"
	"github.com/mirae-labs/sajuflow-backend/pkg/clerk"
	"github.com/mirae-labs/sajuflow-backend/pkg/config"
	"github.com/mirae-labs/sajuflow-backend/pkg/db"
	"github.com/mirae-labs/sajuflow-backend/pkg/logger"
	"github.com/mirae-labs/sajuflow-backend/pkg/metrics"
	"github.com/mirae-labs/sajuflow-backend/pkg/migrate"
	"github.com/mirae-labs/sajuflow-backend/pkg/redis"
	"github.com/mirae-labs/sajuflow-backend/pkg/toss"
)

const lockKeyFormat = "sj:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	billingJob, err := cron.NewSubscriptionBillingJob(cron.SubscriptionBillingJobParams{
		Logger:   logg,
		Ledger:   subscriptions.NewRepository(dbClient.DB()),
		Charger:  tossClient,
		Identity: clerkClient,
		Metrics:  metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(billingJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
