package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names shared with tests and deploy manifests.
const (
	EnvAppEnv       = "SAJUFLOW_APP_ENV"
	EnvDBDSN        = "SAJUFLOW_DB_DSN"
	EnvRedisURL     = "SAJUFLOW_REDIS_URL"
	EnvJWTSecret    = "SAJUFLOW_JWT_SECRET"
	EnvCronSecret   = "SAJUFLOW_CRON_SECRET"
	EnvTossSecret   = "SAJUFLOW_TOSS_SECRET_KEY"
	EnvClerkSecret  = "SAJUFLOW_CLERK_SECRET_KEY"
	EnvGeminiAPIKey = "SAJUFLOW_GEMINI_API_KEY"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	DB      DBConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Cron    CronConfig
	Toss    TossConfig
	Clerk   ClerkConfig
	Gemini  GeminiConfig
	Flags   FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SAJUFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"SAJUFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SAJUFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SAJUFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SAJUFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"SAJUFLOW_DB_DSN" required:"true"`

	MaxOpenConns    int           `envconfig:"SAJUFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SAJUFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SAJUFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SAJUFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SAJUFLOW_REDIS_URL"`
	Address      string        `envconfig:"SAJUFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"SAJUFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"SAJUFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SAJUFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SAJUFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SAJUFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SAJUFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SAJUFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig covers verification of the identity provider's session tokens.
type JWTConfig struct {
	Secret string `envconfig:"SAJUFLOW_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"SAJUFLOW_JWT_ISSUER"`
}

type CronConfig struct {
	// Secret is compared byte-for-byte against the bearer token on the
	// scheduler trigger endpoint.
	Secret   string        `envconfig:"SAJUFLOW_CRON_SECRET" required:"true"`
	Interval time.Duration `envconfig:"SAJUFLOW_CRON_INTERVAL" default:"24h"`
}

type TossConfig struct {
	SecretKey string `envconfig:"SAJUFLOW_TOSS_SECRET_KEY" required:"true"`
	BaseURL   string `envconfig:"SAJUFLOW_TOSS_BASE_URL" default:"https://api.tosspayments.com/v1"`
}

type ClerkConfig struct {
	SecretKey            string `envconfig:"SAJUFLOW_CLERK_SECRET_KEY" required:"true"`
	BaseURL              string `envconfig:"SAJUFLOW_CLERK_BASE_URL" default:"https://api.clerk.com/v1"`
	WebhookSigningSecret string `envconfig:"SAJUFLOW_CLERK_WEBHOOK_SIGNING_SECRET"`
	// WebhookSkipVerify disables signature verification; only honored
	// outside production.
	WebhookSkipVerify bool `envconfig:"SAJUFLOW_CLERK_WEBHOOK_SKIP_VERIFY" default:"false"`
}

type GeminiConfig struct {
	APIKey string `envconfig:"SAJUFLOW_GEMINI_API_KEY" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SAJUFLOW_AUTO_MIGRATE" default:"false"`
}
