package app

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	PGDSN string `envconfig:"PG_DSN" required:"true"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"600"`

	UsageLockTTL  time.Duration `envconfig:"USAGE_LOCK_TTL" default:"10s"`
	UsageLockWait time.Duration `envconfig:"USAGE_LOCK_WAIT" default:"3s"`

	IdempotencyRetention time.Duration `envconfig:"IDEMPOTENCY_RETENTION" default:"168h"`
	OverdueSweepCron     string        `envconfig:"OVERDUE_SWEEP_CRON" default:"5 0 * * *"`
	WorkerConcurrency    int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr    string        `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	AgingAtRiskThreshold decimal.Decimal `envconfig:"AGING_AT_RISK_THRESHOLD" default:"1000.00"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.PGDSN == "" {
		return nil, errors.New("postgres dsn must be provided")
	}
	if cfg.RateLimitPerMinute <= 0 {
		return nil, errors.New("rate limit must be positive")
	}
	if cfg.UsageLockTTL <= 0 || cfg.UsageLockWait <= 0 {
		return nil, errors.New("usage lock ttl and wait must be positive")
	}
	if cfg.AgingAtRiskThreshold.IsNegative() {
		return nil, errors.New("aging at-risk threshold cannot be negative")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
