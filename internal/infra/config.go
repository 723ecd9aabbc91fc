package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	NodeID int64  `env:"NODE_ID" envDefault:"1"`

	// Database
	DatabaseURL   string        `env:"DATABASE_URL"`
	PGHost        string        `env:"PGHOST" envDefault:"localhost"`
	PGPort        int           `env:"PGPORT" envDefault:"5432"`
	PGUser        string        `env:"PGUSER" envDefault:"civic"`
	PGPassword    string        `env:"PGPASSWORD" envDefault:"civic"`
	PGDatabase    string        `env:"PGDATABASE" envDefault:"civic"`
	DBMaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBLockTimeout time.Duration `env:"DB_LOCK_TIMEOUT" envDefault:"5s"`
	MigrationsDir string        `env:"MIGRATIONS_DIR"`

	// Redis
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"false"`

	// JWT
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTCitizenExpiry time.Duration `env:"JWT_CITIZEN_EXPIRY" envDefault:"24h"`
	JWTOfficerExpiry time.Duration `env:"JWT_OFFICER_EXPIRY" envDefault:"8h"`

	// Server
	APIPort int `env:"API_PORT" envDefault:"3100"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// Payment gateway
	PaymentGatewayProvider   string        `env:"PAYMENT_GATEWAY_PROVIDER" envDefault:"stub"`
	PaymentCurrency          string        `env:"PAYMENT_CURRENCY" envDefault:"INR"`
	GatewayBaseURL           string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.razorpay.com"`
	GatewayKeyID             string        `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret         string        `env:"GATEWAY_KEY_SECRET"`
	GatewayWebhookSecret     string        `env:"GATEWAY_WEBHOOK_SECRET"`
	GatewaySignatureEnforced *bool         `env:"GATEWAY_SIGNATURE_ENFORCED"`
	GatewayTimeout           time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	GatewayMaxRetries        int           `env:"GATEWAY_MAX_RETRIES" envDefault:"2"`
	GatewayBreakerThreshold  int           `env:"GATEWAY_BREAKER_THRESHOLD" envDefault:"5"`
	GatewayBreakerCooldown   time.Duration `env:"GATEWAY_BREAKER_COOLDOWN" envDefault:"30s"`

	// Webhook guard
	WebhookRateLimit  int           `env:"WEBHOOK_RATE_LIMIT" envDefault:"120"`
	WebhookRateWindow time.Duration `env:"WEBHOOK_RATE_WINDOW" envDefault:"1m"`

	// Worker
	PaymentInitiatedTTL time.Duration `env:"PAYMENT_INITIATED_TTL" envDefault:"2h"`
	ExpirySchedule      string        `env:"EXPIRY_SCHEDULE" envDefault:"@every 10m"`
	SLASweepSchedule    string        `env:"SLA_SWEEP_SCHEDULE" envDefault:"@hourly"`
	OutboxPollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize     int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxPurgeSchedule string        `env:"OUTBOX_PURGE_SCHEDULE" envDefault:"@daily"`
	OutboxRetention     time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig reads an optional .env file, then parses environment variables into a Config.
// Variables already set in the environment win over the file.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production") || strings.EqualFold(c.AppEnv, "prod")
}

// SignatureEnforced reports whether a missing gateway secret is a hard failure.
// Unset defaults to enforced in production and permissive elsewhere.
func (c *Config) SignatureEnforced() bool {
	if c.GatewaySignatureEnforced != nil {
		return *c.GatewaySignatureEnforced
	}
	return c.IsProduction()
}

// GatewaySigningSecret is the HMAC key for gateway signatures: the webhook
// secret when configured, otherwise the API key secret.
func (c *Config) GatewaySigningSecret() string {
	if c.GatewayWebhookSecret != "" {
		return c.GatewayWebhookSecret
	}
	return c.GatewayKeySecret
}

// Validate checks for insecure configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	switch c.PaymentGatewayProvider {
	case "stub", "razorpay":
	default:
		return fmt.Errorf("PAYMENT_GATEWAY_PROVIDER must be stub or razorpay, got %q", c.PaymentGatewayProvider)
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.IsProduction() && c.PaymentGatewayProvider == "stub" {
		return fmt.Errorf("stub payment gateway cannot be used in production")
	}
	if c.SignatureEnforced() && c.GatewayWebhookSecret == "" && c.GatewayKeySecret == "" {
		return fmt.Errorf("GATEWAY_WEBHOOK_SECRET or GATEWAY_KEY_SECRET is required when signatures are enforced")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
