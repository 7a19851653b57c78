// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Durable store (agent_policies, audit_logs)
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Fast KV substrate (budget counters, idempotency marks, reputation cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Payment backend
	PaymentBackendURL    string
	PaymentBackendAPIKey string `json:"-"`
	StripeSecretKey      string `json:"-"`

	// Ingress
	WebhookSecret  string `json:"-"` // HMAC-SHA256 shared secret for push verification
	PollInterval   time.Duration
	AutoPoll       bool
	InFlightLimit  int // backpressure: max concurrent governance cycles
	RateLimitRPM   int

	// Threat-intel (C6 Reputation Evaluator)
	ThreatIntelURL    string
	ThreatIntelAPIKey string `json:"-"`

	// Identity verification (C7, advisory)
	IdentityAPIURL string
	IdentityAPIKey string `json:"-"`

	// Human notification (C9 HELD path)
	NotifyURL      string
	NotifyAPIKey   string `json:"-"`
	AdminSecret    string `json:"-"` // guards the admin/query surface

	// Circuit breaker tuning (shared defaults; per-breaker overrides are
	// supported by passing distinct thresholds at construction time)
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration

	// Database pool settings
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	DBConnMaxIdleTime  time.Duration
	DBConnectTimeout   int // seconds, appended to Postgres DSN
	DBStatementTimeout int // milliseconds, appended to Postgres DSN

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RequestTimeout   time.Duration // end-to-end governance cycle deadline (spec §5, recommended 10s)

	// Observability
	OTLPEndpoint string // OpenTelemetry collector endpoint (e.g. "localhost:4317"), empty = disabled

	// Audit fallback
	AuditFallbackDir string // local append-only fallback path when the durable store is unreachable
}

const (
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultRedisAddr = "localhost:6379"

	DefaultPollInterval  = 15 * time.Second
	DefaultInFlightLimit = 256
	DefaultRateLimit     = 600

	DefaultBreakerFailureThreshold = 5
	DefaultBreakerResetTimeout     = 30 * time.Second

	// Database pool defaults
	DefaultDBMaxOpenConns     = 25
	DefaultDBMaxIdleConns     = 5
	DefaultDBConnMaxLifetime  = 5 * time.Minute
	DefaultDBConnMaxIdleTime  = 3 * time.Minute
	DefaultDBConnectTimeout   = 5     // seconds
	DefaultDBStatementTimeout = 30000 // milliseconds (30s)

	// HTTP server timeout defaults
	DefaultHTTPReadTimeout  = 10 * time.Second
	DefaultHTTPWriteTimeout = 30 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second
	DefaultRequestTimeout   = 10 * time.Second // spec §5's recommended end-to-end cycle deadline

	DefaultAuditFallbackDir = "./audit-fallback"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     getEnv("REDIS_ADDR", DefaultRedisAddr),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       int(getEnvInt64("REDIS_DB", 0)),

		PaymentBackendURL:    os.Getenv("PAYMENT_BACKEND_URL"),
		PaymentBackendAPIKey: os.Getenv("PAYMENT_BACKEND_API_KEY"),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		PollInterval:  getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		AutoPoll:      getEnv("AUTO_POLL", "true") == "true",
		InFlightLimit: int(getEnvInt64("IN_FLIGHT_LIMIT", int64(DefaultInFlightLimit))),
		RateLimitRPM:  int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),

		ThreatIntelURL:    os.Getenv("THREAT_INTEL_URL"),
		ThreatIntelAPIKey: os.Getenv("THREAT_INTEL_API_KEY"),

		IdentityAPIURL: os.Getenv("IDENTITY_API_URL"),
		IdentityAPIKey: os.Getenv("IDENTITY_API_KEY"),

		NotifyURL:    os.Getenv("NOTIFY_URL"),
		NotifyAPIKey: os.Getenv("NOTIFY_API_KEY"),
		AdminSecret:  os.Getenv("ADMIN_SECRET"),

		BreakerFailureThreshold: int(getEnvInt64("BREAKER_FAILURE_THRESHOLD", int64(DefaultBreakerFailureThreshold))),
		BreakerResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", DefaultBreakerResetTimeout),

		DBMaxOpenConns:     int(getEnvInt64("POSTGRES_MAX_OPEN_CONNS", int64(DefaultDBMaxOpenConns))),
		DBMaxIdleConns:     int(getEnvInt64("POSTGRES_MAX_IDLE_CONNS", int64(DefaultDBMaxIdleConns))),
		DBConnMaxLifetime:  getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime),
		DBConnMaxIdleTime:  getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", DefaultDBConnMaxIdleTime),
		DBConnectTimeout:   int(getEnvInt64("POSTGRES_CONNECT_TIMEOUT", int64(DefaultDBConnectTimeout))),
		DBStatementTimeout: int(getEnvInt64("POSTGRES_STATEMENT_TIMEOUT", int64(DefaultDBStatementTimeout))),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", DefaultHTTPReadTimeout),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", DefaultHTTPWriteTimeout),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", DefaultHTTPIdleTimeout),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		AuditFallbackDir: getEnv("AUDIT_FALLBACK_DIR", DefaultAuditFallbackDir),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and internally
// consistent.
func (c *Config) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}

	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port)
	}

	if c.RateLimitRPM < 1 {
		return fmt.Errorf("RATE_LIMIT_RPM must be at least 1, got %d", c.RateLimitRPM)
	}

	if c.InFlightLimit < 1 {
		return fmt.Errorf("IN_FLIGHT_LIMIT must be at least 1, got %d", c.InFlightLimit)
	}

	if c.DBStatementTimeout < 1000 {
		return fmt.Errorf("POSTGRES_STATEMENT_TIMEOUT must be at least 1000ms, got %d", c.DBStatementTimeout)
	}

	// Write timeout must be at least the request timeout to avoid truncated responses.
	if c.HTTPWriteTimeout > 0 && c.RequestTimeout > 0 && c.HTTPWriteTimeout < c.RequestTimeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT (%v) must be >= REQUEST_TIMEOUT (%v)", c.HTTPWriteTimeout, c.RequestTimeout)
	}

	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", c.BreakerFailureThreshold)
	}

	// Warnings (non-fatal)
	if c.IsProduction() && c.AdminSecret == "" {
		slog.Warn("ADMIN_SECRET not set — admin endpoints will reject every request")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set — policy store and audit sink are running in-memory, data will not survive a restart")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
