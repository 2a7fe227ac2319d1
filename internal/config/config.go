// Package config provides centralized configuration management for the sync
// service. It loads configuration from environment variables with defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Webhook  WebhookConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST,default=0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT,default=8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=30s"`

	// RequestTimeout is the middleware timeout for requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT,default=30s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Required for the postgres driver.
	URL string `env:"DATABASE_URL"`

	// AltURL is read from DB_URL and used when DATABASE_URL is unset.
	AltURL string `env:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS,default=20"`
	MinConns        int           `env:"DB_MIN_CONNS,default=2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME,default=1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME,default=30m"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory" (default: postgres)
	Driver string `env:"STORE_DRIVER,default=postgres"`

	// AutoMigrate applies embedded migrations on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE,default=true"`
}

// RateLimitConfig holds sliding-window rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED,default=true"`

	// Requests is the number of requests allowed per window (default: 100)
	Requests int `env:"RATE_LIMIT_REQUESTS,default=100"`

	// Window is the sliding window length (default: 60s)
	Window time.Duration `env:"RATE_LIMIT_WINDOW,default=60s"`

	// RedisURL switches to the shared Redis limiter when set.
	RedisURL string `env:"RATE_LIMIT_REDIS_URL"`

	// SweepInterval is how often idle in-memory keys are forgotten (default: 5m)
	SweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL,default=5m"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	// CredentialPepper keys the HMAC used to digest API keys. Empty means plain SHA-256.
	CredentialPepper string `env:"CREDENTIAL_PEPPER"`

	// ExposeErrorDetails adds internal error text to 500 responses (default: false)
	ExposeErrorDetails bool `env:"API_EXPOSE_ERROR_DETAILS,default=false"`

	// MaxBodyBytes bounds request bodies (default: 1MiB)
	MaxBodyBytes int64 `env:"API_MAX_BODY_BYTES,default=1048576"`

	// BootstrapKey, when set, is registered as an active credential at startup.
	BootstrapKey string `env:"API_BOOTSTRAP_KEY"`
}

// WebhookConfig holds change notification delivery settings.
type WebhookConfig struct {
	Workers   int           `env:"WEBHOOK_WORKERS,default=4"`
	QueueSize int           `env:"WEBHOOK_QUEUE_SIZE,default=256"`
	Timeout   time.Duration `env:"WEBHOOK_TIMEOUT,default=10s"`
}

// KafkaConfig enables the Kafka event sink when Brokers is set.
type KafkaConfig struct {
	// Brokers is a comma-separated host:port list
	Brokers string `env:"KAFKA_BROKERS"`
	Topic   string `env:"KAFKA_TOPIC,default=resource_notification"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL,default=info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT,default=text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DSN returns the configured connection string, preferring DATABASE_URL.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return c.AltURL
}

// ProxyCIDRs splits TrustedProxies into trimmed, non-empty entries.
func (c *SecurityConfig) ProxyCIDRs() []string {
	return splitList(c.TrustedProxies)
}

// BrokerList splits Brokers into trimmed, non-empty entries.
func (c *KafkaConfig) BrokerList() []string {
	return splitList(c.Brokers)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
