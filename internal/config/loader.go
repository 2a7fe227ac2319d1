package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Store validation
	switch strings.ToLower(c.Store.Driver) {
	case DriverPostgres:
		if c.Database.DSN() == "" {
			errs = append(errs, "DATABASE_URL (or DB_URL) is required for the postgres store")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER (%q) must be one of: postgres, memory", c.Store.Driver))
	}

	// Database validation
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled {
		if c.Rate.Requests <= 0 {
			errs = append(errs, "RATE_LIMIT_REQUESTS must be positive when rate limiting is enabled")
		}
		if c.Rate.Window <= 0 {
			errs = append(errs, "RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
		}
	}

	// Security validation
	if c.Security.MaxBodyBytes <= 0 {
		errs = append(errs, "API_MAX_BODY_BYTES must be positive")
	}

	// Webhook validation
	if c.Webhook.Workers <= 0 {
		errs = append(errs, "WEBHOOK_WORKERS must be positive")
	}
	if c.Webhook.QueueSize <= 0 {
		errs = append(errs, "WEBHOOK_QUEUE_SIZE must be positive")
	}
	if c.Webhook.Timeout <= 0 {
		errs = append(errs, "WEBHOOK_TIMEOUT must be positive")
	}

	if len(c.Kafka.BrokerList()) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Connection strings and secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Store: {Driver: %q, AutoMigrate: %v}, ", c.Store.Driver, c.Store.AutoMigrate))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		mask(c.Database.DSN()), c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, Requests: %d, Window: %s, Redis: %s}, ",
		c.Rate.Enabled, c.Rate.Requests, c.Rate.Window, mask(c.Rate.RedisURL)))
	b.WriteString(fmt.Sprintf("Security: {Pepper: %s, BootstrapKey: %s, ExposeErrorDetails: %v}, ",
		mask(c.Security.CredentialPepper), mask(c.Security.BootstrapKey), c.Security.ExposeErrorDetails))
	b.WriteString(fmt.Sprintf("Webhook: {Workers: %d, QueueSize: %d, Timeout: %s}, ",
		c.Webhook.Workers, c.Webhook.QueueSize, c.Webhook.Timeout))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
