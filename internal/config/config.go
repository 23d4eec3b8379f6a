// Package config provides configuration loading for otpd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the otpd daemon.
//
// A loaded Config is an immutable snapshot: components receive the sections
// they need at construction time and never re-read mutable global state.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	NATS     NATSConfig     `koanf:"nats"`
	Database DatabaseConfig `koanf:"database"`
	Spool    SpoolConfig    `koanf:"spool"`
	Delivery DeliveryConfig `koanf:"delivery"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// NATSConfig holds the connection settings for the event bus and the
// delivery work queue.
type NATSConfig struct {
	URL string `koanf:"url"`
}

// DatabaseConfig holds the record store settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// SpoolConfig holds the inbound message spool settings.
type SpoolConfig struct {
	// Dir is the directory watched for inbound message files.
	Dir string `koanf:"dir"`

	// Debounce is the quiet period after a spool change before a rescan
	// runs. Each new change restarts the timer.
	Debounce time.Duration `koanf:"debounce"`

	// ScanLimit bounds the number of messages examined per rescan.
	ScanLimit int `koanf:"scan_limit"`
}

// DeliveryConfig holds the outbound delivery settings.
type DeliveryConfig struct {
	// APIURL is the endpoint codes are forwarded to. Empty means
	// misconfigured: dispatches fail terminally without a network attempt.
	APIURL string `koanf:"api_url"`

	// PayloadTemplate is the request body template. %code% and %phone%
	// are substituted at dispatch time.
	PayloadTemplate string `koanf:"payload_template"`

	// Keyword is the case-insensitive marker that precedes a code in
	// message text.
	Keyword string `koanf:"keyword"`

	HeaderKey1 string `koanf:"header_key_1"`
	HeaderVal1 string `koanf:"header_val_1"`
	HeaderKey2 string `koanf:"header_key_2"`
	HeaderVal2 string `koanf:"header_val_2"`

	// MaxAttempts bounds delivery attempts for transient failures.
	MaxAttempts int `koanf:"max_attempts"`

	// RetryBackoff is the base delay before the first retry; it doubles
	// per attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// Timeout applies to each outbound HTTP call.
	Timeout time.Duration `koanf:"timeout"`
}

// applyDefaults fills in defaults for any missing values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}

	if cfg.Spool.Dir == "" {
		cfg.Spool.Dir = "/var/spool/otpd"
	}
	if cfg.Spool.Debounce == 0 {
		cfg.Spool.Debounce = 2 * time.Second
	}
	if cfg.Spool.ScanLimit == 0 {
		cfg.Spool.ScanLimit = 50
	}

	if cfg.Delivery.PayloadTemplate == "" {
		cfg.Delivery.PayloadTemplate = `{ "code": "%code%", "phone": "%phone%" }`
	}
	if cfg.Delivery.Keyword == "" {
		cfg.Delivery.Keyword = "DONIKKAH"
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = 5
	}
	if cfg.Delivery.RetryBackoff == 0 {
		cfg.Delivery.RetryBackoff = 10 * time.Second
	}
	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = 30 * time.Second
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in range 1-65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}

	if c.Spool.Dir == "" {
		return fmt.Errorf("spool.dir is required")
	}
	if c.Spool.Debounce < 0 {
		return fmt.Errorf("spool.debounce must not be negative")
	}
	if c.Spool.ScanLimit < 1 {
		return fmt.Errorf("spool.scan_limit must be at least 1, got %d", c.Spool.ScanLimit)
	}

	if c.Delivery.Keyword == "" {
		return fmt.Errorf("delivery.keyword is required")
	}
	if c.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("delivery.max_attempts must be at least 1, got %d", c.Delivery.MaxAttempts)
	}
	if c.Delivery.RetryBackoff < 0 {
		return fmt.Errorf("delivery.retry_backoff must not be negative")
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be positive")
	}

	return nil
}
