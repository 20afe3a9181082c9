// Package config provides centralized configuration management for the ingest service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Sink     SinkConfig
	Import   ImportConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, imports can be long)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// SinkConfig selects and configures the store that validated batches are written to.
type SinkConfig struct {
	// Driver is one of: postgres, sqlite, mysql, sqlserver, mongo (default: postgres)
	Driver string `env:"SINK_DRIVER" default:"postgres"`

	// DSN is the connection string for the selected driver (required)
	// Supports both SINK_DSN and DATABASE_URL env vars for compatibility
	DSN string `env:"SINK_DSN" envAlt:"DATABASE_URL" required:"true"`

	// Database is the Mongo database name; ignored by SQL drivers (default: ingest)
	Database string `env:"SINK_DATABASE" default:"ingest"`

	// EnsureSchema creates target tables on startup when missing (default: true)
	EnsureSchema bool `env:"SINK_ENSURE_SCHEMA" default:"true"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"SINK_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"SINK_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"SINK_MAX_CONN_LIFETIME" default:"1h"`

	// ConnectTimeout bounds the initial connect and ping (default: 10s)
	ConnectTimeout time.Duration `env:"SINK_CONNECT_TIMEOUT" default:"10s"`
}

// ImportConfig holds CSV import processing settings.
type ImportConfig struct {
	// BatchSize is the number of validated records per bulk write (default: 1000)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"1000"`

	// MaxFileSize is the maximum accepted upload size in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of imports running at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single import run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// Dir is the directory named-file imports are read from (default: ./data)
	Dir string `env:"IMPORT_DIR" default:"./data"`

	// DeadLetterPath receives failed batches as msgpack frames; empty disables it
	DeadLetterPath string `env:"IMPORT_DEAD_LETTER_PATH"`

	// SchemaDir holds extra *.yaml target schemas registered at startup; empty disables it
	SchemaDir string `env:"IMPORT_SCHEMA_DIR"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// RateLimit is the number of requests allowed per client IP per minute; 0 disables it (default: 100)
	RateLimit int `env:"RATE_LIMIT_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is one of: none, prometheus, datadog (default: prometheus)
	Backend string `env:"METRICS_BACKEND" default:"prometheus"`

	// DatadogAddr is the DogStatsD address (default: 127.0.0.1:8125)
	DatadogAddr string `env:"DATADOG_ADDR" default:"127.0.0.1:8125"`

	// Namespace prefixes Datadog metric names (default: ingest.)
	Namespace string `env:"METRICS_NAMESPACE" default:"ingest."`

	// Tags are global Datadog tags, comma-separated key:value pairs
	Tags []string `env:"METRICS_TAGS"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
