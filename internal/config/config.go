// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast
// on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds field-mapping and batch-import settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 100MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"104857600"`

	// BatchSize is the number of records per persistence call (default: 1000)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"1000"`

	// AutoThreshold is the minimum similarity score for auto-mapping a
	// column to a field; boundary inclusive (default: 0.7, with 0.6 the
	// other historically supported setting)
	AutoThreshold float64 `env:"IMPORT_AUTO_THRESHOLD" default:"0.7"`

	// SuggestLow and SuggestHigh bound the half-open score band kept as
	// suggestions for unmatched columns (default: [0.4, 0.6))
	SuggestLow  float64 `env:"IMPORT_SUGGEST_LOW" default:"0.4"`
	SuggestHigh float64 `env:"IMPORT_SUGGEST_HIGH" default:"0.6"`

	// MaxSuggestions caps suggestions per unmatched column (default: 3)
	MaxSuggestions int `env:"IMPORT_MAX_SUGGESTIONS" default:"3"`

	// MetadataExclusions are column-name fragments excluded from mapping
	MetadataExclusions []string `env:"IMPORT_METADATA_EXCLUSIONS"`

	// IdentityFields: at least one must be non-empty for a row to import
	IdentityFields []string `env:"IMPORT_IDENTITY_FIELDS"`

	// FailOnIncomplete counts identity-incomplete rows as failed instead
	// of silently dropping them (default: false)
	FailOnIncomplete bool `env:"IMPORT_FAIL_ON_INCOMPLETE" default:"false"`

	// Timeout is the maximum duration for a whole import run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// PersistTimeout bounds a single batch persistence call (default: 30s)
	PersistTimeout time.Duration `env:"IMPORT_PERSIST_TIMEOUT" default:"30s"`

	// ErrorLimit caps retained row-failure detail in summaries (default: 100)
	ErrorLimit int `env:"IMPORT_ERROR_LIMIT" default:"100"`

	// MaxConcurrent limits simultaneously running imports (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// QueueWait is how long an import start waits for a free slot
	// before rejecting; 0 rejects immediately (default: 0s)
	QueueWait time.Duration `env:"IMPORT_QUEUE_WAIT" default:"0s"`

	// SessionTTL is how long finished sessions stay queryable (default: 5m)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"5m"`

	// PreviewRows is the number of sample records in a preview (default: 5)
	PreviewRows int `env:"IMPORT_PREVIEW_ROWS" default:"5"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// SessionLimit is requests per minute for session-creating endpoints (default: 10)
	SessionLimit int `env:"RATE_LIMIT_SESSIONS" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
