// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Import      ImportConfig
	Eligibility EligibilityConfig
	Schedule    ScheduleConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout also bounds how long shutdown waits for running imports (default: 2m)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"2m"`

	// RequestTimeout is the middleware timeout for requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies pending migrations on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds settings for fetching and importing published files.
type ImportConfig struct {
	// Charset is the IANA name of the default file encoding (default: windows-1250)
	Charset string `env:"IMPORT_CHARSET" default:"windows-1250"`

	// Delimiter is the default cell separator, one character (default: ;)
	Delimiter string `env:"IMPORT_DELIMITER" default:";"`

	// MaxFileSize is the maximum accepted file size in bytes (default: 256MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"268435456"`

	// MaxConcurrent is the maximum number of parallel imports (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds one import from fetch to commit (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// FetchTimeout bounds one HTTP download (default: 2m)
	FetchTimeout time.Duration `env:"IMPORT_FETCH_TIMEOUT" default:"2m"`

	// SourceDir resolves relative file locations (default: current directory)
	SourceDir string `env:"IMPORT_SOURCE_DIR"`
}

// DelimiterRune returns the configured delimiter as a rune.
func (c ImportConfig) DelimiterRune() rune {
	for _, r := range c.Delimiter {
		return r
	}
	return 0
}

// EligibilityConfig holds the eligibility rule parameters.
type EligibilityConfig struct {
	// FirstReferencePeriod is the first published catalog month, YYYY-MM (default: 2017-01)
	FirstReferencePeriod string `env:"ELIGIBILITY_FIRST_REFERENCE_PERIOD" default:"2017-01"`
}

// ScheduleConfig holds settings for periodic manifest processing.
type ScheduleConfig struct {
	// Manifest is a YAML descriptor list processed on every cycle. Empty disables the scheduler.
	Manifest string `env:"SCHEDULE_MANIFEST"`

	// Interval is the time between cycles (default: 1h)
	Interval time.Duration `env:"SCHEDULE_INTERVAL" default:"1h"`
}

// Enabled reports whether a manifest is configured.
func (c ScheduleConfig) Enabled() bool {
	return c.Manifest != ""
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// SubmitLimit is requests per minute for dataset submission (default: 10)
	SubmitLimit int `env:"RATE_LIMIT_SUBMIT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects job submission and cancellation (default: false)
	RequireAPIKey bool `env:"SECURITY_REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted X-API-Key values
	APIKeys []string `env:"SECURITY_API_KEYS"`
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
