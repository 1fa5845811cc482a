// Package config loads qadash settings from environment variables.
// Every field has a default except where noted, and Validate reports all
// problems at once so a bad deployment fails on startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Sources  SourcesConfig
	Fetch    FetchConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout also bounds the wait for in-flight refreshes.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout. Manual refreshes run under it.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"90s"`
}

// DatabaseConfig holds the optional history database.
type DatabaseConfig struct {
	// URL is a PostgreSQL connection string. Empty keeps refresh history in memory.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// SourcesConfig controls which sheets are loaded and how often.
type SourcesConfig struct {
	// CatalogPath is the YAML file listing the sources (required).
	CatalogPath string `env:"SOURCES_CATALOG" default:"sources.yaml"`

	// AliasesPath optionally overrides header aliases. The catalog's own
	// aliases section is applied on top.
	AliasesPath string `env:"SOURCES_ALIASES"`

	RefreshInterval  time.Duration `env:"REFRESH_INTERVAL" default:"5m"`
	RefreshTimeout   time.Duration `env:"REFRESH_TIMEOUT" default:"2m"`
	Concurrency      int           `env:"REFRESH_CONCURRENCY" default:"4"`
	MaxManual        int           `env:"REFRESH_MAX_MANUAL" default:"2"`
	ManualWait       time.Duration `env:"REFRESH_MANUAL_WAIT" default:"5s"`
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" default:"720h"`
}

// FetchConfig controls the sheet downloader.
type FetchConfig struct {
	Timeout        time.Duration `env:"FETCH_TIMEOUT" default:"20s"`
	MaxRetries     int           `env:"FETCH_MAX_RETRIES" default:"3"`
	InitialBackoff time.Duration `env:"FETCH_INITIAL_BACKOFF" default:"500ms"`
	MaxBackoff     time.Duration `env:"FETCH_MAX_BACKOFF" default:"10s"`

	// RatePerSecond caps outbound requests; 0 disables throttling.
	RatePerSecond float64 `env:"FETCH_RATE_PER_SECOND" default:"2"`
	Burst         int     `env:"FETCH_BURST" default:"4"`

	MaxBytes  int64  `env:"FETCH_MAX_BYTES" default:"20971520"`
	UserAgent string `env:"FETCH_USER_AGENT" default:"qadash/1.0"`
}

// RateLimitConfig holds per-IP limits for inbound requests.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// RefreshLimit is requests per minute for the refresh endpoints.
	RefreshLimit int `env:"RATE_LIMIT_REFRESH" default:"6"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Forwarded-For / X-Real-IP headers are honoured.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RefreshKeys, when set, are required in X-API-Key on refresh endpoints.
	RefreshKeys []string `env:"REFRESH_API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
