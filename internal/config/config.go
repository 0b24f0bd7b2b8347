package config

import (
	"time"

	"github.com/reelforge/reelforge/internal/ailink"
)

// Config represents the complete application configuration. Values are
// layered as built-in defaults, then the user config file, then environment
// variables, then runtime overrides.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	AILink  ailink.Config `mapstructure:"ailink"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds the listener of `serve`. Zero timeouts keep the
// server's defaults; ShutdownTimeout bounds graceful shutdown.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the libsql database holding projects and the call
// log. URL (a Turso/libsql remote) takes precedence over Path.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	// CallLog controls whether orchestrated calls are appended to call_log.
	CallLog bool `mapstructure:"call_log"`
}

// LoggingConfig sets the CLI logger. Level is trace|debug|info|warn|error;
// Profile is SIMPLE or STRUCTURED. serve always logs STRUCTURED.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig controls the Prometheus exporter that serve starts and
// proxies at /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}
