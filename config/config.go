package config

import (
	"fmt"
	"time"
)

// Config represents the core Burrow configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the Burrow web server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SchedulerConfig configures the scheduled-post publishing system
type SchedulerConfig struct {
	Workers             int `mapstructure:"workers"`                // Concurrent publish workers (default: 1)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`  // How often to check for due posts (default: 1)
	MaxAttempts         int `mapstructure:"max_attempts"`           // Publish attempts before giving up (default: 3)
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`  // First retry delay, doubles per attempt (default: 2)
	RetentionHours      int `mapstructure:"retention_hours"`        // How long finished jobs are kept (default: 24)
	PublishRatePerSec   int `mapstructure:"publish_rate_per_second"` // Publish throttle, 0 = unlimited (default: 10)
	MaxHorizonDays      int `mapstructure:"max_horizon_days"`       // Furthest a post may be scheduled out (default: 365)
}

// Default configuration values
const (
	DefaultDatabasePath = "burrow.db"
	DefaultServerPort   = 8640

	DefaultSchedulerWorkers    = 1
	DefaultPollIntervalSeconds = 1
	DefaultMaxAttempts         = 3
	DefaultRetryBackoffSeconds = 2
	DefaultRetentionHours      = 24
	DefaultPublishRatePerSec   = 10
	DefaultMaxHorizonDays      = 365
)

// DefaultAllowedOrigins are the CORS origins accepted out of the box
var DefaultAllowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetServerPort returns the configured server port
func (c *Config) GetServerPort() int {
	if c.Server.Port == 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// PollInterval returns the worker poll interval as a duration
func (c *SchedulerConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RetryBackoff returns the base retry delay as a duration
func (c *SchedulerConfig) RetryBackoff() time.Duration {
	if c.RetryBackoffSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// Retention returns how long finished jobs are kept
func (c *SchedulerConfig) Retention() time.Duration {
	if c.RetentionHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.RetentionHours) * time.Hour
}

// MaxHorizon returns the furthest-out allowed scheduled time
func (c *SchedulerConfig) MaxHorizon() time.Duration {
	if c.MaxHorizonDays <= 0 {
		return 365 * 24 * time.Hour
	}
	return time.Duration(c.MaxHorizonDays) * 24 * time.Hour
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d}, Scheduler: {Workers: %d}}",
		c.Database.Path, c.Server.Port, c.Scheduler.Workers)
}
