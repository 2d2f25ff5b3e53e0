package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", DefaultDatabasePath)

	// Server configuration defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", DefaultAllowedOrigins)

	// Scheduler (scheduled-post publishing) defaults
	v.SetDefault("scheduler.workers", DefaultSchedulerWorkers)
	v.SetDefault("scheduler.poll_interval_seconds", DefaultPollIntervalSeconds)
	v.SetDefault("scheduler.max_attempts", DefaultMaxAttempts)
	v.SetDefault("scheduler.retry_backoff_seconds", DefaultRetryBackoffSeconds)
	v.SetDefault("scheduler.retention_hours", DefaultRetentionHours)
	v.SetDefault("scheduler.publish_rate_per_second", DefaultPublishRatePerSec)
	v.SetDefault("scheduler.max_horizon_days", DefaultMaxHorizonDays)
}

// BindSensitiveEnvVars explicitly binds deployment-specific configuration to
// environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "BURROW_DATABASE_PATH")
	v.BindEnv("server.port", "BURROW_SERVER_PORT")
}
