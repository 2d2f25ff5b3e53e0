package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/burrowsocial/burrow/errors"
)

// ErrConfigExists is returned by WriteDefault when the target file already
// exists; it is never overwritten.
var ErrConfigExists = errors.New("config file already exists")

// UserConfigPath returns the path to the user config file in ~/.burrow/burrow.toml
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".burrow", "burrow.toml")
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete oldest backup")
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// Save writes a settings map to the config file at configPath, rotating
// backups first. The watcher is told about the write so it does not trigger a
// reload loop.
func Save(settings map[string]interface{}, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

// Set updates a single key in the config file at configPath, preserving
// everything else in it. Dot notation addresses nested sections, e.g.
// "scheduler.max_attempts".
func Set(configPath, key string, value interface{}) error {
	var settings map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &settings); err != nil {
			return errors.Wrap(err, "failed to parse existing config")
		}
	} else {
		settings = make(map[string]interface{})
	}

	parts := strings.Split(key, ".")
	section := settings
	for _, part := range parts[:len(parts)-1] {
		child, ok := section[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			section[part] = child
		}
		section = child
	}
	section[parts[len(parts)-1]] = value

	return Save(settings, configPath)
}

// WriteDefault writes the default configuration to configPath. An existing
// file is left untouched.
func WriteDefault(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return errors.Wrap(ErrConfigExists, configPath)
	}

	return Save(map[string]interface{}{
		"database": map[string]interface{}{
			"path": DefaultDatabasePath,
		},
		"server": map[string]interface{}{
			"port":            DefaultServerPort,
			"allowed_origins": DefaultAllowedOrigins,
		},
		"scheduler": map[string]interface{}{
			"workers":                 DefaultSchedulerWorkers,
			"poll_interval_seconds":   DefaultPollIntervalSeconds,
			"max_attempts":            DefaultMaxAttempts,
			"retry_backoff_seconds":   DefaultRetryBackoffSeconds,
			"retention_hours":         DefaultRetentionHours,
			"publish_rate_per_second": DefaultPublishRatePerSec,
			"max_horizon_days":        DefaultMaxHorizonDays,
		},
	}, configPath)
}
