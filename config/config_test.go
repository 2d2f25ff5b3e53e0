package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowsocial/burrow/errors"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "burrow.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 10, cfg.Scheduler.PublishRatePerSec)
	assert.Equal(t, 365, cfg.Scheduler.MaxHorizonDays)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burrow.toml")

	content := `
[database]
path = "/var/lib/burrow/burrow.db"

[server]
port = 9000

[scheduler]
workers = 4
retry_backoff_seconds = 5
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/burrow/burrow.db", cfg.Database.Path)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RetryBackoff())

	// Unspecified keys keep their defaults
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Retention())
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestSchedulerDurationGetters(t *testing.T) {
	var cfg SchedulerConfig

	// Zero values fall back to sensible defaults
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff())
	assert.Equal(t, 24*time.Hour, cfg.Retention())
	assert.Equal(t, 365*24*time.Hour, cfg.MaxHorizon())

	cfg = SchedulerConfig{
		PollIntervalSeconds: 5,
		RetryBackoffSeconds: 10,
		RetentionHours:      48,
		MaxHorizonDays:      30,
	}
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.RetryBackoff())
	assert.Equal(t, 48*time.Hour, cfg.Retention())
	assert.Equal(t, 30*24*time.Hour, cfg.MaxHorizon())
}

func TestConfigGetters(t *testing.T) {
	var cfg Config
	assert.Equal(t, "burrow.db", cfg.GetDatabasePath())
	assert.Equal(t, DefaultServerPort, cfg.GetServerPort())
	assert.NotEmpty(t, cfg.GetServerAllowedOrigins())

	cfg.Database.Path = "custom.db"
	cfg.Server.Port = 1234
	cfg.Server.AllowedOrigins = []string{"https://burrow.example"}
	assert.Equal(t, "custom.db", cfg.GetDatabasePath())
	assert.Equal(t, 1234, cfg.GetServerPort())
	assert.Equal(t, []string{"https://burrow.example"}, cfg.GetServerAllowedOrigins())
}

func TestSaveAndSet(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burrow.toml")

	require.NoError(t, Set(configPath, "database", map[string]interface{}{"path": "one.db"}))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "one.db", cfg.Database.Path)

	// Updating one key preserves the rest
	require.NoError(t, Set(configPath, "server", map[string]interface{}{"port": 7777}))

	cfg, err = LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "one.db", cfg.Database.Path)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestSetNestedKey(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burrow.toml")

	require.NoError(t, Set(configPath, "scheduler.max_attempts", int64(5)))
	require.NoError(t, Set(configPath, "scheduler.retention_hours", int64(48)))
	require.NoError(t, Set(configPath, "database.path", "nested.db"))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 48, cfg.Scheduler.RetentionHours)
	assert.Equal(t, "nested.db", cfg.Database.Path)
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burrow.toml")

	require.NoError(t, WriteDefault(configPath))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultMaxAttempts, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, DefaultMaxHorizonDays, cfg.Scheduler.MaxHorizonDays)
}

func TestWriteDefaultRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burrow.toml")

	require.NoError(t, Set(configPath, "database.path", "mine.db"))
	err := WriteDefault(configPath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigExists))

	// The existing file survives untouched
	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "mine.db", cfg.Database.Path)
}

func TestSaveRotatesBackups(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burrow.toml")

	require.NoError(t, Set(configPath, "a", 1))
	require.NoError(t, Set(configPath, "a", 2))
	require.NoError(t, Set(configPath, "a", 3))

	// Two rewrites of an existing file leave two backups behind
	_, err := os.Stat(configPath + ".back1")
	assert.NoError(t, err)
	_, err = os.Stat(configPath + ".back2")
	assert.NoError(t, err)
}

func TestWatcherDetectsChange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burrow.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[server]\nport = 9000\n"), 0644))

	watcher, err := NewWatcher(configPath)
	require.NoError(t, err)
	defer watcher.Stop()

	// Direct exercise of the debounce path rather than the fsnotify event
	// loop keeps this test deterministic across filesystems.
	watcher.debouncePeriod = 10 * time.Millisecond

	reloaded := make(chan *Config, 1)
	watcher.OnReload(func(c *Config) error {
		select {
		case reloaded <- c:
		default:
		}
		return nil
	})

	watcher.scheduleReload()

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestMarkOwnWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burrow.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(""), 0644))

	watcher, err := NewWatcher(configPath)
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.MarkOwnWrite()
	assert.True(t, watcher.checkOwnWrite())
	// The flag clears after one check
	assert.False(t, watcher.checkOwnWrite())
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/home/u/.burrow/burrow.toml.back1"))
	assert.True(t, isBackupFile("burrow.toml.back3"))
	assert.False(t, isBackupFile("burrow.toml"))
}
