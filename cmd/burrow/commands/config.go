package commands

import (
	"fmt"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/burrowsocial/burrow/config"
	"github.com/burrowsocial/burrow/errors"
)

// ConfigCmd manages Burrow configuration
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update Burrow configuration",
	Long: `Show or update Burrow configuration.

Configuration merges, in precedence order: environment variables (BURROW_*),
a project burrow.toml, ~/.burrow/burrow.toml, and /etc/burrow/config.toml.

Examples:
  burrow config show                      # Show effective configuration
  burrow config path                      # Print the user config file path
  burrow config init                      # Write a default user config file
  burrow config set scheduler.max_attempts 5`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the user config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.UserConfigPath())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default user config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.UserConfigPath()
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the user config file",
	Long: `Set a configuration value in ~/.burrow/burrow.toml using dot notation.

The previous file is kept as a rotating backup (.back1, .back2, .back3).`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configPathCmd)
	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configSetCmd)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	if err := config.Set(config.UserConfigPath(), key, parseConfigValue(raw)); err != nil {
		return errors.Wrap(err, "failed to update configuration")
	}

	fmt.Printf("Set %s = %s\n", key, raw)
	return nil
}

// parseConfigValue keeps numeric and boolean values typed in the TOML output.
// Integers are tried before booleans so "1" stays numeric.
func parseConfigValue(raw string) interface{} {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	out, err := toml.Marshal(map[string]interface{}{
		"database": map[string]interface{}{
			"path": cfg.GetDatabasePath(),
		},
		"server": map[string]interface{}{
			"port":            cfg.GetServerPort(),
			"allowed_origins": cfg.GetServerAllowedOrigins(),
		},
		"scheduler": map[string]interface{}{
			"workers":                 cfg.Scheduler.Workers,
			"poll_interval_seconds":   cfg.Scheduler.PollIntervalSeconds,
			"max_attempts":            cfg.Scheduler.MaxAttempts,
			"retry_backoff_seconds":   cfg.Scheduler.RetryBackoffSeconds,
			"retention_hours":         cfg.Scheduler.RetentionHours,
			"publish_rate_per_second": cfg.Scheduler.PublishRatePerSec,
			"max_horizon_days":        cfg.Scheduler.MaxHorizonDays,
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to render configuration")
	}

	fmt.Print(string(out))
	return nil
}
