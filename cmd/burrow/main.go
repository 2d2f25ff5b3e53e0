package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/burrowsocial/burrow/cmd/burrow/commands"
	"github.com/burrowsocial/burrow/logger"
)

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - social posting backend with scheduled publishing",
	Long: `Burrow - social posting backend with scheduled publishing.

Burrow stores posts in SQLite and publishes scheduled posts when they come
due, with retries, cancellation, and a live event feed.

Available commands:
  serve   - Start the Burrow API server
  config  - Show or update configuration
  db      - Database operations
  version - Show version information

Examples:
  burrow serve                 # Start the API server
  burrow config show           # Show effective configuration
  burrow db stats              # Show post and queue statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() != "show" {
			if err := logger.Initialize(false); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
