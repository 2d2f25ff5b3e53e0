package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowsocial/burrow/config"
	"github.com/burrowsocial/burrow/db"
	"github.com/burrowsocial/burrow/errors"
	"github.com/burrowsocial/burrow/logger"
	"github.com/burrowsocial/burrow/post"
	"github.com/burrowsocial/burrow/scheduler"
	"github.com/burrowsocial/burrow/server"
)

// ServeCmd starts the Burrow API server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the Burrow API server",
	Long: `Launch the Burrow API server: immediate posts, scheduled posts with
durable publishing, and a WebSocket feed of scheduling events.`,
	RunE: runServe,
}

var (
	serveDBPath string
	servePort   int
	serveWatch  bool
)

func init() {
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	ServeCmd.Flags().BoolVar(&serveWatch, "watch-config", false, "Reload on config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	dbPath := serveDBPath
	if dbPath == "" {
		dbPath, err = config.GetDatabasePath()
		if err != nil {
			return errors.Wrap(err, "failed to resolve database path")
		}
	}

	log := logger.Named("burrow")

	// A broken database is survivable: the scheduler probes the handle and
	// falls back to in-memory scheduling, but immediate posts need it.
	database, err := db.OpenWithMigrations(dbPath, log)
	if err != nil {
		log.Warnw("Database unavailable, scheduled posts will not survive restarts",
			"path", dbPath,
			"error", err)
		database = nil
	} else {
		defer database.Close()
	}

	posts := post.NewStore(database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(ctx, database, scheduler.PublisherFunc(posts.Publish), scheduler.Config{
		Workers:       cfg.Scheduler.Workers,
		PollInterval:  cfg.Scheduler.PollInterval(),
		MaxAttempts:   cfg.Scheduler.MaxAttempts,
		RetryBackoff:  cfg.Scheduler.RetryBackoff(),
		Retention:     cfg.Scheduler.Retention(),
		PublishPerSec: cfg.Scheduler.PublishRatePerSec,
		MaxHorizon:    cfg.Scheduler.MaxHorizon(),
	}, log)

	srv := server.NewServer(database, cfg, posts, sched, log)

	if serveWatch {
		if watcher, err := config.NewWatcher(config.UserConfigPath()); err != nil {
			log.Warnw("Config watcher unavailable", "error", err)
		} else {
			watcher.OnReload(func(newCfg *config.Config) error {
				log.Infow("Configuration reloaded; scheduler settings apply on restart")
				return nil
			})
			watcher.Start()
			config.SetGlobalWatcher(watcher)
			defer watcher.Stop()
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed")
	case sig := <-sigChan:
		log.Infow("Shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Server shutdown error", "error", err)
	}

	// Scheduler stops before the deferred database close so in-flight
	// publishes finish against a live handle.
	sched.Stop()
	logger.Sync()

	return nil
}
