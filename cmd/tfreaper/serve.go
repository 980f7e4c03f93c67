package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aatumaykin/tfreaper/internal/app"
	"github.com/aatumaykin/tfreaper/internal/config"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/version"
	"github.com/spf13/cobra"
)

var serveLogLevel string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tfreaper daemon (main command)",
	Long: `Run the daemon: discovery, file watching, periodic rescans, scheduled
destruction with warnings and retries, notifications, retention sweeps and
the metrics endpoint. Handles graceful shutdown on SIGINT/SIGTERM.`,
	Run: serveHandler,
}

func serveHandler(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override log level if flag is set
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info(version.FormatStartupMessage(),
		logger.Field{Key: "config", Value: configPath()},
		logger.Field{Key: "state_dir", Value: cfg.Daemon.StateDir},
		logger.Field{Key: "telegram", Value: cfg.Telegram.Enabled},
		logger.Field{Key: "docker", Value: cfg.Docker.Enabled},
		logger.Field{Key: "token", Value: config.MaskTelegramToken(cfg.Telegram.Token)},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", logger.Field{Key: "signal", Value: sig.String()})
		cancel()
	}()

	if err := app.New(cfg, log).Run(ctx); err != nil {
		log.Error("daemon failed", err)
		os.Exit(1)
	}
}

func init() {
	serveCmd.Flags().StringVarP(&serveLogLevel, "log-level", "l", "", "Override log level (debug, info, warn, error)")
}
