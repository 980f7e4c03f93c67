package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aatumaykin/tfreaper/internal/config"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/aatumaykin/tfreaper/internal/store/sqlite"
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tfreaper",
	Short: "tfreaper - destroy-after scheduler for terraform projects",
	Long: `tfreaper discovers .tfreaper.yml files under configured roots, schedules
each project's destruction, warns before the deadline and runs the destroy
command when it arrives.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to configuration file")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(extendCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// configPath resolves the configuration file location, honoring --config.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// loadConfig loads and fully validates the configuration. Commands that run
// the daemon machinery use it; a broken config must stop them.
func loadConfig() (*config.Config, error) {
	_ = config.LoadEnvOptional(".env")

	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		return nil, fmt.Errorf("configuration has %d problems", len(errs))
	}

	return cfg, nil
}

// loadStateConfig loads the configuration for commands that only touch the
// state database. A missing config file falls back to defaults and validation
// is skipped, so a half-written config does not lock the operator out of
// list/cancel/extend.
func loadStateConfig() (*config.Config, error) {
	_ = config.LoadEnvOptional(".env")

	path := configPath()
	if cfgFile == "" {
		if _, err := os.Stat(path); err != nil {
			return config.Default(), nil
		}
	}

	return config.Load(path)
}

func openStore(cfg *config.Config) (store.Store, error) {
	return sqlite.Open(cfg.Daemon.DatabasePath())
}

// cliLogger returns a quiet text logger for one-shot commands, keeping the
// machinery's chatter off stdout.
func cliLogger() *logger.Logger {
	log, err := logger.New(logger.Config{Level: "warn", Format: "text", Output: "stderr"})
	if err != nil {
		return logger.NewDiscard()
	}
	return log
}

// resolveProject accepts either a project id or a directory path.
func resolveProject(ctx context.Context, st store.Store, ref string) (*store.Project, error) {
	p, err := st.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	abs, err := filepath.Abs(ref)
	if err != nil {
		return nil, err
	}

	p, err = st.GetProjectByPath(ctx, abs)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no project with id or path %q", ref)
	}
	return p, err
}
