package main

import (
	"fmt"
	"time"

	"github.com/aatumaykin/tfreaper/internal/discovery"
	"github.com/spf13/cobra"
)

// discoverCmd runs one authoritative discovery pass, including the deletion
// sweep, against the configured roots.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery pass and print what changed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		d := discovery.New(discovery.Config{
			Roots:          cfg.Discovery.Roots,
			MaxDepth:       cfg.Discovery.MaxDepth,
			Exclusions:     cfg.Discovery.Exclusions,
			BatchSize:      cfg.Discovery.BatchSize,
			DefaultTimeout: cfg.Discovery.Timeout(),
		}, st, nil, nil, cliLogger(), nil)

		stats, err := d.Discover(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Scanned:  %d directories\n", stats.Scanned)
		fmt.Printf("Found:    %d project files\n", stats.Found)
		fmt.Printf("New:      %d\n", stats.New)
		fmt.Printf("Updated:  %d\n", stats.Updated)
		fmt.Printf("Deleted:  %d\n", stats.Deleted)
		fmt.Printf("Errors:   %d\n", stats.Errors)
		fmt.Printf("Duration: %s\n", stats.Duration.Round(time.Millisecond))
		return nil
	},
}
