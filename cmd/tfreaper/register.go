package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aatumaykin/tfreaper/internal/discovery"
	"github.com/aatumaykin/tfreaper/internal/duration"
	"github.com/aatumaykin/tfreaper/internal/projectfile"
	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/spf13/cobra"
)

var registerTimeout string

// registerCmd represents the register command
var registerCmd = &cobra.Command{
	Use:   "register <path>",
	Short: "Register a single project directory",
	Long: `Register one directory containing a .tfreaper.yml without scanning the
whole tree. --timeout overrides the destroy time computed from the project
file; it accepts duration text ("2h", "30 minutes") or a bare number of
milliseconds.`,
	Args: cobra.ExactArgs(1),
	RunE: registerHandler,
}

func registerHandler(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, projectfile.Filename)); err != nil {
		return fmt.Errorf("%s has no %s: %w", dir, projectfile.Filename, err)
	}

	var override time.Duration
	if registerTimeout != "" {
		override, err = duration.ParseLenient(registerTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
	}

	cfg, err := loadStateConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	d := discovery.New(discovery.Config{
		MaxDepth:       cfg.Discovery.MaxDepth,
		Exclusions:     cfg.Discovery.Exclusions,
		DefaultTimeout: cfg.Discovery.Timeout(),
	}, st, nil, nil, cliLogger(), nil)

	ctx := cmd.Context()
	p, err := d.DiscoverProject(ctx, dir)
	if err != nil {
		return err
	}

	if override > 0 {
		destroyAt := time.Now().Add(override).UTC()
		status := store.StatusActive
		if err := st.UpdateProject(ctx, p.ID, store.ProjectUpdate{
			DestroyAt: &destroyAt,
			Status:    &status,
		}); err != nil {
			return err
		}
		p.DestroyAt = destroyAt
	}

	detail, _ := json.Marshal(map[string]any{
		"source":     "cli",
		"destroy_at": p.DestroyAt.Format(time.RFC3339),
	})
	if err := st.LogEvent(ctx, &store.Event{
		ProjectID: p.ID,
		Type:      store.EventRegistered,
		Detail:    string(detail),
	}); err != nil {
		return err
	}

	fmt.Printf("✅ Registered %s (%s)\n", p.Name, p.ID)
	fmt.Printf("   destroy at %s (in %s)\n",
		p.DestroyAt.Local().Format(time.RFC1123),
		time.Until(p.DestroyAt).Round(time.Second))
	return nil
}

func init() {
	registerCmd.Flags().StringVarP(&registerTimeout, "timeout", "t", "", "Override the destroy timeout (duration text or milliseconds)")
}
