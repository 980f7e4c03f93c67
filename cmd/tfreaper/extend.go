package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aatumaykin/tfreaper/internal/duration"
	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/spf13/cobra"
)

var extendBy string

// extendCmd pushes back a project's destroy time. A running daemon defers to
// the new persisted deadline when its stale timer fires.
var extendCmd = &cobra.Command{
	Use:   "extend <path|id>",
	Short: "Push back a project's destroy time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, err := duration.ParseLenient(extendBy)
		if err != nil {
			return fmt.Errorf("invalid --by: %w", err)
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

		ctx := cmd.Context()
		p, err := resolveProject(ctx, st, args[0])
		if err != nil {
			return err
		}

		switch p.Status {
		case store.StatusDestroyed, store.StatusCancelled, store.StatusFailed:
			return fmt.Errorf("cannot extend a %s project", p.Status)
		case store.StatusDestroying:
			return fmt.Errorf("project %s is being destroyed right now", p.Name)
		}

		// An overdue deadline extends from now, not from the missed time.
		base := p.DestroyAt
		if now := time.Now().UTC(); base.Before(now) {
			base = now
		}
		destroyAt := base.Add(by)

		if err := st.UpdateProject(ctx, p.ID, store.ProjectUpdate{DestroyAt: &destroyAt}); err != nil {
			return err
		}

		detail, _ := json.Marshal(map[string]any{
			"by":         by.String(),
			"destroy_at": destroyAt.Format(time.RFC3339),
		})
		if err := st.LogEvent(ctx, &store.Event{
			ProjectID: p.ID,
			Type:      store.EventExtended,
			Detail:    string(detail),
		}); err != nil {
			return err
		}

		fmt.Printf("✅ Extended %s until %s (in %s)\n",
			p.Name,
			destroyAt.Local().Format(time.RFC1123),
			time.Until(destroyAt).Round(time.Second))
		return nil
	},
}

func init() {
	extendCmd.Flags().StringVar(&extendBy, "by", "", "How much longer to keep the project (duration text or milliseconds)")
	_ = extendCmd.MarkFlagRequired("by")
}
