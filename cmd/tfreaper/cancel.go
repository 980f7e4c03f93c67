package main

import (
	"encoding/json"
	"fmt"

	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/spf13/cobra"
)

// cancelCmd persists the terminal cancelled status. A running daemon's armed
// timer fires, re-reads the row and stands down.
var cancelCmd = &cobra.Command{
	Use:   "cancel <path|id>",
	Short: "Cancel a project's scheduled destruction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		case store.StatusDestroyed, store.StatusCancelled:
			return fmt.Errorf("project %s is already %s", p.Name, p.Status)
		case store.StatusDestroying:
			return fmt.Errorf("project %s is being destroyed right now", p.Name)
		}

		status := store.StatusCancelled
		if err := st.UpdateProject(ctx, p.ID, store.ProjectUpdate{Status: &status}); err != nil {
			return err
		}

		detail, _ := json.Marshal(map[string]any{"reason": "cancelled via cli"})
		if err := st.LogEvent(ctx, &store.Event{
			ProjectID: p.ID,
			Type:      store.EventCancelled,
			Detail:    string(detail),
		}); err != nil {
			return err
		}

		fmt.Printf("✅ Cancelled %s (%s)\n", p.Name, p.ID)
		return nil
	},
}
