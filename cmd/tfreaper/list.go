package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/spf13/cobra"
)

var (
	listStatus string
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked projects",
	Args:  cobra.NoArgs,
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
		var projects []*store.Project
		if listStatus != "" {
			projects, err = st.ListProjectsByStatus(ctx, store.ProjectStatus(listStatus))
		} else {
			projects, err = st.ListProjects(ctx)
		}
		if err != nil {
			return err
		}

		if listJSON {
			b, err := json.MarshalIndent(projects, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}

		if len(projects) == 0 {
			fmt.Println("No tracked projects.")
			return nil
		}

		for _, p := range projects {
			fmt.Printf("%s  %-10s  %-24s  %-18s  %s\n",
				p.ID, p.Status, p.Name, deadline(p), p.Path)
		}
		return nil
	},
}

// deadline renders how far away a project's destroy time is; terminal
// projects keep the timestamp for reference.
func deadline(p *store.Project) string {
	switch p.Status {
	case store.StatusDestroyed, store.StatusCancelled, store.StatusFailed:
		return p.DestroyAt.Local().Format("2006-01-02 15:04")
	}

	left := time.Until(p.DestroyAt)
	if left < 0 {
		return "overdue"
	}
	return "in " + left.Round(time.Second).String()
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (active|pending|destroying|destroyed|failed|cancelled)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "JSON output")
}
