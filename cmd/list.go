package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

var (
	listStates     []string
	listMinScore   int
	listLimit      int
	listSince      int
	listNeedsScore bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deals from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.DealFilter{
			MinScore: listMinScore,
			Limit:    listLimit,
		}
		for _, s := range listStates {
			filter.States = append(filter.States, model.LifecycleState(s))
		}
		if listNeedsScore {
			filter.States = []model.LifecycleState{model.StateScored}
		}
		if listSince > 0 {
			filter.Since = time.Now().UTC().AddDate(0, 0, -listSince)
		}

		deals, err := st.ListDeals(ctx, filter)
		if err != nil {
			return err
		}
		if listNeedsScore {
			kept := deals[:0]
			for _, d := range deals {
				if d.NeedsManualScore {
					kept = append(kept, d)
				}
			}
			deals = kept
		}
		if len(deals) == 0 {
			fmt.Println("No deals match.")
			return nil
		}

		fmt.Printf("%-36s %-28s %-16s %-6s %s\n", "ID", "NAME", "STATE", "SCORE", "SOURCES")
		for _, d := range deals {
			score := "-"
			if d.Score != nil {
				score = fmt.Sprintf("%d", d.Score.Total)
			}
			fmt.Printf("%-36s %-28s %-16s %-6s %s\n",
				d.ID, truncate(d.Name, 28), d.State, score, sourceList(&d))
		}
		fmt.Printf("\n%d deals\n", len(deals))
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func sourceList(d *model.Deal) string {
	seen := make(map[model.Channel]bool, len(d.Sources))
	var out []string
	for _, s := range d.Sources {
		if seen[s.Channel] {
			continue
		}
		seen[s.Channel] = true
		out = append(out, string(s.Channel))
	}
	return strings.Join(out, ",")
}

func init() {
	listCmd.Flags().StringSliceVar(&listStates, "state", nil, "filter by lifecycle state (repeatable)")
	listCmd.Flags().IntVar(&listMinScore, "min-score", 0, "only deals scoring at or above this")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum deals to print")
	listCmd.Flags().IntVar(&listSince, "days", 0, "only deals updated in the last N days")
	listCmd.Flags().BoolVar(&listNeedsScore, "needs-score", false, "only deals parked for manual scoring")
	rootCmd.AddCommand(listCmd)
}
