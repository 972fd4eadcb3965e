package main

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/pipeline"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full sourcing pass",
	Long:  "Fetches fresh records from every enabled channel, reconciles them into deals, then drives each active deal through enrichment, scoring, filtering, and distribution.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner, err := initRunner(st, runDryRun)
		if err != nil {
			return err
		}

		report, err := runner.Run(ctx)
		if report != nil {
			printReport(report)
		}
		return err
	},
}

func printReport(r *pipeline.Report) {
	fmt.Printf("Run finished in %s\n\n", r.Duration.Round(time.Millisecond))

	channels := make([]string, 0, len(r.Channels))
	for ch := range r.Channels {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)
	for _, ch := range channels {
		stat := r.Channels[model.Channel(ch)]
		if stat.Failed {
			fmt.Printf("  %-14s %4d records (error: %s)\n", ch, stat.Fetched, stat.Error)
			continue
		}
		fmt.Printf("  %-14s %4d records\n", ch, stat.Fetched)
	}

	fmt.Printf("\nReconcile: %d created, %d merged, %d requeued, %d suppressed, %d failed\n",
		r.Reconcile.Created, r.Reconcile.Merged, r.Reconcile.Requeued,
		r.Reconcile.Suppressed, r.Reconcile.Failed)
	fmt.Printf("Stages:    %d scored, %d parked, %d gated, %d filtered, %d distributed (%d published), %d errors\n",
		r.Stages.Scored, r.Stages.Parked, r.Stages.GatedOut,
		r.Stages.FilteredOut, r.Stages.Distributed, r.Stages.Published, r.Stages.Errors)
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print deal cards to stdout instead of posting to Slack")
	rootCmd.AddCommand(runCmd)
}
