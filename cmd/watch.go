package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/pipeline"
	"github.com/sells-group/dealflow/internal/store"
	"github.com/sells-group/dealflow/internal/triage"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run continuously on the configured interval",
	Long:  "Executes a sourcing pass every run.interval_hours, sweeping stale passed deals to archived between passes. Stops cleanly on SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner, err := initRunner(st, false)
		if err != nil {
			return err
		}
		engine, err := initTriage(st)
		if err != nil {
			return err
		}

		interval := time.Duration(cfg.Run.IntervalHours) * time.Hour
		if interval <= 0 {
			interval = 6 * time.Hour
		}
		zap.L().Info("watch: started", zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			cycle(ctx, runner, engine)

			select {
			case <-ctx.Done():
				zap.L().Info("watch: shutting down")
				return nil
			case <-ticker.C:
			}
		}
	},
}

// cycle runs one pass plus the archival sweep. A pass losing the lease to a
// concurrent run is normal and waits for the next tick; other errors are
// logged and the loop keeps going.
func cycle(ctx context.Context, runner *pipeline.Runner, engine *triage.Engine) {
	report, err := runner.Run(ctx)
	switch {
	case err == nil:
		zap.L().Info("watch: pass complete",
			zap.Int("created", report.Reconcile.Created),
			zap.Int("distributed", report.Stages.Distributed),
		)
	case errors.Is(err, store.ErrLeaseHeld):
		zap.L().Info("watch: another run holds the lease, skipping pass")
	case ctx.Err() != nil:
		return
	default:
		zap.L().Error("watch: pass failed", zap.Error(err))
	}

	archived, err := engine.SweepArchive(ctx)
	if err != nil {
		if ctx.Err() == nil {
			zap.L().Error("watch: archive sweep failed", zap.Error(err))
		}
		return
	}
	if archived > 0 {
		zap.L().Info("watch: archived stale passes", zap.Int("count", archived))
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
