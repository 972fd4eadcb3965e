package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/dedup"
	"github.com/sells-group/dealflow/internal/ingest"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// activeStates are the lifecycle states the sequencer still has work in.
var activeStates = []model.LifecycleState{
	model.StateNew, model.StateEnriching, model.StateEnriched,
	model.StateScoring, model.StateScored, model.StateDistributed,
}

// Report summarizes one full ingestion run.
type Report struct {
	StartedAt time.Time                            `json:"started_at"`
	Duration  time.Duration                        `json:"duration"`
	Channels  map[model.Channel]ingest.ChannelStat `json:"channels"`
	Reconcile dedup.Stats                          `json:"reconcile"`
	Stages    StageCounts                          `json:"stages"`
}

// Runner executes complete runs: lease, fetch, reconcile, sequence.
type Runner struct {
	store       store.Store
	coordinator *ingest.Coordinator
	reconciler  *dedup.Reconciler
	sequencer   *Sequencer
	cfg         config.RunConfig
	holder      string
}

// NewRunner wires a run executor. The holder id identifies this process in
// the run lease.
func NewRunner(st store.Store, co *ingest.Coordinator, re *dedup.Reconciler, seq *Sequencer, cfg config.RunConfig) *Runner {
	return &Runner{
		store:       st,
		coordinator: co,
		reconciler:  re,
		sequencer:   seq,
		cfg:         cfg,
		holder:      uuid.New().String(),
	}
}

// Run executes one full pass. Only one run may hold the lease at a time;
// overlapping invocations fail fast with store.ErrLeaseHeld.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	ttl := r.cfg.LeaseTTL()
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if err := r.store.AcquireRunLease(ctx, r.holder, ttl); err != nil {
		return nil, eris.Wrap(err, "pipeline: acquire lease")
	}
	defer func() {
		if err := r.store.ReleaseRunLease(context.WithoutCancel(ctx), r.holder); err != nil {
			zap.L().Warn("pipeline: release lease", zap.Error(err))
		}
	}()

	started := time.Now().UTC()
	report := &Report{StartedAt: started}

	since := started.Add(-r.lookback())
	records, channelStats := r.coordinator.Fetch(ctx, since)
	report.Channels = channelStats
	zap.L().Info("pipeline: fetched", zap.Int("records", len(records)))

	report.Reconcile = r.reconciler.Reconcile(ctx, records)

	stages, err := r.sequenceActive(ctx)
	report.Stages = stages
	report.Duration = time.Since(started)
	if err != nil {
		return report, err
	}

	zap.L().Info("pipeline: run complete",
		zap.Duration("duration", report.Duration),
		zap.Int("created", report.Reconcile.Created),
		zap.Int("distributed", stages.Distributed),
		zap.Int("published", stages.Published),
		zap.Int("errors", stages.Errors),
	)
	return report, nil
}

// sequenceActive drives every deal with pending work, bounded by the run's
// concurrency limit. A deal failing to sequence is counted and skipped.
func (r *Runner) sequenceActive(ctx context.Context) (StageCounts, error) {
	var counts StageCounts

	deals, err := r.store.ListDeals(ctx, store.DealFilter{States: activeStates, Limit: 1000})
	if err != nil {
		return counts, eris.Wrap(err, "pipeline: list active deals")
	}

	concurrency := r.cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range deals {
		deal := deals[i]
		g.Go(func() error {
			done, err := r.sequencer.Process(gCtx, &deal)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				counts.Errors++
				zap.L().Warn("pipeline: deal not sequenced",
					zap.String("identity", deal.Identity),
					zap.Error(err),
				)
				return nil
			}
			tally(&counts, done)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counts, err
	}
	return counts, ctx.Err()
}

func tally(counts *StageCounts, d *model.Deal) {
	switch d.State {
	case model.StateFilteredOut:
		if d.Score == nil {
			counts.GatedOut++
		} else {
			counts.FilteredOut++
		}
	case model.StateScored:
		if d.NeedsManualScore {
			counts.Parked++
		} else {
			counts.Scored++
		}
	case model.StateDistributed:
		counts.Distributed++
		if d.PublishedAt != nil {
			counts.Published++
		}
	case model.StateEnriched:
		counts.Enriched++
	}
}

// lookback is how far back a fetch reaches, sized to overlap the previous
// interval so boundary records are not missed.
func (r *Runner) lookback() time.Duration {
	interval := time.Duration(r.cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return 2 * interval
}
