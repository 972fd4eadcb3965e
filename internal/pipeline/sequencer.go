// Package pipeline drives deals through the lifecycle: enrichment, the
// funding gate, scoring, threshold bucketing, and distribution. Every state
// transition is committed under the deal's version guard before any side
// effect that depends on it.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/enrich"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/notify"
	"github.com/sells-group/dealflow/internal/resilience"
	"github.com/sells-group/dealflow/internal/scorer"
	"github.com/sells-group/dealflow/internal/store"
)

// conflictRetries bounds how often sequencing one deal restarts after losing
// a version race.
const conflictRetries = 3

// StageCounts tallies where deals ended up after a sequencing pass.
type StageCounts struct {
	Enriched    int `json:"enriched"`
	GatedOut    int `json:"gated_out"`
	Scored      int `json:"scored"`
	Parked      int `json:"parked"`
	FilteredOut int `json:"filtered_out"`
	Distributed int `json:"distributed"`
	Published   int `json:"published"`
	Errors      int `json:"errors"`
}

// Sequencer advances individual deals through the lifecycle.
type Sequencer struct {
	store    store.Store
	enricher *enrich.Runner
	scorer   scorer.Scorer
	sink     notify.Sink
	filter   config.FilterConfig
	backoff  resilience.Policy
}

// NewSequencer wires the sequencing collaborators.
func NewSequencer(st store.Store, enricher *enrich.Runner, sc scorer.Scorer, sink notify.Sink, filter config.FilterConfig, scoring config.ScoringConfig) *Sequencer {
	backoff := resilience.DefaultPolicy(scoring.RetryMax)
	backoff.Retryable = func(err error) bool {
		return errors.Is(err, scorer.ErrUnavailable) || errors.Is(err, scorer.ErrMalformed)
	}
	return &Sequencer{
		store:    st,
		enricher: enricher,
		scorer:   sc,
		sink:     sink,
		filter:   filter,
		backoff:  backoff,
	}
}

// Process drives one deal as far as it can go in this pass. Losing a version
// race re-reads the deal and re-evaluates from its current state, so a
// concurrent writer's decision is never overwritten.
func (s *Sequencer) Process(ctx context.Context, d *model.Deal) (*model.Deal, error) {
	for attempt := 0; ; attempt++ {
		err := s.advance(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= conflictRetries {
			return d, err
		}
		d, err = s.store.GetDeal(ctx, d.ID)
		if err != nil {
			return nil, err
		}
	}
}

// advance runs the deal forward until it parks, terminates, or is published.
func (s *Sequencer) advance(ctx context.Context, d *model.Deal) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch d.State {
		case model.StateNew:
			if err := s.transition(ctx, d, model.StateEnriching); err != nil {
				return err
			}

		case model.StateEnriching:
			if err := s.enricher.Run(ctx, d); err != nil {
				return err
			}
			if err := s.transition(ctx, d, model.StateEnriched); err != nil {
				return err
			}

		case model.StateEnriched:
			// Funding hard gate: over-ceiling deals never reach the scorer.
			if d.FundingAmount != nil && *d.FundingAmount > s.filter.FundingCeiling {
				zap.L().Info("pipeline: funding gate",
					zap.String("identity", d.Identity),
					zap.Float64("funding", *d.FundingAmount),
				)
				return s.transition(ctx, d, model.StateFilteredOut)
			}
			if err := s.transition(ctx, d, model.StateScoring); err != nil {
				return err
			}

		case model.StateScoring:
			if err := s.score(ctx, d); err != nil {
				return err
			}

		case model.StateScored:
			if d.NeedsManualScore {
				return nil
			}
			return s.classify(ctx, d)

		case model.StateDistributed:
			return s.publish(ctx, d)

		default:
			// Triage and terminal states are not the sequencer's to move.
			return nil
		}
	}
}

// score calls the scorer with bounded, backed-off retries. Both unavailable
// and malformed completions retry; exhausting the attempt cap parks the deal
// in StateScored flagged for manual scoring rather than losing it.
func (s *Sequencer) score(ctx context.Context, d *model.Deal) error {
	score, err := resilience.Retry(ctx, s.backoff, "score:"+d.Identity,
		func(ctx context.Context) (*model.Score, error) {
			return s.scorer.Score(ctx, d)
		},
	)
	if err == nil {
		d.Score = score
		d.NeedsManualScore = false
		return s.transition(ctx, d, model.StateScored)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	zap.L().Error("pipeline: scoring exhausted, parking deal",
		zap.String("identity", d.Identity),
		zap.Error(err),
	)
	d.Score = nil
	d.NeedsManualScore = true
	return s.transition(ctx, d, model.StateScored)
}

// classify applies the threshold buckets to a scored deal.
func (s *Sequencer) classify(ctx context.Context, d *model.Deal) error {
	total := d.Score.Total
	switch {
	case total < s.filter.LowThreshold:
		return s.transition(ctx, d, model.StateFilteredOut)
	case total < s.filter.HighThreshold:
		d.Bucket = model.BucketWatch
	default:
		d.Bucket = model.BucketHot
	}
	if err := s.transition(ctx, d, model.StateDistributed); err != nil {
		return err
	}
	return s.publish(ctx, d)
}

// publish delivers the card for a committed distributed deal, then records
// the acknowledgment. Delivery is at most once: a deal whose PublishedAt is
// set is never re-sent, and an ack that loses a version race is dropped
// rather than retried with a second delivery.
func (s *Sequencer) publish(ctx context.Context, d *model.Deal) error {
	if d.PublishedAt != nil {
		return nil
	}

	if err := s.sink.Publish(ctx, d); err != nil {
		return eris.Wrapf(err, "pipeline: publish %s", d.Identity)
	}

	now := time.Now().UTC()
	d.PublishedAt = &now
	if err := s.store.UpdateDeal(ctx, d, d.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			zap.L().Warn("pipeline: publish ack lost version race",
				zap.String("identity", d.Identity),
			)
			return nil
		}
		return err
	}
	return nil
}

// transition validates the lifecycle edge and commits it.
func (s *Sequencer) transition(ctx context.Context, d *model.Deal, next model.LifecycleState) error {
	if !d.State.CanTransition(next) {
		return eris.Errorf("pipeline: illegal transition %s -> %s for %s", d.State, next, d.Identity)
	}
	d.State = next
	return s.store.UpdateDeal(ctx, d, d.Version)
}
