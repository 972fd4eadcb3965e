// Package triage applies human review decisions to distributed deals. Events
// arrive at-least-once from the review surface; the engine makes application
// idempotent and serializes racing reviewers through the store's version
// guard.
package triage

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

var (
	// ErrUnknownAction is returned for an event whose action is not in the
	// triage vocabulary.
	ErrUnknownAction = errors.New("unknown triage action")

	// ErrInvalidReason is returned for a pass with an unrecognized reason code.
	ErrInvalidReason = errors.New("invalid pass reason")

	// ErrInvalidState is returned when the deal's current state does not admit
	// the requested action, including events arriving before distribution.
	ErrInvalidState = errors.New("action not allowed in current state")
)

// conflictRetries bounds re-reads when racing another reviewer.
const conflictRetries = 3

// Result reports the outcome of applying one event.
type Result struct {
	Deal      *model.Deal `json:"deal"`
	Duplicate bool        `json:"duplicate"`
	// DraftQueued is set when a queue_outreach event enqueued a new draft.
	DraftQueued bool `json:"draft_queued,omitempty"`
}

// Engine applies triage events against the deal store.
type Engine struct {
	store       store.Store
	templates   *Templates
	gracePeriod time.Duration
}

// NewEngine creates the triage engine. templates may be nil, in which case
// outreach drafts fall back to the built-in default.
func NewEngine(st store.Store, templates *Templates, gracePeriod time.Duration) *Engine {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Engine{store: st, templates: templates, gracePeriod: gracePeriod}
}

// Apply processes one review event. Replays of an already-applied event id
// acknowledge without reapplying; losing a version race re-reads the deal
// and re-evaluates, so exactly one of two racing events wins and the loser
// fails with ErrInvalidState unless its action is still legal. Side effects
// run only after the decision is durably committed.
func (e *Engine) Apply(ctx context.Context, ev model.TriageEvent) (*Result, error) {
	target, ok := ev.Action.ActionState()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownAction, "triage: %q", ev.Action)
	}
	if ev.EventID == "" {
		return nil, eris.New("triage: event id required")
	}
	reason := ev.Reason
	if ev.Action == model.ActionPass {
		if reason == "" {
			reason = model.PassReasonOther
		}
		if !model.ValidPassReason(reason) {
			return nil, eris.Wrapf(ErrInvalidReason, "triage: %q", reason)
		}
	}

	deal, err := e.locate(ctx, ev)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if deal.HasTriageEvent(ev.EventID) {
			return &Result{Deal: deal, Duplicate: true}, nil
		}
		if !deal.State.CanTransition(target) {
			return nil, eris.Wrapf(ErrInvalidState, "triage: %s -> %s", deal.State, target)
		}

		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		deal.TriageLog = append(deal.TriageLog, model.TriageEntry{
			EventID:        ev.EventID,
			Actor:          ev.Actor,
			Action:         ev.Action,
			Reason:         reason,
			ResultingState: target,
			At:             at,
		})
		deal.State = target

		err = e.store.UpdateDeal(ctx, deal, deal.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= conflictRetries {
			return nil, err
		}
		deal, err = e.store.GetDeal(ctx, deal.ID)
		if err != nil {
			return nil, err
		}
	}

	res := &Result{Deal: deal}
	if ev.Action == model.ActionQueueOutreach {
		queued, err := e.enqueueDraft(ctx, deal)
		if err != nil {
			// The decision is committed; the draft can be recreated on replay.
			zap.L().Error("triage: outreach draft not queued",
				zap.String("identity", deal.Identity),
				zap.Error(err),
			)
		}
		res.DraftQueued = queued
	}

	zap.L().Info("triage: event applied",
		zap.String("identity", deal.Identity),
		zap.String("action", string(ev.Action)),
		zap.String("actor", ev.Actor),
		zap.String("state", string(deal.State)),
	)
	return res, nil
}

func (e *Engine) locate(ctx context.Context, ev model.TriageEvent) (*model.Deal, error) {
	if ev.DealID != "" {
		return e.store.GetDeal(ctx, ev.DealID)
	}
	if ev.Identity != "" {
		return e.store.GetDealByIdentity(ctx, ev.Identity)
	}
	return nil, eris.New("triage: event names neither deal id nor identity")
}

// enqueueDraft renders and queues the outreach draft. The queue is unique
// per deal, so replays and duplicate events collapse to one draft.
func (e *Engine) enqueueDraft(ctx context.Context, d *model.Deal) (bool, error) {
	subject, body, err := e.templates.Render(d)
	if err != nil {
		return false, err
	}
	return e.store.EnqueueOutreach(ctx, store.OutreachDraft{
		DealID:  d.ID,
		Subject: subject,
		Body:    body,
	})
}

// SweepArchive moves passed deals whose last review is older than the grace
// period to archived. Racing writers are skipped and picked up next sweep.
func (e *Engine) SweepArchive(ctx context.Context) (int, error) {
	deals, err := e.store.ListDeals(ctx, store.DealFilter{
		States: []model.LifecycleState{model.StatePassed},
		Limit:  1000,
	})
	if err != nil {
		return 0, eris.Wrap(err, "triage: list passed deals")
	}

	now := time.Now().UTC()
	cutoff := now.Add(-e.gracePeriod)
	archived := 0
	for i := range deals {
		d := &deals[i]
		last := d.LastTriageAt()
		if last.IsZero() {
			last = d.UpdatedAt
		}
		if last.After(cutoff) {
			continue
		}

		// The sweep leaves the same audit trail as a reviewer decision.
		d.TriageLog = append(d.TriageLog, model.TriageEntry{
			EventID:        "archive:" + d.ID,
			Actor:          "system",
			Action:         model.ActionArchive,
			ResultingState: model.StateArchived,
			At:             now,
		})
		d.State = model.StateArchived
		if err := e.store.UpdateDeal(ctx, d, d.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return archived, err
		}
		archived++
	}
	return archived, nil
}
