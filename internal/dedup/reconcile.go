package dedup

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// conflictRetries bounds how often a single record merge retries after losing
// a version race before giving up on this batch.
const conflictRetries = 3

// Stats summarizes one reconcile pass.
type Stats struct {
	Created    int `json:"created"`
	Merged     int `json:"merged"`
	Requeued   int `json:"requeued"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

// Reconciler folds raw records into canonical deals. A per-identity mutex
// serializes writers within this process; the store's identity constraint and
// version guard cover concurrent processes.
type Reconciler struct {
	store    store.Store
	cooldown time.Duration

	mu    sync.Mutex
	locks map[string]*identityLock
}

// identityLock is refcounted so the map entry is evicted once the last
// holder releases it, keeping the map bounded by in-flight identities.
type identityLock struct {
	mu   sync.Mutex
	refs int
}

// NewReconciler creates a reconciler. cooldown is how long a soft-final deal
// suppresses fresh sightings before a new one re-queues it for evaluation.
func NewReconciler(st store.Store, cooldown time.Duration) *Reconciler {
	return &Reconciler{
		store:    st,
		cooldown: cooldown,
		locks:    make(map[string]*identityLock),
	}
}

// Reconcile merges the batch into the deal store record by record. A failing
// record never aborts the batch.
func (r *Reconciler) Reconcile(ctx context.Context, records []model.RawRecord) Stats {
	var stats Stats
	for _, rec := range records {
		if rec.Name == "" && rec.URL == "" {
			continue
		}
		outcome, err := r.reconcileOne(ctx, rec)
		if err != nil {
			stats.Failed++
			zap.L().Warn("dedup: record not reconciled",
				zap.String("channel", string(rec.Channel)),
				zap.String("external_id", rec.ExternalID),
				zap.Error(err),
			)
			continue
		}
		switch outcome {
		case outcomeCreated:
			stats.Created++
		case outcomeMerged:
			stats.Merged++
		case outcomeRequeued:
			stats.Requeued++
		case outcomeSuppressed:
			stats.Suppressed++
		}
	}
	return stats
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeMerged
	outcomeRequeued
	outcomeSuppressed
)

func (r *Reconciler) reconcileOne(ctx context.Context, rec model.RawRecord) (outcome, error) {
	identity := Canonicalize(rec)

	unlock := r.lockIdentity(identity)
	defer unlock()

	candidate := dealFromRecord(identity, rec)
	deal, created, err := r.store.CreateDealIfAbsent(ctx, candidate)
	if err != nil {
		return 0, err
	}
	if created {
		return outcomeCreated, nil
	}

	for attempt := 0; attempt <= conflictRetries; attempt++ {
		out, dirty := mergeRecord(deal, rec, r.cooldown)
		if !dirty {
			return out, nil
		}

		err = r.store.UpdateDeal(ctx, deal, deal.Version)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return 0, err
		}
		deal, err = r.store.GetDealByIdentity(ctx, identity)
		if err != nil {
			return 0, err
		}
	}
	return 0, eris.Wrapf(store.ErrVersionConflict, "dedup: merge %s", identity)
}

func (r *Reconciler) lockIdentity(identity string) (unlock func()) {
	r.mu.Lock()
	lock, ok := r.locks[identity]
	if !ok {
		lock = &identityLock{}
		r.locks[identity] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, identity)
		}
		r.mu.Unlock()
	}
}

// dealFromRecord builds the initial deal for a never-before-seen identity.
func dealFromRecord(identity string, rec model.RawRecord) *model.Deal {
	d := &model.Deal{
		Identity:    identity,
		Name:        rec.Name,
		URL:         rec.URL,
		Description: rec.Description,
		State:       model.StateNew,
		Sources: []model.SourceRef{{
			Channel:    rec.Channel,
			ExternalID: rec.ExternalID,
			URL:        rec.URL,
			FirstSeen:  rec.FetchedAt,
		}},
	}
	applyRecordAttributes(d, rec)
	return d
}

// mergeRecord folds a sighting into an existing deal. The merge is additive:
// sources only grow, attributes fill gaps, populated fields are never
// replaced by empty ones. Soft-final deals inside the cooldown window only
// record the sighting; past it a new sighting re-queues them for a fresh
// evaluation. dirty reports whether the deal changed and needs committing.
func mergeRecord(d *model.Deal, rec model.RawRecord, cooldown time.Duration) (out outcome, dirty bool) {
	newSighting := !d.HasSource(rec.Channel, rec.ExternalID)
	if newSighting {
		d.Sources = append(d.Sources, model.SourceRef{
			Channel:    rec.Channel,
			ExternalID: rec.ExternalID,
			URL:        rec.URL,
			FirstSeen:  rec.FetchedAt,
		})
	}

	if d.State.Terminal() {
		since := d.LastTriageAt()
		if since.IsZero() {
			since = d.UpdatedAt
		}
		if !newSighting || rec.FetchedAt.Sub(since) < cooldown {
			return outcomeSuppressed, newSighting
		}
		fillEmptyFields(d, rec)
		applyRecordAttributes(d, rec)
		d.Requeue()
		return outcomeRequeued, true
	}

	fillEmptyFields(d, rec)
	applyRecordAttributes(d, rec)
	return outcomeMerged, true
}

func fillEmptyFields(d *model.Deal, rec model.RawRecord) {
	if d.Name == "" {
		d.Name = rec.Name
	}
	if d.URL == "" {
		d.URL = rec.URL
	}
	if d.Description == "" {
		d.Description = rec.Description
	}
}

func applyRecordAttributes(d *model.Deal, rec model.RawRecord) {
	enricher := "source:" + string(rec.Channel)
	for k, v := range rec.Text {
		d.SetAttribute(k, v, enricher, rec.FetchedAt)
	}
	for k, v := range rec.Numeric {
		d.SetAttribute(k, strconv.FormatFloat(v, 'f', -1, 64), enricher, rec.FetchedAt)
	}
}
