package model

import (
	"time"
)

// LifecycleState represents where a deal sits in the sourcing-to-triage flow.
type LifecycleState string

const (
	StateNew            LifecycleState = "new"
	StateEnriching      LifecycleState = "enriching"
	StateEnriched       LifecycleState = "enriched"
	StateScoring        LifecycleState = "scoring"
	StateScored         LifecycleState = "scored"
	StateFilteredOut    LifecycleState = "filtered_out"
	StateDistributed    LifecycleState = "distributed"
	StateUnderReview    LifecycleState = "under_review"
	StateQueuedOutreach LifecycleState = "queued_outreach"
	StateReadingList    LifecycleState = "reading_list"
	StatePassed         LifecycleState = "passed"
	StateArchived       LifecycleState = "archived"
)

// transitions lists the allowed next states for each lifecycle state.
// Soft-final states (passed, archived) additionally allow re-queueing to
// StateNew via Requeue after the re-evaluation cooldown.
var transitions = map[LifecycleState][]LifecycleState{
	StateNew:         {StateEnriching},
	StateEnriching:   {StateEnriched},
	StateEnriched:    {StateScoring, StateFilteredOut},
	StateScoring:     {StateScored},
	StateScored:      {StateFilteredOut, StateDistributed},
	StateDistributed: {StateUnderReview, StateReadingList, StateQueuedOutreach, StatePassed},
	StateUnderReview: {StateReadingList, StateQueuedOutreach, StatePassed},
	StatePassed:      {StateArchived},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition.
func (s LifecycleState) CanTransition(next LifecycleState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state is soft-final: the deal is retained for
// audit and dedup suppression but takes no further pipeline action.
func (s LifecycleState) Terminal() bool {
	return s == StatePassed || s == StateArchived || s == StateFilteredOut
}

// Bucket classifies a distributed deal by score band.
type Bucket string

const (
	BucketNone  Bucket = ""
	BucketWatch Bucket = "watch"
	BucketHot   Bucket = "hot"
)

// SourceRef records one raw-record sighting of a deal. The set only grows.
type SourceRef struct {
	Channel    Channel   `json:"channel"`
	ExternalID string    `json:"external_id"`
	URL        string    `json:"url,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
}

// Attribute is a single enrichment value tagged with its producer.
type Attribute struct {
	Value     string    `json:"value"`
	Enricher  string    `json:"enricher"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deal is the canonical record for one candidate lead, unique per identity.
type Deal struct {
	ID            string               `json:"id"`
	Identity      string               `json:"identity"`
	Name          string               `json:"name"`
	URL           string               `json:"url,omitempty"`
	Description   string               `json:"description,omitempty"`
	State         LifecycleState       `json:"state"`
	Bucket        Bucket               `json:"bucket,omitempty"`
	FundingAmount *float64             `json:"funding_amount,omitempty"`
	FundingStage  string               `json:"funding_stage,omitempty"`
	Sources       []SourceRef          `json:"sources"`
	Attributes    map[string]Attribute `json:"attributes,omitempty"`
	Score         *Score               `json:"score,omitempty"`

	// NeedsManualScore marks a deal parked in StateScored after the scoring
	// retry cap was exhausted without a valid scorecard.
	NeedsManualScore bool `json:"needs_manual_score,omitempty"`

	// EnrichFailures records enrichers that failed for this deal. Failures
	// degrade attribute completeness but never abort the deal.
	EnrichFailures []string `json:"enrich_failures,omitempty"`

	TriageLog []TriageEntry `json:"triage_log,omitempty"`

	// PublishedAt is the sink delivery acknowledgment. Empty on a deal in
	// StateDistributed means the publish never completed and may be retried.
	PublishedAt *time.Time `json:"published_at,omitempty"`

	// Version increments on every committed mutation; optimistic-concurrency
	// updates compare against it.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSource reports whether the deal already carries a sighting from the
// given channel and external id.
func (d *Deal) HasSource(ch Channel, externalID string) bool {
	for _, s := range d.Sources {
		if s.Channel == ch && s.ExternalID == externalID {
			return true
		}
	}
	return false
}

// SetAttribute writes an enrichment value. A populated attribute is never
// overwritten by an empty value.
func (d *Deal) SetAttribute(name, value, enricher string, at time.Time) {
	if value == "" {
		return
	}
	if d.Attributes == nil {
		d.Attributes = make(map[string]Attribute)
	}
	d.Attributes[name] = Attribute{Value: value, Enricher: enricher, UpdatedAt: at}
}

// Attribute returns the value for name, or "" if unset.
func (d *Deal) Attribute(name string) string {
	return d.Attributes[name].Value
}

// HasTriageEvent reports whether an inbound event id was already applied.
// This is the duplicate-delivery check for the triage engine.
func (d *Deal) HasTriageEvent(eventID string) bool {
	for _, e := range d.TriageLog {
		if e.EventID == eventID {
			return true
		}
	}
	return false
}

// LastTriageAt returns the timestamp of the most recent triage entry, or the
// zero time when the log is empty.
func (d *Deal) LastTriageAt() time.Time {
	if len(d.TriageLog) == 0 {
		return time.Time{}
	}
	return d.TriageLog[len(d.TriageLog)-1].At
}

// Requeue resets a soft-final deal for re-evaluation: state back to new, the
// old score cleared, sources and triage log retained.
func (d *Deal) Requeue() {
	d.State = StateNew
	d.Bucket = BucketNone
	d.Score = nil
	d.NeedsManualScore = false
	d.PublishedAt = nil
}
