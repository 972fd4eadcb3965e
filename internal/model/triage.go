package model

import "time"

// TriageAction is a human review decision arriving as an external event.
type TriageAction string

const (
	ActionEngage        TriageAction = "engage"
	ActionReadingList   TriageAction = "reading_list"
	ActionPass          TriageAction = "pass"
	ActionQueueOutreach TriageAction = "queue_outreach"

	// ActionArchive is recorded by the automatic sweep, never accepted from
	// inbound events, so ActionState does not map it.
	ActionArchive TriageAction = "archive"
)

// ActionState maps a triage action to the lifecycle state it produces.
func (a TriageAction) ActionState() (LifecycleState, bool) {
	switch a {
	case ActionEngage:
		return StateUnderReview, true
	case ActionReadingList:
		return StateReadingList, true
	case ActionPass:
		return StatePassed, true
	case ActionQueueOutreach:
		return StateQueuedOutreach, true
	}
	return "", false
}

// PassReason codes for a pass decision.
const (
	PassReasonWrapper           = "wrapper"
	PassReasonTooEarly          = "too_early"
	PassReasonNotDifferentiated = "not_differentiated"
	PassReasonOther             = "other"
)

// ValidPassReason reports whether the reason code is known.
func ValidPassReason(r string) bool {
	switch r {
	case PassReasonWrapper, PassReasonTooEarly, PassReasonNotDifferentiated, PassReasonOther:
		return true
	}
	return false
}

// TriageEntry is one committed review decision. The log is append-only; the
// event id doubles as the replay-detection key.
type TriageEntry struct {
	EventID        string         `json:"event_id"`
	Actor          string         `json:"actor"`
	Action         TriageAction   `json:"action"`
	Reason         string         `json:"reason,omitempty"`
	ResultingState LifecycleState `json:"resulting_state"`
	At             time.Time      `json:"at"`
}

// TriageEvent is an inbound, possibly-duplicated review event. Either DealID
// or Identity locates the deal.
type TriageEvent struct {
	EventID   string       `json:"event_id"`
	DealID    string       `json:"deal_id,omitempty"`
	Identity  string       `json:"identity,omitempty"`
	Action    TriageAction `json:"action"`
	Actor     string       `json:"actor"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
