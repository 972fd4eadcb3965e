package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to LifecycleState
		ok       bool
	}{
		{StateNew, StateEnriching, true},
		{StateEnriched, StateScoring, true},
		{StateEnriched, StateFilteredOut, true},
		{StateScored, StateDistributed, true},
		{StateScored, StateFilteredOut, true},
		{StateDistributed, StateUnderReview, true},
		{StateDistributed, StatePassed, true},
		{StateUnderReview, StateQueuedOutreach, true},
		{StatePassed, StateArchived, true},

		{StateNew, StateScored, false},
		{StateScoring, StateDistributed, false},
		{StatePassed, StateReadingList, false},
		{StateReadingList, StatePassed, false},
		{StateArchived, StateNew, false},
		{StateFilteredOut, StateDistributed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []LifecycleState{StatePassed, StateArchived, StateFilteredOut} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []LifecycleState{StateNew, StateScored, StateDistributed, StateUnderReview, StateReadingList} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestRequeue_KeepsHistoryClearsVerdict(t *testing.T) {
	now := time.Now().UTC()
	d := &Deal{
		State:            StatePassed,
		Bucket:           BucketHot,
		Score:            &Score{Total: 88},
		NeedsManualScore: true,
		PublishedAt:      &now,
		Sources:          []SourceRef{{Channel: ChannelGitHub, ExternalID: "acme/x"}},
		TriageLog:        []TriageEntry{{EventID: "evt-1"}},
	}
	d.Requeue()

	assert.Equal(t, StateNew, d.State)
	assert.Equal(t, BucketNone, d.Bucket)
	assert.Nil(t, d.Score)
	assert.False(t, d.NeedsManualScore)
	assert.Nil(t, d.PublishedAt)
	assert.Len(t, d.Sources, 1)
	assert.Len(t, d.TriageLog, 1)
}

func TestSetAttribute_EmptyNeverOverwrites(t *testing.T) {
	d := &Deal{}
	now := time.Now().UTC()
	d.SetAttribute("stars", "412", "github_metrics", now)
	d.SetAttribute("stars", "", "github_metrics", now)
	assert.Equal(t, "412", d.Attribute("stars"))
	assert.Equal(t, "", d.Attribute("missing"))
}

func TestHasSource(t *testing.T) {
	d := &Deal{Sources: []SourceRef{{Channel: ChannelGitHub, ExternalID: "acme/x"}}}
	assert.True(t, d.HasSource(ChannelGitHub, "acme/x"))
	assert.False(t, d.HasSource(ChannelGitHub, "acme/y"))
	assert.False(t, d.HasSource(ChannelHackerNews, "acme/x"))
}

func TestLastTriageAt(t *testing.T) {
	d := &Deal{}
	assert.True(t, d.LastTriageAt().IsZero())

	first := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	d.TriageLog = []TriageEntry{{At: first}, {At: last}}
	assert.Equal(t, last, d.LastTriageAt())
}

func TestActionState(t *testing.T) {
	tests := []struct {
		action TriageAction
		state  LifecycleState
		ok     bool
	}{
		{ActionEngage, StateUnderReview, true},
		{ActionReadingList, StateReadingList, true},
		{ActionPass, StatePassed, true},
		{ActionQueueOutreach, StateQueuedOutreach, true},
		{"promote", "", false},
	}
	for _, tt := range tests {
		state, ok := tt.action.ActionState()
		assert.Equal(t, tt.ok, ok, tt.action)
		assert.Equal(t, tt.state, state, tt.action)
	}
}

func TestValidPassReason(t *testing.T) {
	for _, r := range []string{PassReasonWrapper, PassReasonTooEarly, PassReasonNotDifferentiated, PassReasonOther} {
		assert.True(t, ValidPassReason(r), r)
	}
	assert.False(t, ValidPassReason(""))
	assert.False(t, ValidPassReason("meh"))
}

func TestScoreBreakdown(t *testing.T) {
	b := ScoreBreakdown{ProblemSeverity: 25, Differentiation: 20, Team: 18, MarketReadiness: 15}
	assert.Equal(t, 78, b.Total())
	assert.True(t, b.Valid())

	assert.False(t, ScoreBreakdown{ProblemSeverity: 31}.Valid())
	assert.False(t, ScoreBreakdown{Team: -1}.Valid())
	assert.False(t, ScoreBreakdown{MarketReadiness: 21}.Valid())
}
