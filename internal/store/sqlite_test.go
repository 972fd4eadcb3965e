package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestDeal(identity string) *model.Deal {
	return &model.Deal{
		Identity:    identity,
		Name:        "Acme Robotics",
		URL:         "https://acme.example",
		Description: "warehouse robots",
		State:       model.StateNew,
		Sources: []model.SourceRef{
			{Channel: model.ChannelGitHub, ExternalID: "acme/robots", FirstSeen: time.Now().UTC()},
		},
	}
}

// --- CreateDealIfAbsent ---

func TestSQLite_CreateDealIfAbsent_New(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d, created, err := st.CreateDealIfAbsent(ctx, newTestDeal("acme.example"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, int64(1), d.Version)
}

func TestSQLite_CreateDealIfAbsent_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, created, err := st.CreateDealIfAbsent(ctx, newTestDeal("acme.example"))
	require.NoError(t, err)
	require.True(t, created)

	second := newTestDeal("acme.example")
	second.Name = "Acme Robotics Inc"
	got, created, err := st.CreateDealIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Acme Robotics", got.Name) // existing row wins
}

// --- Get ---

func TestSQLite_GetDeal_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetDeal(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_GetDealByIdentity_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	in := newTestDeal("acme.example")
	funding := 2_500_000.0
	in.FundingAmount = &funding
	in.SetAttribute("team_size", "12", "website", time.Now().UTC())

	_, _, err := st.CreateDealIfAbsent(ctx, in)
	require.NoError(t, err)

	got, err := st.GetDealByIdentity(ctx, "acme.example")
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, model.StateNew, got.State)
	require.NotNil(t, got.FundingAmount)
	assert.Equal(t, 2_500_000.0, *got.FundingAmount)
	assert.Equal(t, "12", got.Attribute("team_size"))
	require.Len(t, got.Sources, 1)
	assert.Equal(t, model.ChannelGitHub, got.Sources[0].Channel)
}

// --- UpdateDeal / version guard ---

func TestSQLite_UpdateDeal_BumpsVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d, _, err := st.CreateDealIfAbsent(ctx, newTestDeal("acme.example"))
	require.NoError(t, err)

	d.State = model.StateEnriching
	require.NoError(t, st.UpdateDeal(ctx, d, 1))
	assert.Equal(t, int64(2), d.Version)

	got, err := st.GetDeal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnriching, got.State)
	assert.Equal(t, int64(2), got.Version)
}

func TestSQLite_UpdateDeal_VersionConflict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d, _, err := st.CreateDealIfAbsent(ctx, newTestDeal("acme.example"))
	require.NoError(t, err)

	d.State = model.StateEnriching
	require.NoError(t, st.UpdateDeal(ctx, d, 1))

	// A second writer still holding version 1 must lose.
	stale := newTestDeal("acme.example")
	stale.ID = d.ID
	stale.State = model.StateEnriching
	err = st.UpdateDeal(ctx, stale, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSQLite_UpdateDeal_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	d := newTestDeal("ghost.example")
	d.ID = "no-such-id"
	err := st.UpdateDeal(context.Background(), d, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpdateDeal_AppendsTriageLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d, _, err := st.CreateDealIfAbsent(ctx, newTestDeal("acme.example"))
	require.NoError(t, err)

	d.State = model.StateUnderReview
	d.TriageLog = append(d.TriageLog, model.TriageEntry{
		EventID:        "evt-1",
		Actor:          "ana",
		Action:         model.ActionEngage,
		ResultingState: model.StateUnderReview,
		At:             time.Now().UTC(),
	})
	require.NoError(t, st.UpdateDeal(ctx, d, 1))

	// Committing the same log again must not duplicate entries.
	d.State = model.StatePassed
	d.TriageLog = append(d.TriageLog, model.TriageEntry{
		EventID:        "evt-2",
		Actor:          "ana",
		Action:         model.ActionPass,
		Reason:         model.PassReasonTooEarly,
		ResultingState: model.StatePassed,
		At:             time.Now().UTC(),
	})
	require.NoError(t, st.UpdateDeal(ctx, d, 2))

	got, err := st.GetDeal(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got.TriageLog, 2)
	assert.Equal(t, "evt-1", got.TriageLog[0].EventID)
	assert.Equal(t, "evt-2", got.TriageLog[1].EventID)
	assert.Equal(t, model.PassReasonTooEarly, got.TriageLog[1].Reason)
}

// --- ListDeals ---

func TestSQLite_ListDeals_OrderAndFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	mkScored := func(identity string, total int) {
		d := newTestDeal(identity)
		d.State = model.StateScored
		_, _, err := st.CreateDealIfAbsent(ctx, d)
		require.NoError(t, err)
		d.Score = &model.Score{
			Total:    total,
			ScoredAt: time.Now().UTC(),
		}
		require.NoError(t, st.UpdateDeal(ctx, d, 1))
	}
	mkScored("low.example", 60)
	mkScored("high.example", 90)
	mkScored("mid.example", 78)

	unscored := newTestDeal("new.example")
	_, _, err := st.CreateDealIfAbsent(ctx, unscored)
	require.NoError(t, err)

	deals, err := st.ListDeals(ctx, DealFilter{States: []model.LifecycleState{model.StateScored}})
	require.NoError(t, err)
	require.Len(t, deals, 3)
	assert.Equal(t, "high.example", deals[0].Identity)
	assert.Equal(t, "mid.example", deals[1].Identity)
	assert.Equal(t, "low.example", deals[2].Identity)

	deals, err = st.ListDeals(ctx, DealFilter{MinScore: 75})
	require.NoError(t, err)
	require.Len(t, deals, 2)

	all, err := st.ListDeals(ctx, DealFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	// Unscored deals sort last.
	assert.Equal(t, "new.example", all[3].Identity)
}

// --- Run lease ---

func TestSQLite_RunLease_Exclusive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AcquireRunLease(ctx, "runner-a", time.Minute))
	assert.ErrorIs(t, st.AcquireRunLease(ctx, "runner-b", time.Minute), ErrLeaseHeld)

	// The holder can renew its own lease.
	require.NoError(t, st.AcquireRunLease(ctx, "runner-a", time.Minute))

	require.NoError(t, st.ReleaseRunLease(ctx, "runner-a"))
	require.NoError(t, st.AcquireRunLease(ctx, "runner-b", time.Minute))
}

func TestSQLite_RunLease_ExpiredIsStealable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AcquireRunLease(ctx, "runner-a", -time.Second))
	require.NoError(t, st.AcquireRunLease(ctx, "runner-b", time.Minute))
}

// --- Outreach queue ---

func TestSQLite_EnqueueOutreach_OncePerDeal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d, _, err := st.CreateDealIfAbsent(ctx, newTestDeal("acme.example"))
	require.NoError(t, err)

	created, err := st.EnqueueOutreach(ctx, OutreachDraft{
		DealID:  d.ID,
		Subject: "Intro",
		Body:    "Hi there",
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.EnqueueOutreach(ctx, OutreachDraft{
		DealID:  d.ID,
		Subject: "Intro again",
		Body:    "Hi again",
	})
	require.NoError(t, err)
	assert.False(t, created)

	drafts, err := st.ListOutreach(ctx, 10)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Intro", drafts[0].Subject)
}
