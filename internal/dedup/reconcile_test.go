package dedup

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func record(ch model.Channel, externalID, name, url string) model.RawRecord {
	return model.RawRecord{
		Channel:    ch,
		ExternalID: externalID,
		Name:       name,
		URL:        url,
		FetchedAt:  time.Now().UTC(),
	}
}

func TestReconcile_CreatesNewDeal(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, 90*24*time.Hour)

	stats := r.Reconcile(context.Background(), []model.RawRecord{
		record(model.ChannelHackerNews, "hn-1", "Acme", "https://acme.example"),
	})
	assert.Equal(t, 1, stats.Created)

	d, err := st.GetDealByIdentity(context.Background(), "acme.example")
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, d.State)
	require.Len(t, d.Sources, 1)
}

func TestReconcile_MergesCrossChannelSightings(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, 90*24*time.Hour)
	ctx := context.Background()

	stats := r.Reconcile(ctx, []model.RawRecord{
		record(model.ChannelHackerNews, "hn-1", "Acme", "https://acme.example"),
		record(model.ChannelProductHunt, "ph-9", "Acme Robotics", "https://www.acme.example/"),
	})
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Merged)

	d, err := st.GetDealByIdentity(ctx, "acme.example")
	require.NoError(t, err)
	require.Len(t, d.Sources, 2)
	assert.True(t, d.HasSource(model.ChannelHackerNews, "hn-1"))
	assert.True(t, d.HasSource(model.ChannelProductHunt, "ph-9"))
	// First sighting's name wins; merge never replaces populated fields.
	assert.Equal(t, "Acme", d.Name)
	assert.Equal(t, int64(2), d.Version)
}

func TestReconcile_RepeatSightingIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, 90*24*time.Hour)
	ctx := context.Background()

	rec := record(model.ChannelHackerNews, "hn-1", "Acme", "https://acme.example")
	r.Reconcile(ctx, []model.RawRecord{rec})
	r.Reconcile(ctx, []model.RawRecord{rec})

	d, err := st.GetDealByIdentity(ctx, "acme.example")
	require.NoError(t, err)
	require.Len(t, d.Sources, 1)
}

func TestReconcile_TextBecomesAttributes(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, 90*24*time.Hour)
	ctx := context.Background()

	rec := record(model.ChannelGitHub, "acme/robots", "Acme", "https://acme.example")
	rec.Text = map[string]string{"language": "Go"}
	rec.Numeric = map[string]float64{"stars": 420}
	r.Reconcile(ctx, []model.RawRecord{rec})

	d, err := st.GetDealByIdentity(ctx, "acme.example")
	require.NoError(t, err)
	assert.Equal(t, "Go", d.Attribute("language"))
	assert.Equal(t, "420", d.Attribute("stars"))
	assert.Equal(t, "source:github", d.Attributes["stars"].Enricher)
}

func TestReconcile_SuppressedInsideCooldown(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, 90*24*time.Hour)
	ctx := context.Background()

	r.Reconcile(ctx, []model.RawRecord{
		record(model.ChannelHackerNews, "hn-1", "Acme", "https://acme.example"),
	})
	d, err := st.GetDealByIdentity(ctx, "acme.example")
	require.NoError(t, err)
	d.State = model.StatePassed
	require.NoError(t, st.UpdateDeal(ctx, d, d.Version))

	stats := r.Reconcile(ctx, []model.RawRecord{
		record(model.ChannelProductHunt, "ph-2", "Acme", "https://acme.example"),
	})
	assert.Equal(t, 1, stats.Suppressed)

	d, err = st.GetDealByIdentity(ctx, "acme.example")
	require.NoError(t, err)
	assert.Equal(t, model.StatePassed, d.State)
}

func TestReconcile_RequeuesAfterCooldown(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, time.Nanosecond)
	ctx := context.Background()

	r.Reconcile(ctx, []model.RawRecord{
		record(model.ChannelHackerNews, "hn-1", "Acme", "https://acme.example"),
	})
	d, err := st.GetDealByIdentity(ctx, "acme.example")
	require.NoError(t, err)
	d.State = model.StatePassed
	d.Score = &model.Score{Total: 80, ScoredAt: time.Now().UTC()}
	require.NoError(t, st.UpdateDeal(ctx, d, d.Version))

	fresh := record(model.ChannelProductHunt, "ph-2", "Acme", "https://acme.example")
	fresh.FetchedAt = time.Now().UTC().Add(time.Hour)
	stats := r.Reconcile(ctx, []model.RawRecord{fresh})
	assert.Equal(t, 1, stats.Requeued)

	d, err = st.GetDealByIdentity(ctx, "acme.example")
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, d.State)
	assert.Nil(t, d.Score)
	// History survives the re-queue.
	require.Len(t, d.Sources, 2)
}

func TestReconcile_SkipsEmptyRecords(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, 90*24*time.Hour)

	stats := r.Reconcile(context.Background(), []model.RawRecord{
		{Channel: model.ChannelRSS, ExternalID: "x"},
	})
	assert.Equal(t, Stats{}, stats)
}

func TestReconcile_ReleasesIdentityLocks(t *testing.T) {
	st := newTestStore(t)
	r := NewReconciler(st, 90*24*time.Hour)

	records := make([]model.RawRecord, 0, 50)
	for i := 0; i < 50; i++ {
		id := strconv.Itoa(i)
		records = append(records,
			record(model.ChannelHackerNews, "hn-"+id, "Acme "+id, "https://acme"+id+".example"))
	}
	stats := r.Reconcile(context.Background(), records)
	require.Equal(t, 50, stats.Created)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.locks)
}
