package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/source"
)

func TestNew_UnknownChannelRejected(t *testing.T) {
	_, err := New(config.SourcesConfig{Enabled: []string{"github", "myspace"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "myspace")
}

func TestNew_BuildsOneAdapterPerEnabledChannel(t *testing.T) {
	co, err := New(config.SourcesConfig{Enabled: []string{"github", "hackernews", "yc"}})
	require.NoError(t, err)
	require.Len(t, co.Adapters(), 3)
	assert.Equal(t, model.ChannelGitHub, co.Adapters()[0].Channel())
}

func TestFetch_NoChannelsEnabled(t *testing.T) {
	co, err := New(config.SourcesConfig{})
	require.NoError(t, err)

	records, stats := co.Fetch(context.Background(), time.Time{})
	assert.Empty(t, records)
	assert.Empty(t, stats)
}

// fakeAdapter swaps into the coordinator to exercise containment without a
// network.
type fakeAdapter struct {
	ch      model.Channel
	records []model.RawRecord
	err     error
	calls   int
}

func (f *fakeAdapter) Channel() model.Channel { return f.ch }

func (f *fakeAdapter) Fetch(ctx context.Context, since time.Time, limit int) ([]model.RawRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func newTestCoordinator(cfg config.SourcesConfig, adapters ...source.Adapter) *Coordinator {
	return &Coordinator{cfg: cfg, adapters: adapters}
}

func TestFetch_OneFailingChannelDoesNotStarveOthers(t *testing.T) {
	ok := &fakeAdapter{ch: model.ChannelGitHub, records: []model.RawRecord{
		{Channel: model.ChannelGitHub, ExternalID: "acme/copilot", Name: "acme/copilot"},
	}}
	down := &fakeAdapter{ch: model.ChannelHackerNews, err: source.Unavailable(fmt.Errorf("dial tcp: refused"))}

	co := newTestCoordinator(config.SourcesConfig{RetryMax: 2}, ok, down)
	records, stats := co.Fetch(context.Background(), time.Time{})

	require.Len(t, records, 1)
	assert.Equal(t, "acme/copilot", records[0].ExternalID)

	assert.False(t, stats[model.ChannelGitHub].Failed)
	assert.Equal(t, 1, stats[model.ChannelGitHub].Fetched)
	assert.True(t, stats[model.ChannelHackerNews].Failed)
	assert.Equal(t, 0, stats[model.ChannelHackerNews].Fetched)
	// Unavailable is transient: the coordinator retried before giving up.
	assert.Equal(t, 2, down.calls)
}

func TestFetch_MalformedChannelIsNotRetried(t *testing.T) {
	bad := &fakeAdapter{ch: model.ChannelYC, err: source.Malformed(fmt.Errorf("unexpected EOF"))}

	co := newTestCoordinator(config.SourcesConfig{RetryMax: 3}, bad)
	records, stats := co.Fetch(context.Background(), time.Time{})

	assert.Empty(t, records)
	assert.True(t, stats[model.ChannelYC].Failed)
	assert.Equal(t, 1, bad.calls)
}

func TestFetch_FlattensInEnabledOrder(t *testing.T) {
	first := &fakeAdapter{ch: model.ChannelGitHub, records: []model.RawRecord{
		{Channel: model.ChannelGitHub, ExternalID: "a"},
		{Channel: model.ChannelGitHub, ExternalID: "b"},
	}}
	second := &fakeAdapter{ch: model.ChannelYC, records: []model.RawRecord{
		{Channel: model.ChannelYC, ExternalID: "c"},
	}}

	co := newTestCoordinator(config.SourcesConfig{RetryMax: 1}, first, second)
	records, _ := co.Fetch(context.Background(), time.Time{})

	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].ExternalID)
	assert.Equal(t, "b", records[1].ExternalID)
	assert.Equal(t, "c", records[2].ExternalID)
}

func TestLimitedTransport_PacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	client := &http.Client{Transport: &limitedTransport{
		limiter: rate.NewLimiter(rate.Limit(50), 1),
		base:    http.DefaultTransport,
	}}

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	// Burst 1 at 50/s: the second and third requests wait ~20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestLimitedTransport_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := &http.Client{Transport: &limitedTransport{
		limiter: rate.NewLimiter(rate.Limit(0.001), 1),
		base:    http.DefaultTransport,
	}}
	// Drain the burst token.
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	assert.Error(t, err)
}
