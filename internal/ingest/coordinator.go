// Package ingest fans a batch fetch out across the enabled source adapters,
// giving each an independent concurrency slot and rate-limit budget so one
// slow or failing channel cannot starve the others.
package ingest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/resilience"
	"github.com/sells-group/dealflow/internal/source"
)

// ChannelStat summarizes one adapter's contribution to a run.
type ChannelStat struct {
	Fetched int    `json:"fetched"`
	Failed  bool   `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// Coordinator runs the enabled adapters for one batch.
type Coordinator struct {
	cfg      config.SourcesConfig
	adapters []source.Adapter
}

// New builds the coordinator, instantiating one adapter per enabled channel
// with its own rate-limited HTTP client. Unknown channel names are rejected.
func New(cfg config.SourcesConfig) (*Coordinator, error) {
	registry := source.Registry()
	adapters := make([]source.Adapter, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		factory, ok := registry[model.Channel(name)]
		if !ok {
			return nil, eris.Errorf("ingest: unknown channel %q", name)
		}

		perSec := cfg.RatePerSec
		if override, ok := cfg.RateOverride[name]; ok {
			perSec = override
		}
		if perSec <= 0 {
			perSec = 2.0
		}

		timeout := time.Duration(cfg.TimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client := &http.Client{
			Timeout: timeout,
			Transport: &limitedTransport{
				limiter: rate.NewLimiter(rate.Limit(perSec), 1),
				base:    http.DefaultTransport,
			},
		}
		adapters = append(adapters, factory(cfg, client))
	}
	return &Coordinator{cfg: cfg, adapters: adapters}, nil
}

// Adapters exposes the built adapters, mainly for tests.
func (c *Coordinator) Adapters() []source.Adapter { return c.adapters }

// Fetch runs every adapter concurrently and returns the flat record batch
// plus per-channel stats. Adapter failures are contained: an unavailable
// source is retried with backoff and then recorded as failed; a malformed
// payload contributes an empty batch. Fetch itself only fails on context
// cancellation.
func (c *Coordinator) Fetch(ctx context.Context, since time.Time) ([]model.RawRecord, map[model.Channel]ChannelStat) {
	var mu sync.Mutex
	batches := make(map[model.Channel][]model.RawRecord, len(c.adapters))
	stats := make(map[model.Channel]ChannelStat, len(c.adapters))

	g, gCtx := errgroup.WithContext(ctx)
	for _, adapter := range c.adapters {
		g.Go(func() error {
			ch := adapter.Channel()
			records, err := resilience.Retry(gCtx,
				resilience.Policy{
					Attempts:  c.cfg.RetryMax,
					Retryable: func(err error) bool { return errors.Is(err, source.ErrUnavailable) },
				},
				"fetch:"+string(ch),
				func(ctx context.Context) ([]model.RawRecord, error) {
					return adapter.Fetch(ctx, since, c.cfg.FetchLimit)
				},
			)

			var stat ChannelStat
			switch {
			case err == nil:
			case errors.Is(err, source.ErrMalformed):
				// Permanent for this batch: contribution is empty.
				zap.L().Warn("ingest: malformed payload, channel skipped",
					zap.String("channel", string(ch)),
					zap.Error(err),
				)
				stat.Failed = true
				stat.Error = err.Error()
				records = nil
			default:
				zap.L().Warn("ingest: channel unavailable after retries",
					zap.String("channel", string(ch)),
					zap.Error(err),
				)
				stat.Failed = true
				stat.Error = err.Error()
				records = nil
			}
			stat.Fetched = len(records)

			mu.Lock()
			batches[ch] = records
			stats[ch] = stat
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Flatten in enabled-channel order: no cross-channel ordering promise,
	// but stable relative order within a channel.
	var out []model.RawRecord
	for _, adapter := range c.adapters {
		out = append(out, batches[adapter.Channel()]...)
	}
	return out, stats
}

// limitedTransport blocks each outbound request on the channel's rate
// limiter, so an adapter's internal pagination is budgeted per request.
type limitedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
