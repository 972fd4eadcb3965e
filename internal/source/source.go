// Package source defines the adapter contract for external record feeds and
// the explicit registry of channel adapters.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/model"
)

// Adapter failure taxonomy. Unavailable is transient (network, auth, rate
// limit) and retried by the coordinator; Malformed is permanent for the
// batch and drops the adapter's contribution for this run.
var (
	ErrUnavailable = errors.New("source unavailable")
	ErrMalformed   = errors.New("source malformed")
)

// Unavailable marks err as a transient source failure.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Malformed marks err as an unparseable-payload failure.
func Malformed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// Adapter fetches one batch of raw records from an external channel.
// Records keep their feed order; ordering across channels is unspecified.
type Adapter interface {
	Channel() model.Channel
	Fetch(ctx context.Context, since time.Time, limit int) ([]model.RawRecord, error)
}

// Factory builds an adapter from configuration and a shared HTTP client.
type Factory func(cfg config.SourcesConfig, client *http.Client) Adapter

// Registry returns the full channel table. Adapters are registered here
// explicitly; there is no dynamic discovery.
func Registry() map[model.Channel]Factory {
	return map[model.Channel]Factory{
		model.ChannelGitHub:      func(cfg config.SourcesConfig, c *http.Client) Adapter { return NewGitHub(cfg.GitHubToken, c) },
		model.ChannelHackerNews:  func(_ config.SourcesConfig, c *http.Client) Adapter { return NewHackerNews(c) },
		model.ChannelProductHunt: func(cfg config.SourcesConfig, c *http.Client) Adapter { return NewProductHunt(cfg.ProductHunt, c) },
		model.ChannelHuggingFace: func(_ config.SourcesConfig, c *http.Client) Adapter { return NewHuggingFace(c) },
		model.ChannelArxiv:       func(_ config.SourcesConfig, c *http.Client) Adapter { return NewArxiv(c) },
		model.ChannelRSS:         func(cfg config.SourcesConfig, c *http.Client) Adapter { return NewRSS(cfg.RSSFeeds, c) },
		model.ChannelYC:          func(_ config.SourcesConfig, c *http.Client) Adapter { return NewYC(c) },
	}
}

// getJSON performs a GET and decodes the JSON body into out. Non-2xx
// responses map to Unavailable; decode failures map to Malformed.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "source: build request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return Unavailable(eris.Errorf("status %d from %s", resp.StatusCode, url))
	}

	if err := jsonDecode(resp.Body, out); err != nil {
		return Malformed(err)
	}
	return nil
}
