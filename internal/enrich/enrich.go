// Package enrich augments deals with attributes fetched from external APIs
// before scoring. Enrichment is best effort: a failing enricher is recorded
// on the deal and the remaining enrichers still run.
package enrich

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/model"
)

// Enricher adds attributes to a deal from one external signal source.
// Implementations skip deals their signal does not apply to by returning nil
// without writing anything.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, d *model.Deal) error
}

// Runner executes a fixed enricher sequence against a deal.
type Runner struct {
	enrichers []Enricher
}

// NewRunner builds the default enricher sequence from configuration.
func NewRunner(cfg config.EnrichConfig, githubToken string) *Runner {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	enrichers := []Enricher{
		NewGitHubMetrics(githubToken, client),
		NewWebsite(client),
	}
	if cfg.FundingKey != "" {
		enrichers = append(enrichers, NewFunding(cfg, client))
	}
	return &Runner{enrichers: enrichers}
}

// NewRunnerWith wraps an explicit enricher list, used by tests and the
// pipeline wiring.
func NewRunnerWith(enrichers ...Enricher) *Runner {
	return &Runner{enrichers: enrichers}
}

// Run applies every enricher to the deal. Failures append the enricher name
// to d.EnrichFailures and never abort the pass; only context cancellation
// stops the sequence early.
func (r *Runner) Run(ctx context.Context, d *model.Deal) error {
	for _, e := range r.enrichers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Enrich(ctx, d); err != nil {
			zap.L().Warn("enrich: enricher failed",
				zap.String("enricher", e.Name()),
				zap.String("identity", d.Identity),
				zap.Error(err),
			)
			d.EnrichFailures = appendUnique(d.EnrichFailures, e.Name())
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
