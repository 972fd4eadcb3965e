package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/dedup"
	"github.com/sells-group/dealflow/internal/enrich"
	"github.com/sells-group/dealflow/internal/ingest"
	"github.com/sells-group/dealflow/internal/notify"
	"github.com/sells-group/dealflow/internal/pipeline"
	"github.com/sells-group/dealflow/internal/scorer"
	"github.com/sells-group/dealflow/internal/store"
	"github.com/sells-group/dealflow/internal/triage"
)

func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "dealflow.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initSink selects the notification sink; without a webhook the run degrades
// to printing cards.
func initSink(dryRun bool) notify.Sink {
	if dryRun || cfg.Slack.WebhookURL == "" {
		return notify.NewStdoutSink()
	}
	return notify.NewSlackSink(cfg.Slack.WebhookURL)
}

func initRunner(st store.Store, dryRun bool) (*pipeline.Runner, error) {
	co, err := ingest.New(cfg.Sources)
	if err != nil {
		return nil, err
	}
	seq := pipeline.NewSequencer(
		st,
		enrich.NewRunner(cfg.Enrich, cfg.Sources.GitHubToken),
		scorer.NewClaude(cfg.Anthropic, cfg.Scoring),
		initSink(dryRun),
		cfg.Filter,
		cfg.Scoring,
	)
	re := dedup.NewReconciler(st, cfg.Dedup.ReevaluateAfter())
	return pipeline.NewRunner(st, co, re, seq, cfg.Run), nil
}

func initTriage(st store.Store) (*triage.Engine, error) {
	var templates *triage.Templates
	if cfg.Triage.TemplatePath != "" {
		t, err := triage.LoadTemplates(cfg.Triage.TemplatePath)
		if err != nil {
			if !os.IsNotExist(eris.Cause(err)) {
				return nil, err
			}
			zap.L().Info("outreach template not found, using built-in default",
				zap.String("path", cfg.Triage.TemplatePath),
			)
		} else {
			templates = t
		}
	}
	return triage.NewEngine(st, templates, cfg.Triage.GracePeriod()), nil
}
