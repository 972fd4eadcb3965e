package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Filter    FilterConfig    `yaml:"filter" mapstructure:"filter"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Triage    TriageConfig    `yaml:"triage" mapstructure:"triage"`
	Slack     SlackConfig     `yaml:"slack" mapstructure:"slack"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourcesConfig configures the ingestion fan-out.
type SourcesConfig struct {
	Enabled      []string           `yaml:"enabled" mapstructure:"enabled"`
	FetchLimit   int                `yaml:"fetch_limit" mapstructure:"fetch_limit"`
	RetryMax     int                `yaml:"retry_max" mapstructure:"retry_max"`
	TimeoutSecs  int                `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec   float64            `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateOverride map[string]float64 `yaml:"rate_override" mapstructure:"rate_override"`
	GitHubToken  string             `yaml:"github_token" mapstructure:"github_token"`
	ProductHunt  string             `yaml:"producthunt_token" mapstructure:"producthunt_token"`
	RSSFeeds     []string           `yaml:"rss_feeds" mapstructure:"rss_feeds"`
}

// EnrichConfig configures the enrichment step.
type EnrichConfig struct {
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FundingBaseURL string `yaml:"funding_base_url" mapstructure:"funding_base_url"`
	FundingKey     string `yaml:"funding_api_key" mapstructure:"funding_api_key"`
}

// ScoringConfig configures the scoring collaborator call.
type ScoringConfig struct {
	RetryMax    int `yaml:"retry_max" mapstructure:"retry_max"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FilterConfig holds the score thresholds and the funding hard gate.
type FilterConfig struct {
	LowThreshold   int     `yaml:"low_threshold" mapstructure:"low_threshold"`
	HighThreshold  int     `yaml:"high_threshold" mapstructure:"high_threshold"`
	FundingCeiling float64 `yaml:"funding_ceiling" mapstructure:"funding_ceiling"`
}

// DedupConfig configures reconciliation of re-surfacing identities.
type DedupConfig struct {
	ReevaluateAfterDays int `yaml:"reevaluate_after_days" mapstructure:"reevaluate_after_days"`
}

// ReevaluateAfter returns the cooldown before an archived or passed identity
// is re-queued on a fresh sighting.
func (d DedupConfig) ReevaluateAfter() time.Duration {
	return time.Duration(d.ReevaluateAfterDays) * 24 * time.Hour
}

// TriageConfig configures the review workflow.
type TriageConfig struct {
	GracePeriodHours int    `yaml:"grace_period_hours" mapstructure:"grace_period_hours"`
	TemplatePath     string `yaml:"template_path" mapstructure:"template_path"`
}

// GracePeriod returns how long a passed deal sits before auto-archival.
func (t TriageConfig) GracePeriod() time.Duration {
	return time.Duration(t.GracePeriodHours) * time.Hour
}

// SlackConfig holds the notification webhook.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// AnthropicConfig holds scoring model settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// RunConfig configures run orchestration.
type RunConfig struct {
	LeaseTTLMins     int `yaml:"lease_ttl_mins" mapstructure:"lease_ttl_mins"`
	IntervalHours    int `yaml:"interval_hours" mapstructure:"interval_hours"`
	MaxConcurrency   int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	DigestWindowDays int `yaml:"digest_window_days" mapstructure:"digest_window_days"`
}

// LeaseTTL returns how long a run lease is held before expiring.
func (r RunConfig) LeaseTTL() time.Duration {
	return time.Duration(r.LeaseTTLMins) * time.Minute
}

// ServerConfig configures the triage event webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "dealflow.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("sources.enabled", []string{"github", "hackernews", "producthunt", "huggingface", "arxiv", "yc"})
	v.SetDefault("sources.fetch_limit", 20)
	v.SetDefault("sources.retry_max", 3)
	v.SetDefault("sources.timeout_secs", 30)
	v.SetDefault("sources.rate_per_sec", 2.0)
	v.SetDefault("enrich.timeout_secs", 20)
	v.SetDefault("scoring.retry_max", 3)
	v.SetDefault("scoring.timeout_secs", 60)
	v.SetDefault("filter.low_threshold", 75)
	v.SetDefault("filter.high_threshold", 85)
	v.SetDefault("filter.funding_ceiling", 5_000_000)
	v.SetDefault("dedup.reevaluate_after_days", 90)
	v.SetDefault("triage.grace_period_hours", 72)
	v.SetDefault("triage.template_path", "outreach.yaml")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)

	// Secrets have no file defaults but must be registered for env binding.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("slack.webhook_url", "")
	v.SetDefault("sources.github_token", "")
	v.SetDefault("sources.producthunt_token", "")
	v.SetDefault("enrich.funding_api_key", "")
	v.SetDefault("run.lease_ttl_mins", 30)
	v.SetDefault("run.interval_hours", 6)
	v.SetDefault("run.max_concurrency", 4)
	v.SetDefault("run.digest_window_days", 7)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
