package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/model"
)

// completer is the slice of the SDK the scorer calls, extracted so tests can
// stub the completion.
type completer interface {
	complete(ctx context.Context, model string, maxTokens int64, prompt string) (string, error)
}

// Claude scores deals against the scorecard rubric using the Anthropic API.
type Claude struct {
	model     string
	maxTokens int64
	completer completer
	timeout   time.Duration
}

// NewClaude creates the production scorer from configuration.
func NewClaude(cfg config.AnthropicConfig, scoring config.ScoringConfig) *Claude {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	timeout := time.Duration(scoring.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Claude{
		model:     cfg.Model,
		maxTokens: maxTokens,
		completer: &sdkCompleter{client: sdk.NewClient(option.WithAPIKey(cfg.Key))},
		timeout:   timeout,
	}
}

// Score evaluates the deal and returns a validated scorecard. Transport and
// API failures map to ErrUnavailable; unparseable or out-of-range model
// output maps to ErrMalformed.
func (c *Claude) Score(ctx context.Context, d *model.Deal) (*model.Score, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.completer.complete(ctx, c.model, c.maxTokens, buildPrompt(d))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	score, err := parseScorecard(text)
	if err != nil {
		zap.L().Warn("scorer: unusable completion",
			zap.String("identity", d.Identity),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return score, nil
}

type sdkCompleter struct {
	client sdk.Client
}

func (s *sdkCompleter) complete(ctx context.Context, modelID string, maxTokens int64, prompt string) (string, error) {
	msg, err := s.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "scorer: create message")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// scorecardJSON is the model's required output shape.
type scorecardJSON struct {
	ProblemSeverity int      `json:"problem_severity"`
	Differentiation int      `json:"differentiation"`
	Team            int      `json:"team"`
	MarketReadiness int      `json:"market_readiness"`
	TotalScore      *int     `json:"total_score"`
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	RiskFlags       []string `json:"risk_flags"`
}

var fenceRe = regexp.MustCompile("^```(?:json)?\\s*|\\s*```$")

// parseScorecard parses and validates a completion. Markdown fences are
// tolerated; anything else non-JSON, and any dimension outside its bound, is
// rejected so the caller can retry for a fresh completion.
func parseScorecard(text string) (*model.Score, error) {
	text = strings.TrimSpace(text)
	text = fenceRe.ReplaceAllString(text, "")

	var raw scorecardJSON
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, eris.Wrap(err, "scorer: parse scorecard JSON")
	}

	breakdown := model.ScoreBreakdown{
		ProblemSeverity: raw.ProblemSeverity,
		Differentiation: raw.Differentiation,
		Team:            raw.Team,
		MarketReadiness: raw.MarketReadiness,
	}
	if !breakdown.Valid() {
		return nil, eris.Errorf("scorer: dimensions out of range: %+v", breakdown)
	}

	// Penalties may push the reported total below the dimension sum, but it
	// can never exceed it.
	total := breakdown.Total()
	if raw.TotalScore != nil {
		total = *raw.TotalScore
	}
	if total < 0 || total > 100 || total > breakdown.Total() {
		return nil, eris.Errorf("scorer: total %d inconsistent with breakdown sum %d", total, breakdown.Total())
	}

	return &model.Score{
		Total:     total,
		Breakdown: breakdown,
		Summary:   raw.Summary,
		Strengths: capList(raw.Strengths, 3),
		RiskFlags: capList(raw.RiskFlags, 3),
		ScoredAt:  time.Now().UTC(),
	}, nil
}

func capList(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
