package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
)

type stubCompleter struct {
	text string
	err  error
}

func (s *stubCompleter) complete(context.Context, string, int64, string) (string, error) {
	return s.text, s.err
}

func newStubClaude(text string, err error) *Claude {
	return &Claude{
		model:     "claude-sonnet-4-5-20250929",
		maxTokens: 2048,
		completer: &stubCompleter{text: text, err: err},
		timeout:   time.Second,
	}
}

const validScorecard = `{
	"problem_severity": 26,
	"differentiation": 18,
	"team": 20,
	"market_readiness": 14,
	"total_score": 78,
	"summary": "Compliance automation for fintechs.",
	"strengths": ["strong team", "live product"],
	"risk_flags": ["crowded market"]
}`

func testDeal() *model.Deal {
	return &model.Deal{
		Identity:    "acme.example",
		Name:        "Acme",
		URL:         "https://acme.example",
		Description: "compliance automation",
	}
}

func TestClaude_Score_Valid(t *testing.T) {
	c := newStubClaude(validScorecard, nil)

	score, err := c.Score(context.Background(), testDeal())
	require.NoError(t, err)
	assert.Equal(t, 78, score.Total)
	assert.Equal(t, 26, score.Breakdown.ProblemSeverity)
	assert.Equal(t, "Compliance automation for fintechs.", score.Summary)
	assert.Len(t, score.Strengths, 2)
	assert.False(t, score.ScoredAt.IsZero())
}

func TestClaude_Score_MarkdownFencesTolerated(t *testing.T) {
	c := newStubClaude("```json\n"+validScorecard+"\n```", nil)

	score, err := c.Score(context.Background(), testDeal())
	require.NoError(t, err)
	assert.Equal(t, 78, score.Total)
}

func TestClaude_Score_TransportErrorIsUnavailable(t *testing.T) {
	c := newStubClaude("", eris.New("overloaded"))

	_, err := c.Score(context.Background(), testDeal())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClaude_Score_NonJSONIsMalformed(t *testing.T) {
	c := newStubClaude("I would score this startup quite highly because...", nil)

	_, err := c.Score(context.Background(), testDeal())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClaude_Score_OutOfRangeDimensionIsMalformed(t *testing.T) {
	c := newStubClaude(`{
		"problem_severity": 45,
		"differentiation": 10,
		"team": 10,
		"market_readiness": 10,
		"total_score": 75,
		"summary": "x"
	}`, nil)

	_, err := c.Score(context.Background(), testDeal())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClaude_Score_InflatedTotalIsMalformed(t *testing.T) {
	// Reported total above the dimension sum cannot come from the rubric.
	c := newStubClaude(`{
		"problem_severity": 10,
		"differentiation": 10,
		"team": 10,
		"market_readiness": 10,
		"total_score": 95,
		"summary": "x"
	}`, nil)

	_, err := c.Score(context.Background(), testDeal())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseScorecard_PenaltyBelowSumAccepted(t *testing.T) {
	score, err := parseScorecard(`{
		"problem_severity": 26,
		"differentiation": 18,
		"team": 20,
		"market_readiness": 14,
		"total_score": 68,
		"summary": "penalized"
	}`)
	require.NoError(t, err)
	assert.Equal(t, 68, score.Total)
	assert.Equal(t, 78, score.Breakdown.Total())
}

func TestParseScorecard_MissingTotalFallsBackToSum(t *testing.T) {
	score, err := parseScorecard(`{
		"problem_severity": 20,
		"differentiation": 15,
		"team": 15,
		"market_readiness": 10,
		"summary": "no total"
	}`)
	require.NoError(t, err)
	assert.Equal(t, 60, score.Total)
}

func TestBuildPrompt_IncludesSignals(t *testing.T) {
	d := testDeal()
	d.SetAttribute("stars", "420", "github_metrics", time.Now().UTC())
	d.Sources = []model.SourceRef{{Channel: model.ChannelGitHub, URL: "https://github.com/acme/robots"}}

	prompt := buildPrompt(d)
	assert.Contains(t, prompt, "Name: Acme")
	assert.Contains(t, prompt, "stars: 420")
	assert.Contains(t, prompt, "github (https://github.com/acme/robots)")
	assert.Contains(t, prompt, "PROBLEM SEVERITY (30 points)")
}
