// Package scorer produces the four-dimension investment scorecard for an
// enriched deal via the Anthropic API.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/dealflow/internal/model"
)

// Scorer failure taxonomy. Unavailable failures (network, rate limit,
// overloaded API) are retried by the pipeline; Malformed means the model
// returned an unusable scorecard and a retry gets a fresh completion.
var (
	ErrUnavailable = errors.New("scorer unavailable")
	ErrMalformed   = errors.New("scorer output malformed")
)

// Scorer evaluates one deal and returns its scorecard.
type Scorer interface {
	Score(ctx context.Context, d *model.Deal) (*model.Score, error)
}

// scorecardPrompt is the rubric the model scores against. The output contract
// is strict JSON; parseScorecard rejects anything else.
const scorecardPrompt = `You are a seed-stage VC analyst evaluating Enterprise AI startups. Score 0-100.

IMPORTANT: Be CRITICAL. Average startups should score 50-70. Only exceptional opportunities score >85.

Analyze this startup based on the following weighted rubric:

1. PROBLEM SEVERITY (30 points)
   - 25-30: Mission-critical (compliance, security, fraud prevention, revenue operations).
   - 18-24: High-value efficiency (10x faster workflows, >$100k/year savings).
   - 10-17: Moderate pain point (2-5x improvement, nice-to-have).
   - 0-9: Unclear problem OR consumer-focused.

2. DIFFERENTIATION (25 points)
   - 20-25: Proprietary data/models, unique workflow IP, deep vertical integration.
   - 13-19: Novel application with defensibility (network effects, switching costs).
   - 6-12: Better UX/execution on existing solution.
   - 0-5: Obvious ChatGPT/Claude wrapper, no moat.

3. TEAM (25 points)
   - 20-25: PhD + domain expertise OR previous successful exit OR 10+ years in target vertical.
   - 13-19: Strong senior IC at top companies (5-10 years relevant experience).
   - 6-12: Solid background but first-time founders, junior (<5 years).
   - 0-5: No relevant experience visible.

4. MARKET READINESS (20 points)
   - 16-20: Live product, paying customers, SOC2 started, "Book Demo" CTA.
   - 10-15: Beta with users, testimonials, "Join Beta" or "Request Access".
   - 4-9: Landing page only, "Join Waitlist", vague positioning.
   - 0-3: Blog/concept only, no product.

PENALTIES (Deduct from total score):
- Geographic arbitrage without technical depth: -10
- Buzzword-heavy without substance: -5
- Consumer pivot disguised as enterprise: -15
- No clear ICP (Ideal Customer Profile): -5

--- STARTUP DATA ---

%s
--- END DATA ---

You MUST respond with ONLY a valid JSON object in this exact format (no markdown):
{
  "problem_severity": <int 0-30>,
  "differentiation": <int 0-25>,
  "team": <int 0-25>,
  "market_readiness": <int 0-20>,
  "total_score": <int 0-100>,
  "summary": "<one concise sentence: what they do + for whom>",
  "strengths": ["<strength 1>", "<strength 2>"],
  "risk_flags": ["<risk flag 1>"]
}`

// buildPrompt renders the deal's data section of the scorecard prompt.
func buildPrompt(d *model.Deal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", orNA(d.Name))
	fmt.Fprintf(&b, "Website: %s\n", orNA(d.URL))
	fmt.Fprintf(&b, "Description: %s\n", orNA(d.Description))
	if d.FundingStage != "" {
		fmt.Fprintf(&b, "Funding stage: %s\n", d.FundingStage)
	}

	b.WriteString("\nSightings:\n")
	for _, s := range d.Sources {
		fmt.Fprintf(&b, "- %s (%s)\n", s.Channel, orNA(s.URL))
	}

	if len(d.Attributes) > 0 {
		b.WriteString("\nSignals:\n")
		keys := make([]string, 0, len(d.Attributes))
		for k := range d.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, d.Attributes[k].Value)
		}
	}
	return fmt.Sprintf(scorecardPrompt, b.String())
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
