package model

import "time"

// ScoreBreakdown holds the four scorecard dimensions. The maxima sum to 100.
type ScoreBreakdown struct {
	ProblemSeverity int `json:"problem_severity"` // 0-30
	Differentiation int `json:"differentiation"`  // 0-25
	Team            int `json:"team"`             // 0-25
	MarketReadiness int `json:"market_readiness"` // 0-20
}

// Total sums the dimension sub-scores.
func (b ScoreBreakdown) Total() int {
	return b.ProblemSeverity + b.Differentiation + b.Team + b.MarketReadiness
}

// Valid reports whether every dimension is within its scorecard bound.
func (b ScoreBreakdown) Valid() bool {
	return b.ProblemSeverity >= 0 && b.ProblemSeverity <= 30 &&
		b.Differentiation >= 0 && b.Differentiation <= 25 &&
		b.Team >= 0 && b.Team <= 25 &&
		b.MarketReadiness >= 0 && b.MarketReadiness <= 20
}

// Score is the structured output of one scoring run.
type Score struct {
	Total     int            `json:"total"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Summary   string         `json:"summary,omitempty"`
	Strengths []string       `json:"strengths,omitempty"`
	RiskFlags []string       `json:"risk_flags,omitempty"`
	ScoredAt  time.Time      `json:"scored_at"`
}
