// Package notify delivers scored deal cards and digests to the configured
// sink.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/dealflow/internal/model"
)

// Sink delivers a formatted notification. Publish must only be called after
// the deal's distribution state is durably committed; delivery acknowledgment
// is recorded separately by the caller.
type Sink interface {
	Publish(ctx context.Context, d *model.Deal) error
	PublishText(ctx context.Context, text string) error
}

// FormatDealCard renders the review card for a scored deal.
func FormatDealCard(d *model.Deal) string {
	score := d.Score
	var b strings.Builder

	header := "📌 *Worth Watching"
	if d.Bucket == model.BucketHot {
		header = "🔥 *High-Signal Deal"
	}
	fmt.Fprintf(&b, "%s: %s* — Score: %d/100\n\n", header, d.Name, score.Total)
	if score.Summary != "" {
		fmt.Fprintf(&b, "📝 *One-Liner:* %s\n\n", score.Summary)
	}

	if len(score.Strengths) > 0 {
		b.WriteString("✅ *Why It's Hot:*\n")
		for _, s := range score.Strengths {
			fmt.Fprintf(&b, "  • %s\n", s)
		}
		b.WriteString("\n")
	}
	if len(score.RiskFlags) > 0 {
		b.WriteString("⚠️ *Red Flags:*\n")
		for _, r := range score.RiskFlags {
			fmt.Fprintf(&b, "  • %s\n", r)
		}
		b.WriteString("\n")
	}

	br := score.Breakdown
	fmt.Fprintf(&b, "📊 *Breakdown:* Problem: %d/30 | Diff: %d/25 | Team: %d/25 | Market: %d/20\n\n",
		br.ProblemSeverity, br.Differentiation, br.Team, br.MarketReadiness)

	var links []string
	if d.URL != "" {
		links = append(links, fmt.Sprintf("<%s|Website>", d.URL))
	}
	for _, s := range d.Sources {
		if s.URL != "" && s.URL != d.URL {
			links = append(links, fmt.Sprintf("<%s|%s>", s.URL, s.Channel))
		}
	}
	if len(links) > 0 {
		fmt.Fprintf(&b, "🔗 *Links:* %s", strings.Join(links, " | "))
	}
	return strings.TrimRight(b.String(), "\n")
}
