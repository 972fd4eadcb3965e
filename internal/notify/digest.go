package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// Digest summarizes a review window for the partnership.
type Digest struct {
	WindowStart   time.Time    `json:"window_start"`
	WindowEnd     time.Time    `json:"window_end"`
	TotalReviewed int          `json:"total_reviewed"`
	HighPriority  int          `json:"high_priority"`
	WorthWatching int          `json:"worth_watching"`
	AutoFiltered  int          `json:"auto_filtered"`
	TopDeals      []model.Deal `json:"top_deals"`
}

// BuildDigest summarizes scored deals from the window against the given
// thresholds.
func BuildDigest(ctx context.Context, st store.Store, since time.Time, low, high int) (*Digest, error) {
	deals, err := st.ListDeals(ctx, store.DealFilter{
		States: []model.LifecycleState{
			model.StateScored, model.StateFilteredOut, model.StateDistributed,
			model.StateUnderReview, model.StateQueuedOutreach,
			model.StateReadingList, model.StatePassed, model.StateArchived,
		},
		Since: since,
		Limit: 1000,
	})
	if err != nil {
		return nil, err
	}

	d := &Digest{WindowStart: since, WindowEnd: time.Now().UTC()}
	var scored []model.Deal
	for _, deal := range deals {
		if deal.Score == nil {
			continue
		}
		scored = append(scored, deal)
		switch {
		case deal.Score.Total >= high:
			d.HighPriority++
		case deal.Score.Total >= low:
			d.WorthWatching++
		default:
			d.AutoFiltered++
		}
	}
	d.TotalReviewed = len(scored)

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score.Total > scored[j].Score.Total
	})
	if len(scored) > 3 {
		scored = scored[:3]
	}
	d.TopDeals = scored
	return d, nil
}

// Format renders the digest message.
func (d *Digest) Format(low, high int) string {
	var b strings.Builder
	b.WriteString("📊 *This Week in Enterprise AI Deal Flow*\n\n")
	fmt.Fprintf(&b, "✅ Reviewed: %d startups\n", d.TotalReviewed)
	fmt.Fprintf(&b, "🔥 High Priority (≥%d): %d\n", high, d.HighPriority)
	fmt.Fprintf(&b, "📌 Worth Watching (%d-%d): %d\n", low, high-1, d.WorthWatching)
	fmt.Fprintf(&b, "🗑️ Auto-Filtered: %d\n\n", d.AutoFiltered)

	if len(d.TopDeals) > 0 {
		b.WriteString("*Top Deals to Discuss:*\n")
		for i, deal := range d.TopDeals {
			fmt.Fprintf(&b, "%d. *%s* — %d/100 — %s\n", i+1, deal.Name, deal.Score.Total, deal.Score.Summary)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "_Period: %s – %s_",
		d.WindowStart.Format("Jan 02"),
		d.WindowEnd.Format("Jan 02, 2006"),
	)
	return b.String()
}
