package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

// hnAPIBase is the Hacker News Firebase endpoint. A var so tests can point
// it at an httptest server.
var hnAPIBase = "https://hacker-news.firebaseio.com/v0"

// HackerNews surfaces Show HN launches as lead candidates.
type HackerNews struct {
	client *http.Client
}

// NewHackerNews creates the Hacker News adapter.
func NewHackerNews(client *http.Client) *HackerNews {
	return &HackerNews{client: client}
}

func (h *HackerNews) Channel() model.Channel { return model.ChannelHackerNews }

type hnItem struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
	Score int    `json:"score"`
	By    string `json:"by"`
	Time  int64  `json:"time"`
}

// Fetch pulls the current Show HN story list and keeps launch-style posts
// newer than since.
func (h *HackerNews) Fetch(ctx context.Context, since time.Time, limit int) ([]model.RawRecord, error) {
	var ids []int
	if err := getJSON(ctx, h.client, hnAPIBase+"/showstories.json", nil, &ids); err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	now := time.Now().UTC()
	var records []model.RawRecord
	for _, id := range ids {
		var item hnItem
		url := fmt.Sprintf("%s/item/%d.json", hnAPIBase, id)
		if err := getJSON(ctx, h.client, url, nil, &item); err != nil {
			return nil, err
		}
		if item.Title == "" {
			continue
		}
		posted := time.Unix(item.Time, 0).UTC()
		if !since.IsZero() && posted.Before(since) {
			continue
		}

		records = append(records, model.RawRecord{
			Channel:     model.ChannelHackerNews,
			ExternalID:  fmt.Sprintf("%d", item.ID),
			Name:        stripShowHN(item.Title),
			URL:         item.URL,
			Description: item.Text,
			Text:        map[string]string{"author": item.By},
			Numeric:     map[string]float64{"points": float64(item.Score)},
			FetchedAt:   now,
		})
	}
	return records, nil
}

// stripShowHN removes the "Show HN:" prefix and trailing taglines so the
// record name is just the product name.
func stripShowHN(title string) string {
	title = strings.TrimSpace(strings.TrimPrefix(title, "Show HN:"))
	for _, sep := range []string{" – ", " — ", " - ", ": "} {
		if idx := strings.Index(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx])
		}
	}
	return title
}

// jsonDecode decodes a JSON stream, wrapping decode errors for the
// malformed-payload taxonomy.
func jsonDecode(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return eris.Wrap(err, "decode json")
	}
	return nil
}
