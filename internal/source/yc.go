package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sells-group/dealflow/internal/model"
)

var ycAPIBase = "https://yc-oss.github.io/api"

// YC reads the published Y Combinator company directory for the most recent
// batches.
type YC struct {
	client *http.Client
}

// NewYC creates the YC adapter.
func NewYC(client *http.Client) *YC {
	return &YC{client: client}
}

func (y *YC) Channel() model.Channel { return model.ChannelYC }

type ycCompany struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Website     string   `json:"website"`
	OneLiner    string   `json:"one_liner"`
	Description string   `json:"long_description"`
	Batch       string   `json:"batch"`
	TeamSize    int      `json:"team_size"`
	Tags        []string `json:"tags"`
}

// Fetch lists the latest launched batch's companies.
func (y *YC) Fetch(ctx context.Context, _ time.Time, limit int) ([]model.RawRecord, error) {
	var companies []ycCompany
	if err := getJSON(ctx, y.client, ycAPIBase+"/batches/latest.json", nil, &companies); err != nil {
		return nil, err
	}
	if limit > 0 && len(companies) > limit {
		companies = companies[:limit]
	}

	now := time.Now().UTC()
	records := make([]model.RawRecord, 0, len(companies))
	for _, c := range companies {
		desc := c.OneLiner
		if desc == "" {
			desc = c.Description
		}
		records = append(records, model.RawRecord{
			Channel:     model.ChannelYC,
			ExternalID:  fmt.Sprintf("%d", c.ID),
			Name:        c.Name,
			URL:         c.Website,
			ProfileURL:  "https://www.ycombinator.com/companies/" + c.Slug,
			Description: desc,
			Text: map[string]string{
				"batch": c.Batch,
				"tags":  strings.Join(c.Tags, ", "),
			},
			Numeric:   map[string]float64{"team_size": float64(c.TeamSize)},
			FetchedAt: now,
		})
	}
	return records, nil
}
