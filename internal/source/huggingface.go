package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sells-group/dealflow/internal/model"
)

var huggingFaceAPIBase = "https://huggingface.co/api"

// HuggingFace tracks trending model publishers; organizations shipping
// popular models are frequently pre-announcement labs.
type HuggingFace struct {
	client *http.Client
}

// NewHuggingFace creates the Hugging Face adapter.
func NewHuggingFace(client *http.Client) *HuggingFace {
	return &HuggingFace{client: client}
}

func (h *HuggingFace) Channel() model.Channel { return model.ChannelHuggingFace }

type hfModel struct {
	ID        string `json:"id"` // "org/model-name"
	Likes     int    `json:"likes"`
	Downloads int    `json:"downloads"`
	Pipeline  string `json:"pipeline_tag"`
	CreatedAt string `json:"createdAt"`
}

// Fetch lists trending models and emits one record per publishing
// organization, keyed on the org so repeat models collapse downstream.
func (h *HuggingFace) Fetch(ctx context.Context, since time.Time, limit int) ([]model.RawRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	url := fmt.Sprintf("%s/models?sort=trendingScore&direction=-1&limit=%d", huggingFaceAPIBase, limit)

	var models []hfModel
	if err := getJSON(ctx, h.client, url, nil, &models); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var records []model.RawRecord
	for _, m := range models {
		org, name, found := strings.Cut(m.ID, "/")
		if !found || org == "" {
			continue
		}
		if created, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
			if !since.IsZero() && created.Before(since) {
				continue
			}
		}

		records = append(records, model.RawRecord{
			Channel:     model.ChannelHuggingFace,
			ExternalID:  m.ID,
			Name:        org,
			ProfileURL:  "https://huggingface.co/" + org,
			Description: fmt.Sprintf("Publishes %s (%s)", name, m.Pipeline),
			Numeric: map[string]float64{
				"likes":     float64(m.Likes),
				"downloads": float64(m.Downloads),
			},
			FetchedAt: now,
		})
	}
	return records, nil
}
