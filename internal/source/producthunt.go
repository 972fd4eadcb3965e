package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

var productHuntAPIBase = "https://api.producthunt.com/v2/api/graphql"

// ProductHunt pulls recent launches via the GraphQL API.
type ProductHunt struct {
	token  string
	client *http.Client
}

// NewProductHunt creates the Product Hunt adapter.
func NewProductHunt(token string, client *http.Client) *ProductHunt {
	return &ProductHunt{token: token, client: client}
}

func (p *ProductHunt) Channel() model.Channel { return model.ChannelProductHunt }

const productHuntQuery = `query($first: Int!, $postedAfter: DateTime) {
  posts(first: $first, postedAfter: $postedAfter, order: VOTES) {
    edges { node {
      id name tagline votesCount website url createdAt
    } }
  }
}`

type productHuntResponse struct {
	Data struct {
		Posts struct {
			Edges []struct {
				Node struct {
					ID         string `json:"id"`
					Name       string `json:"name"`
					Tagline    string `json:"tagline"`
					VotesCount int    `json:"votesCount"`
					Website    string `json:"website"`
					URL        string `json:"url"`
					CreatedAt  string `json:"createdAt"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"posts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Fetch queries launches posted after the cursor, most-voted first.
func (p *ProductHunt) Fetch(ctx context.Context, since time.Time, limit int) ([]model.RawRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	vars := map[string]any{"first": limit}
	if !since.IsZero() {
		vars["postedAfter"] = since.Format(time.RFC3339)
	}

	body, err := json.Marshal(map[string]any{
		"query":     productHuntQuery,
		"variables": vars,
	})
	if err != nil {
		return nil, eris.Wrap(err, "producthunt: marshal query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, productHuntAPIBase, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "producthunt: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, Unavailable(eris.Errorf("producthunt: status %d", resp.StatusCode))
	}

	var phResp productHuntResponse
	if err := jsonDecode(resp.Body, &phResp); err != nil {
		return nil, Malformed(err)
	}
	if len(phResp.Errors) > 0 {
		return nil, Malformed(eris.Errorf("producthunt: graphql error: %s", phResp.Errors[0].Message))
	}

	now := time.Now().UTC()
	records := make([]model.RawRecord, 0, len(phResp.Data.Posts.Edges))
	for _, edge := range phResp.Data.Posts.Edges {
		n := edge.Node
		records = append(records, model.RawRecord{
			Channel:     model.ChannelProductHunt,
			ExternalID:  n.ID,
			Name:        n.Name,
			URL:         n.Website,
			ProfileURL:  n.URL,
			Description: n.Tagline,
			Numeric:     map[string]float64{"votes": float64(n.VotesCount)},
			FetchedAt:   now,
		})
	}
	return records, nil
}
