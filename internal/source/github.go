package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sells-group/dealflow/internal/model"
)

var githubAPIBase = "https://api.github.com"

// GitHub finds recently created, fast-growing repositories via the search
// API. Repos are proxies for unannounced infra startups.
type GitHub struct {
	token  string
	client *http.Client
}

// NewGitHub creates the GitHub adapter. Token is optional; unauthenticated
// requests just get a lower rate limit.
func NewGitHub(token string, client *http.Client) *GitHub {
	return &GitHub{token: token, client: client}
}

func (g *GitHub) Channel() model.Channel { return model.ChannelGitHub }

type githubSearchResponse struct {
	Items []struct {
		FullName    string `json:"full_name"`
		HTMLURL     string `json:"html_url"`
		Homepage    string `json:"homepage"`
		Description string `json:"description"`
		Stars       int    `json:"stargazers_count"`
		Forks       int    `json:"forks_count"`
		OpenIssues  int    `json:"open_issues_count"`
		Language    string `json:"language"`
		CreatedAt   string `json:"created_at"`
		Owner       struct {
			Login   string `json:"login"`
			HTMLURL string `json:"html_url"`
		} `json:"owner"`
	} `json:"items"`
}

// Fetch searches for repositories created since the cursor with meaningful
// traction, ordered by stars.
func (g *GitHub) Fetch(ctx context.Context, since time.Time, limit int) ([]model.RawRecord, error) {
	if since.IsZero() {
		since = time.Now().UTC().AddDate(0, 0, -7)
	}
	if limit <= 0 {
		limit = 20
	}

	q := url.Values{}
	q.Set("q", fmt.Sprintf("created:>%s stars:>25", since.Format("2006-01-02")))
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", fmt.Sprintf("%d", limit))

	header := http.Header{}
	if g.token != "" {
		header.Set("Authorization", "Bearer "+g.token)
	}
	header.Set("X-GitHub-Api-Version", "2022-11-28")

	var resp githubSearchResponse
	searchURL := githubAPIBase + "/search/repositories?" + q.Encode()
	if err := getJSON(ctx, g.client, searchURL, header, &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]model.RawRecord, 0, len(resp.Items))
	for _, item := range resp.Items {
		website := item.Homepage
		records = append(records, model.RawRecord{
			Channel:     model.ChannelGitHub,
			ExternalID:  item.FullName,
			Name:        item.FullName,
			URL:         website,
			ProfileURL:  item.HTMLURL,
			Description: item.Description,
			Text: map[string]string{
				"language": item.Language,
				"owner":    item.Owner.Login,
			},
			Numeric: map[string]float64{
				"stars":       float64(item.Stars),
				"forks":       float64(item.Forks),
				"open_issues": float64(item.OpenIssues),
			},
			FetchedAt: now,
		})
	}
	return records, nil
}
