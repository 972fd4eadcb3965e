package enrich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

var githubEnrichAPIBase = "https://api.github.com"

var (
	repoURLRe     = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)`)
	lastPageRe    = regexp.MustCompile(`page=(\d+)>; rel="last"`)
	enterpriseRe  = regexp.MustCompile(`(?i)\b(SAML|SOC\s?2|on-prem|RBAC|SSO|HIPAA|GDPR|audit.?log|self-hosted|enterprise|compliance|multi-tenant)\b`)
	readmeByteCap = 5000
)

// GitHubMetrics pulls repository health signals for deals sighted on GitHub:
// stars, open issues, contributor count, and enterprise-readiness keywords
// from the README.
type GitHubMetrics struct {
	token  string
	client *http.Client
}

// NewGitHubMetrics creates the enricher. The token is optional; unauthenticated
// requests just hit lower rate limits.
func NewGitHubMetrics(token string, client *http.Client) *GitHubMetrics {
	return &GitHubMetrics{token: token, client: client}
}

func (g *GitHubMetrics) Name() string { return "github_metrics" }

// Enrich is a no-op for deals without a GitHub repo URL among their sources.
func (g *GitHubMetrics) Enrich(ctx context.Context, d *model.Deal) error {
	owner, repo := g.repoFor(d)
	if owner == "" {
		return nil
	}
	now := time.Now().UTC()

	var meta struct {
		Stargazers int    `json:"stargazers_count"`
		OpenIssues int    `json:"open_issues_count"`
		Language   string `json:"language"`
		PushedAt   string `json:"pushed_at"`
	}
	if err := g.getJSON(ctx, githubEnrichAPIBase+"/repos/"+owner+"/"+repo, &meta); err != nil {
		return err
	}
	d.SetAttribute("stars", strconv.Itoa(meta.Stargazers), g.Name(), now)
	d.SetAttribute("open_issues", strconv.Itoa(meta.OpenIssues), g.Name(), now)
	d.SetAttribute("language", meta.Language, g.Name(), now)
	d.SetAttribute("last_push", meta.PushedAt, g.Name(), now)

	if contributors, err := g.contributorCount(ctx, owner, repo); err == nil && contributors > 0 {
		d.SetAttribute("contributors", strconv.Itoa(contributors), g.Name(), now)
	}

	readme, err := g.readme(ctx, owner, repo)
	if err == nil && readme != "" {
		if signals := enterpriseSignals(readme); len(signals) > 0 {
			d.SetAttribute("enterprise_signals", strings.Join(signals, ", "), g.Name(), now)
		}
	}
	return nil
}

// repoFor finds a github.com/owner/repo URL on the deal, preferring the
// github source sighting over the product URL.
func (g *GitHubMetrics) repoFor(d *model.Deal) (owner, repo string) {
	for _, s := range d.Sources {
		if s.Channel == model.ChannelGitHub {
			if m := repoURLRe.FindStringSubmatch(s.URL); m != nil {
				return m[1], m[2]
			}
			if parts := strings.SplitN(s.ExternalID, "/", 2); len(parts) == 2 {
				return parts[0], parts[1]
			}
		}
	}
	if m := repoURLRe.FindStringSubmatch(d.URL); m != nil {
		return m[1], m[2]
	}
	return "", ""
}

// contributorCount asks for one contributor per page and reads the total off
// the Link header's last-page marker.
func (g *GitHubMetrics) contributorCount(ctx context.Context, owner, repo string) (int, error) {
	url := githubEnrichAPIBase + "/repos/" + owner + "/" + repo + "/contributors?per_page=1&anon=true"
	resp, err := g.do(ctx, url, "application/vnd.github+json")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, eris.Errorf("github_metrics: contributors status %d", resp.StatusCode)
	}
	if m := lastPageRe.FindStringSubmatch(resp.Header.Get("Link")); m != nil {
		return strconv.Atoi(m[1])
	}
	return 1, nil
}

func (g *GitHubMetrics) readme(ctx context.Context, owner, repo string) (string, error) {
	resp, err := g.do(ctx, githubEnrichAPIBase+"/repos/"+owner+"/"+repo+"/readme", "application/vnd.github.raw+json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return "", eris.Errorf("github_metrics: readme status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(readmeByteCap)))
	if err != nil {
		return "", eris.Wrap(err, "github_metrics: read readme")
	}
	return string(body), nil
}

func (g *GitHubMetrics) getJSON(ctx context.Context, url string, out any) error {
	resp, err := g.do(ctx, url, "application/vnd.github+json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return eris.Errorf("github_metrics: status %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "github_metrics: decode")
	}
	return nil
}

func (g *GitHubMetrics) do(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "github_metrics: build request")
	}
	req.Header.Set("Accept", accept)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	return g.client.Do(req)
}

// enterpriseSignals extracts the distinct enterprise-readiness keywords from
// README text, uppercased and sorted for stable attribute values.
func enterpriseSignals(text string) []string {
	seen := make(map[string]struct{})
	for _, m := range enterpriseRe.FindAllString(text, -1) {
		seen[strings.ToUpper(m)] = struct{}{}
	}
	signals := make([]string, 0, len(seen))
	for s := range seen {
		signals = append(signals, s)
	}
	sort.Strings(signals)
	return signals
}
