package enrich

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

const pageTextCap = 4000

// Website fetches a deal's landing page and extracts go-to-market signals:
// pricing, demo CTAs, compliance badges, enterprise tiers, plus a plaintext
// snippet the scorer can read.
type Website struct {
	client *http.Client
}

// NewWebsite creates the website enricher.
func NewWebsite(client *http.Client) *Website {
	return &Website{client: client}
}

func (w *Website) Name() string { return "website" }

// Enrich is a no-op for deals without a product URL.
func (w *Website) Enrich(ctx context.Context, d *model.Deal) error {
	if d.URL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return eris.Wrap(err, "website: build request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; DealflowBot/1.0)")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "website: fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return eris.Errorf("website: status %d from %s", resp.StatusCode, d.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return eris.Wrap(err, "website: read body")
	}

	text := stripHTML(string(body))
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	now := time.Now().UTC()

	d.SetAttribute("page_text", truncate(text, pageTextCap), w.Name(), now)
	d.SetAttribute("has_pricing", flag(containsAny(lower,
		"pricing", "plans", "per month", "/mo", "free tier")), w.Name(), now)
	d.SetAttribute("has_book_demo", flag(containsAny(lower,
		"book a demo", "book demo", "request demo", "schedule demo")), w.Name(), now)
	d.SetAttribute("has_soc2_badge", flag(containsAny(lower,
		"soc 2", "soc2")), w.Name(), now)
	d.SetAttribute("has_enterprise_tier", flag(containsAny(lower,
		"enterprise", "custom pricing", "contact sales")), w.Name(), now)

	if title := extractTitle(body); title != "" && d.Description == "" {
		d.Description = title
	}
	return nil
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func flag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var titleRe = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

// stripHTML removes scripts/styles/nav/footer, strips tags, decodes entities,
// and collapses whitespace. The result is plaintext suitable for the scorer.
func stripHTML(html string) string {
	for _, tag := range []string{"script", "style", "nav", "footer", "noscript", "svg"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	tagRe := regexp.MustCompile(`<[^>]+>`)
	html = tagRe.ReplaceAllString(html, " ")

	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	html = r.Replace(html)

	spaceRe := regexp.MustCompile(`\s+`)
	html = spaceRe.ReplaceAllString(html, " ")

	return strings.TrimSpace(html)
}
