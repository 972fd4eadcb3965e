package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

var arxivAPIBase = "https://export.arxiv.org/api/query"

// arxivQuery targets applied ML systems papers; commercializable research
// is a leading indicator for lab spin-outs.
const arxivQuery = "cat:cs.LG+OR+cat:cs.AI+AND+all:system"

// Arxiv pulls recent papers from the arXiv Atom API.
type Arxiv struct {
	client *http.Client
}

// NewArxiv creates the arXiv adapter.
func NewArxiv(client *http.Client) *Arxiv {
	return &Arxiv{client: client}
}

func (a *Arxiv) Channel() model.Channel { return model.ChannelArxiv }

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

// Fetch queries the Atom feed sorted by submission date, newest first.
func (a *Arxiv) Fetch(ctx context.Context, since time.Time, limit int) ([]model.RawRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	url := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=submittedDate&sortOrder=descending",
		arxivAPIBase, arxivQuery, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "arxiv: build request")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, Unavailable(eris.Errorf("arxiv: status %d", resp.StatusCode))
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, Malformed(eris.Wrap(err, "arxiv: decode feed"))
	}

	now := time.Now().UTC()
	var records []model.RawRecord
	for _, entry := range feed.Entries {
		id := extractArxivID(entry.ID)
		if id == "" {
			continue
		}
		if published, perr := time.Parse(time.RFC3339, entry.Published); perr == nil {
			if !since.IsZero() && published.Before(since) {
				continue
			}
		}

		var authors []string
		for _, au := range entry.Authors {
			authors = append(authors, strings.TrimSpace(au.Name))
		}

		records = append(records, model.RawRecord{
			Channel:     model.ChannelArxiv,
			ExternalID:  id,
			Name:        strings.Join(strings.Fields(entry.Title), " "),
			ProfileURL:  "https://arxiv.org/abs/" + id,
			Description: strings.TrimSpace(entry.Summary),
			Text:        map[string]string{"authors": strings.Join(authors, ", ")},
			FetchedAt:   now,
		})
	}
	return records, nil
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL and strips
// the version suffix.
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		allDigits := len(id[vIdx+1:]) > 0
		for _, r := range id[vIdx+1:] {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			id = id[:vIdx]
		}
	}
	return id
}
