package source

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/dealflow/internal/model"
)

// RSS reads a configured list of launch-announcement feeds. Feeds are
// frequently served in legacy charsets, so decoding is charset-aware.
type RSS struct {
	feeds  []string
	client *http.Client
}

// NewRSS creates the RSS adapter over the configured feed URLs.
func NewRSS(feeds []string, client *http.Client) *RSS {
	return &RSS{feeds: feeds, client: client}
}

func (r *RSS) Channel() model.Channel { return model.ChannelRSS }

type rssDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Fetch reads every configured feed. One unreachable feed does not fail the
// batch; the adapter only errors when no feed could be read at all.
func (r *RSS) Fetch(ctx context.Context, since time.Time, limit int) ([]model.RawRecord, error) {
	if len(r.feeds) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var records []model.RawRecord
	var lastErr error
	okFeeds := 0

	for _, feedURL := range r.feeds {
		items, err := r.readFeed(ctx, feedURL)
		if err != nil {
			lastErr = err
			zap.L().Warn("rss: feed skipped",
				zap.String("feed", feedURL),
				zap.Error(err),
			)
			continue
		}
		okFeeds++

		for _, item := range items {
			if limit > 0 && len(records) >= limit {
				break
			}
			if item.Title == "" {
				continue
			}
			if published, perr := parseRSSDate(item.PubDate); perr == nil {
				if !since.IsZero() && published.Before(since) {
					continue
				}
			}
			id := item.GUID
			if id == "" {
				id = item.Link
			}
			records = append(records, model.RawRecord{
				Channel:     model.ChannelRSS,
				ExternalID:  id,
				Name:        strings.TrimSpace(item.Title),
				URL:         item.Link,
				Description: strings.TrimSpace(item.Description),
				Text:        map[string]string{"feed": feedURL},
				FetchedAt:   now,
			})
		}
	}

	if okFeeds == 0 && lastErr != nil {
		return nil, lastErr
	}
	return records, nil
}

func (r *RSS) readFeed(ctx context.Context, feedURL string) ([]rssItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "rss: build request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, Unavailable(eris.Errorf("rss: status %d from %s", resp.StatusCode, feedURL))
	}

	decoder := xml.NewDecoder(resp.Body)
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, encErr := htmlindex.Get(charset)
		if encErr != nil {
			return nil, eris.Wrapf(encErr, "rss: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var doc rssDoc
	if err := decoder.Decode(&doc); err != nil {
		return nil, Malformed(eris.Wrap(err, "rss: decode feed"))
	}
	return doc.Channel.Items, nil
}

// parseRSSDate tries the date layouts seen in the wild.
func parseRSSDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("rss: unparseable date %q", s)
}
