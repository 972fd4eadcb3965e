package notify

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

// SlackSink posts deal cards to an incoming-webhook URL.
type SlackSink struct {
	webhookURL string
	client     *http.Client
}

// NewSlackSink creates the Slack webhook sink.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text        string `json:"text"`
	UnfurlLinks bool   `json:"unfurl_links"`
	UnfurlMedia bool   `json:"unfurl_media"`
}

func (s *SlackSink) Publish(ctx context.Context, d *model.Deal) error {
	return s.PublishText(ctx, FormatDealCard(d))
}

func (s *SlackSink) PublishText(ctx context.Context, text string) error {
	payload, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return eris.Wrap(err, "slack: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "slack: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "slack: post webhook")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("slack: webhook status %d", resp.StatusCode)
	}
	return nil
}
