package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/model"
)

// Funding looks up total raised and funding stage by company domain. The
// amount feeds the hard funding gate ahead of scoring, so this enricher only
// writes FundingAmount when the provider returns a definite figure.
type Funding struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewFunding creates the funding enricher against the configured provider.
func NewFunding(cfg config.EnrichConfig, client *http.Client) *Funding {
	base := cfg.FundingBaseURL
	if base == "" {
		base = "https://api.crunchbase.com/api/v4/entities/organizations"
	}
	return &Funding{baseURL: base, apiKey: cfg.FundingKey, client: client}
}

func (f *Funding) Name() string { return "funding" }

type fundingQuery struct {
	FieldIDs []string           `json:"field_ids"`
	Query    []fundingPredicate `json:"query"`
	Limit    int                `json:"limit"`
}

type fundingPredicate struct {
	Type       string   `json:"type"`
	FieldID    string   `json:"field_id"`
	OperatorID string   `json:"operator_id"`
	Values     []string `json:"values"`
}

type fundingResponse struct {
	Entities []struct {
		Properties struct {
			FundingTotal struct {
				ValueUSD float64 `json:"value_usd"`
			} `json:"funding_total"`
			FundingStage     string `json:"funding_stage"`
			NumEmployeesEnum string `json:"num_employees_enum"`
		} `json:"properties"`
	} `json:"entities"`
}

// Enrich is a no-op for deals without a product URL or when no API key is
// configured.
func (f *Funding) Enrich(ctx context.Context, d *model.Deal) error {
	if f.apiKey == "" || d.URL == "" {
		return nil
	}
	domain := domainOf(d.URL)
	if domain == "" {
		return nil
	}

	query := fundingQuery{
		FieldIDs: []string{"name", "website", "funding_total", "funding_stage", "num_employees_enum"},
		Query: []fundingPredicate{{
			Type:       "predicate",
			FieldID:    "website_url",
			OperatorID: "includes",
			Values:     []string{domain},
		}},
		Limit: 1,
	}
	payload, err := json.Marshal(query)
	if err != nil {
		return eris.Wrap(err, "funding: marshal query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "funding: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-cb-user-key", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "funding: fetch")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return eris.Errorf("funding: status %d for %s", resp.StatusCode, domain)
	}

	var out fundingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return eris.Wrap(err, "funding: decode response")
	}
	if len(out.Entities) == 0 {
		return nil
	}

	props := out.Entities[0].Properties
	now := time.Now().UTC()
	if props.FundingTotal.ValueUSD > 0 {
		total := props.FundingTotal.ValueUSD
		d.FundingAmount = &total
	}
	if props.FundingStage != "" {
		d.FundingStage = props.FundingStage
	}
	d.SetAttribute("employee_range", props.NumEmployeesEnum, f.Name(), now)
	return nil
}

func domainOf(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
