// Package dedup derives canonical identities for raw records and reconciles
// sightings of the same company into a single deal.
package dedup

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/dealflow/internal/model"
)

var caseFolder = cases.Fold()

// Canonicalize derives the dedup identity for a raw record. Precedence is
// product URL, then profile URL, then folded name qualified by channel. The
// same company seen on two channels without a URL intentionally yields two
// identities: a name alone is too weak a join key.
func Canonicalize(r model.RawRecord) string {
	if id := normalizeURL(r.URL); id != "" {
		return id
	}
	if id := normalizeURL(r.ProfileURL); id != "" {
		return id
	}
	return foldName(r.Name) + "|" + string(r.Channel)
}

// normalizeURL reduces a URL to host plus path: scheme, query, fragment and
// the www prefix are identity-irrelevant. Returns "" for unusable input.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	path := strings.TrimSuffix(u.Path, "/")
	return host + strings.ToLower(path)
}

// foldName normalizes a display name for identity use: Unicode compatibility
// normalization, case folding, and whitespace collapse.
func foldName(name string) string {
	name = norm.NFKC.String(name)
	name = caseFolder.String(name)
	return strings.Join(strings.Fields(name), " ")
}
