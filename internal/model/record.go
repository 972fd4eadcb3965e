package model

import "time"

// Channel identifies one external source of raw records.
type Channel string

const (
	ChannelGitHub      Channel = "github"
	ChannelHackerNews  Channel = "hackernews"
	ChannelProductHunt Channel = "producthunt"
	ChannelHuggingFace Channel = "huggingface"
	ChannelArxiv       Channel = "arxiv"
	ChannelRSS         Channel = "rss"
	ChannelYC          Channel = "yc"
)

// RawRecord is one untrusted sighting of a potential lead as produced by a
// source adapter. It carries no identity; the canonicalizer derives one.
type RawRecord struct {
	Channel     Channel            `json:"channel"`
	ExternalID  string             `json:"external_id"`
	Name        string             `json:"name"`
	URL         string             `json:"url,omitempty"`         // primary website
	ProfileURL  string             `json:"profile_url,omitempty"` // external profile page
	Description string             `json:"description,omitempty"`
	Text        map[string]string  `json:"text,omitempty"`
	Numeric     map[string]float64 `json:"numeric,omitempty"`
	FetchedAt   time.Time          `json:"fetched_at"`
}
