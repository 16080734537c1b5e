package feed

import (
	"time"
)

// Feed processing types

type Metadata struct {
	Title           string
	Link            string
	Description     string
	ImageURL        string
	Language        string
	FeedPublishedAt *time.Time
}

// Extras holds the structured data carried by the newsblock-extras envelope
// that sibling instances embed in republished item bodies.
type Extras struct {
	Event       bool
	Location    string
	Start       int64 // Unix seconds, 0 = unset
	End         int64
	ImageURL    string
	ImageDesc   string
	Attachments []string
}

// Candidate is one upstream item as fetched, before reconciliation.
type Candidate struct {
	Title          string
	Link           string
	Body           string
	Author         string
	PublishedAtRaw string
	PublishedAt    int64 // Unix seconds, 0 when the raw date could not be parsed
	Extras         Extras
}

func (c *Candidate) Type() string {
	if c.Extras.Event {
		return "event"
	}
	return "news"
}

// FetchResult is either a parsed feed or an error sentinel; never both.
type FetchResult struct {
	Metadata *Metadata
	Items    []Candidate
	Err      error
}

func (r *FetchResult) Failed() bool {
	return r.Err != nil
}

// Configuration types

// Config describes one owner block: the feeds it subscribes to.
type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	OwnerID  int64          `yaml:"owner_id"`
	Title    string         `yaml:"title"`
	Sources  []string       `yaml:"sources"`
	Settings ConfigSettings `yaml:"settings"`
}

type ConfigSettings struct {
	Enabled  bool `yaml:"enabled"`
	MaxItems int  `yaml:"max_items"`
	Timeout  int  `yaml:"timeout"` // seconds
}
