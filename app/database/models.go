package database

import (
	"time"
)

const (
	ItemTypeNews  = "news"
	ItemTypeEvent = "event"

	// NeverReconciled is the content digest of a source that has not been
	// reconciled yet.
	NeverReconciled = "0"

	MaxErrorTextLength = 255
)

type Source struct {
	ID            int64
	OwnerID       int64
	URL           string
	LastFetchedAt int64 // Unix seconds, 0 = never
	ErrorCount    int
	LastError     string
	ContentDigest string
	CreatedAt     time.Time
}

type Item struct {
	ID             int64
	OwnerID        int64
	SourceID       *int64 // nil for locally authored items
	Title          string
	Link           string
	Body           string
	PublishedAt    int64
	Visible        bool
	Type           string
	EventStart     int64
	EventEnd       int64
	EventLocation  string
	ImageRef       string
	ImageDesc      string
	AttachmentRefs []string
	ItemDigest     string
	VisibilityKeys []string // empty = unrestricted
	CreatedAt      time.Time
}

func (i *Item) IsEvent() bool {
	return i.Type == ItemTypeEvent
}
