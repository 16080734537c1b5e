package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses a feed document into metadata and candidates in document order.
// A positive maxItems keeps only the first maxItems entries.
func (p *Parser) Run(data []byte, maxItems int) (*Metadata, []Candidate, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:       feed.Title,
		Link:        feed.Link,
		Description: feed.Description,
		Language:    feed.Language,
	}

	if feed.Image != nil {
		metadata.ImageURL = feed.Image.URL
	}

	if feed.PublishedParsed != nil {
		metadata.FeedPublishedAt = feed.PublishedParsed
	}

	entries := feed.Items
	if maxItems > 0 && len(entries) > maxItems {
		entries = entries[:maxItems]
	}

	items := make([]Candidate, 0, len(entries))
	for _, item := range entries {
		if item == nil {
			continue
		}
		items = append(items, p.normalizeItem(item))
	}

	return metadata, items, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Candidate {
	body, extras, _ := SplitExtras(cmp.Or(item.Content, item.Description))

	candidate := Candidate{
		Title:          strings.TrimSpace(item.Title),
		Link:           strings.TrimSpace(item.Link),
		Body:           body,
		Author:         p.extractAuthor(item),
		PublishedAtRaw: cmp.Or(item.Published, item.Updated),
		Extras:         extras,
	}

	switch {
	case item.PublishedParsed != nil:
		candidate.PublishedAt = item.PublishedParsed.Unix()
	case item.UpdatedParsed != nil:
		candidate.PublishedAt = item.UpdatedParsed.Unix()
	case candidate.PublishedAtRaw != "":
		if t, err := dateparse.ParseIn(candidate.PublishedAtRaw, time.UTC); err == nil {
			candidate.PublishedAt = t.Unix()
		}
	}

	return candidate
}

func (p *Parser) extractAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				if s := p.formatAuthor(author.Name, author.Email); s != "" {
					return s
				}
			}
		}
	} else if item.Author != nil {
		return p.formatAuthor(item.Author.Name, item.Author.Email)
	}

	return ""
}

func (p *Parser) formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	} else if email != "" {
		return email
	}

	return ""
}
