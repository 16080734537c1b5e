package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/gorilla/feeds"

	"github.com/lysyi3m/newsblock/app/cfg"
	"github.com/lysyi3m/newsblock/app/database"
)

const (
	atomNamespace      = "http://www.w3.org/2005/Atom"
	newsblockNamespace = "https://newsblock.dev/ns/1.0"

	summaryLength = 280
)

// atomDocument adds the newsblock expiry hint to the feed root.
type atomDocument struct {
	feeds.AtomFeed
	XmlnsNB string `xml:"xmlns:nb,attr"`
	Expires int64  `xml:"nb:expires,attr,omitempty"`
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Run renders items as an Atom 1.0 document. A non-zero expiresAt is written
// as the nb:expires attribute of the feed element.
func (g *Generator) Run(block *Config, items []database.Item, expiresAt int64) ([]byte, error) {
	selfLink := g.selfLink(block.OwnerID)

	updated := time.Now()
	if len(items) > 0 {
		updated = time.Unix(items[0].PublishedAt, 0)
	}

	title := block.Title
	if title == "" {
		title = fmt.Sprintf("Block %d", block.OwnerID)
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: selfLink, Rel: "self"},
		Description: fmt.Sprintf("Newsblock/%s", cfg.Get().Version),
		Id:          selfLink,
		Updated:     updated,
	}

	for i := range items {
		feed.Items = append(feed.Items, g.entry(&items[i]))
	}

	atom := (&feeds.Atom{Feed: feed}).AtomFeed()
	atom.Xmlns = atomNamespace

	doc := atomDocument{
		AtomFeed: *atom,
		XmlnsNB:  newsblockNamespace,
		Expires:  expiresAt,
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal atom feed: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(data)

	return buf.Bytes(), nil
}

func (g *Generator) entry(item *database.Item) *feeds.Item {
	published := time.Unix(item.PublishedAt, 0)

	entry := &feeds.Item{
		Title:       item.Title,
		Id:          fmt.Sprintf("%s/items/%d", g.baseURL(), item.ID),
		Description: g.summary(item),
		Content:     item.Body,
		Created:     published,
		Updated:     published,
	}

	if item.Link != "" {
		entry.Link = &feeds.Link{Href: item.Link}
	} else {
		entry.Link = &feeds.Link{Href: entry.Id}
	}

	if entry.Title == "" {
		entry.Title = "Untitled"
	}

	return entry
}

// summary returns a plain-text excerpt of the item body.
func (g *Generator) summary(item *database.Item) (excerpt string) {
	if strings.TrimSpace(item.Body) == "" {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Readability failed on item body", "item_id", item.ID, "error", r)
			excerpt = g.plainText(item.Body)
		}
	}()

	pageURL, err := url.Parse(item.Link)
	if err != nil || pageURL.Host == "" {
		pageURL, _ = url.Parse(g.baseURL())
	}

	article, err := readability.FromReader(strings.NewReader(item.Body), pageURL)
	if err != nil || strings.TrimSpace(article.TextContent) == "" {
		return g.plainText(item.Body)
	}

	if article.Excerpt != "" {
		return truncate(strings.TrimSpace(article.Excerpt), summaryLength)
	}
	return truncate(collapseSpace(article.TextContent), summaryLength)
}

func (g *Generator) plainText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return truncate(collapseSpace(body), summaryLength)
	}
	return truncate(collapseSpace(doc.Text()), summaryLength)
}

func (g *Generator) selfLink(ownerID int64) string {
	return fmt.Sprintf("%s/feeds/%d", g.baseURL(), ownerID)
}

func (g *Generator) baseURL() string {
	if cfg.Get().BaseUrl != "" {
		return strings.TrimRight(cfg.Get().BaseUrl, "/")
	}
	return fmt.Sprintf("http://localhost:%s", cfg.Get().Port)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}
