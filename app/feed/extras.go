package feed

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

const extrasMarker = "newsblock-extras"

// SplitExtras separates the extras envelope from an item body. It returns the
// body with the envelope removed, the parsed extras, and whether an envelope
// was found. Malformed envelopes yield empty extras and are still removed when
// possible; the body is never lost.
func SplitExtras(body string) (cleaned string, extras Extras, ok bool) {
	if !strings.Contains(body, extrasMarker) {
		return body, Extras{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Extras envelope could not be parsed", "error", fmt.Sprint(r))
			cleaned, extras, ok = body, Extras{}, false
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body, Extras{}, false
	}

	envelope := doc.Find("div." + extrasMarker).First()
	if envelope.Length() == 0 {
		return body, Extras{}, false
	}

	extras = parseEnvelope(envelope)
	envelope.Remove()

	html, err := doc.Find("body").Html()
	if err != nil {
		return body, extras, true
	}

	return strings.TrimSpace(html), extras, true
}

func parseEnvelope(s *goquery.Selection) Extras {
	var extras Extras

	extras.Event = strings.EqualFold(text(s, "div.newsblock-type"), "event")
	extras.Location = text(s, "div.newsblock-location")
	extras.Start = parseEventTime(text(s, "div.newsblock-start"))
	extras.End = parseEventTime(text(s, "div.newsblock-end"))

	if img := s.Find("img.newsblock-image").First(); img.Length() > 0 {
		extras.ImageURL = strings.TrimSpace(img.AttrOr("src", ""))
		extras.ImageDesc = strings.TrimSpace(img.AttrOr("alt", ""))
	}

	s.Find("div.newsblock-attachments a[href]").Each(func(_ int, a *goquery.Selection) {
		if href := strings.TrimSpace(a.AttrOr("href", "")); href != "" {
			extras.Attachments = append(extras.Attachments, href)
		}
	})

	return extras
}

func text(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}

// parseEventTime accepts Unix seconds or any date dateparse understands. Dates
// without a zone are read as UTC.
func parseEventTime(raw string) int64 {
	if raw == "" {
		return 0
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}

	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		slog.Debug("Unparseable event time in extras", "value", raw, "error", err)
		return 0
	}

	return t.Unix()
}
