package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fieldSeparator cannot appear in NFC-normalised text fields.
const fieldSeparator = "\x1f"

// DigestFields is the ordered tuple that identifies an item's content.
type DigestFields struct {
	Title         string
	Link          string
	Body          string
	Type          string
	EventStart    int64
	EventEnd      int64
	EventLocation string
	ImageURL      string
	ImageDesc     string
	Attachments   []string
}

// FieldsOf builds the digest tuple of a fetched candidate.
func FieldsOf(c Candidate) DigestFields {
	return DigestFields{
		Title:         c.Title,
		Link:          c.Link,
		Body:          c.Body,
		Type:          c.Type(),
		EventStart:    c.Extras.Start,
		EventEnd:      c.Extras.End,
		EventLocation: c.Extras.Location,
		ImageURL:      c.Extras.ImageURL,
		ImageDesc:     c.Extras.ImageDesc,
		Attachments:   c.Extras.Attachments,
	}
}

// ItemDigest returns the content digest of an item. Two items with the same
// tuple always share a digest.
func ItemDigest(f DigestFields) string {
	parts := []string{
		normalize(f.Title),
		normalize(f.Link),
		normalize(f.Body),
		normalize(f.Type),
		strconv.FormatInt(f.EventStart, 10),
		strconv.FormatInt(f.EventEnd, 10),
		normalize(f.EventLocation),
		normalize(f.ImageURL),
		normalize(f.ImageDesc),
	}
	for _, a := range f.Attachments {
		parts = append(parts, normalize(a))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// ListDigest returns the digest of a whole fetched list, in fetched order.
func ListDigest(items []Candidate) string {
	if items == nil {
		items = []Candidate{}
	}

	// Candidate only holds strings, ints and slices of those.
	data, _ := json.Marshal(items)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
