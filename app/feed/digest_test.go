package feed

import (
	"testing"
)

func TestItemDigestStability(t *testing.T) {
	base := DigestFields{
		Title:       "Spring fair",
		Link:        "https://example.com/fair",
		Body:        "<p>Come along</p>",
		Type:        "event",
		EventStart:  1_700_000_000,
		Attachments: []string{"https://example.com/a.pdf"},
	}

	if ItemDigest(base) != ItemDigest(base) {
		t.Fatal("Expected identical tuples to share a digest")
	}

	padded := base
	padded.Title = "  Spring fair\n"
	if ItemDigest(padded) != ItemDigest(base) {
		t.Error("Expected surrounding whitespace to be ignored")
	}

	composed, decomposed := base, base
	composed.Body = "caf\u00e9"
	decomposed.Body = "cafe\u0301"
	if ItemDigest(composed) != ItemDigest(decomposed) {
		t.Error("Expected NFC-equivalent text to share a digest")
	}

	changes := map[string]func(f *DigestFields){
		"title":       func(f *DigestFields) { f.Title = "Autumn fair" },
		"link":        func(f *DigestFields) { f.Link = "https://example.com/other" },
		"body":        func(f *DigestFields) { f.Body = "<p>Stay home</p>" },
		"type":        func(f *DigestFields) { f.Type = "news" },
		"event start": func(f *DigestFields) { f.EventStart++ },
		"event end":   func(f *DigestFields) { f.EventEnd = 1 },
		"location":    func(f *DigestFields) { f.EventLocation = "Hall" },
		"image":       func(f *DigestFields) { f.ImageURL = "https://example.com/i.png" },
		"image desc":  func(f *DigestFields) { f.ImageDesc = "A hall" },
		"attachments": func(f *DigestFields) { f.Attachments = nil },
	}

	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			changed := base
			change(&changed)
			if ItemDigest(changed) == ItemDigest(base) {
				t.Errorf("Expected a %s change to alter the digest", name)
			}
		})
	}
}

func TestItemDigestFieldBoundaries(t *testing.T) {
	a := DigestFields{Title: "ab", Link: "c"}
	b := DigestFields{Title: "a", Link: "bc"}

	if ItemDigest(a) == ItemDigest(b) {
		t.Error("Expected field boundaries to be part of the digest")
	}
}

func TestItemDigestIgnoresNonContentFields(t *testing.T) {
	a := Candidate{Title: "Post", Link: "https://example.com/1", Author: "alice", PublishedAtRaw: "Mon, 03 Jul 2023 10:00:00 GMT", PublishedAt: 1}
	b := Candidate{Title: "Post", Link: "https://example.com/1", Author: "bob", PublishedAt: 2}

	if ItemDigest(FieldsOf(a)) != ItemDigest(FieldsOf(b)) {
		t.Error("Expected author and dates to be excluded from the item digest")
	}
}

func TestListDigest(t *testing.T) {
	a := Candidate{Title: "A"}
	b := Candidate{Title: "B"}

	if ListDigest([]Candidate{a, b}) == ListDigest([]Candidate{b, a}) {
		t.Error("Expected list digest to depend on order")
	}
	if ListDigest([]Candidate{a, b}) != ListDigest([]Candidate{a, b}) {
		t.Error("Expected list digest to be deterministic")
	}
	if ListDigest(nil) != ListDigest([]Candidate{}) {
		t.Error("Expected nil and empty lists to share a digest")
	}
	if ListDigest(nil) == "0" {
		t.Error("Expected empty list digest to differ from the never-reconciled marker")
	}
}
