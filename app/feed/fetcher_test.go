package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const fetcherFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>T</title>
<item><title>One</title><link>https://example.com/1</link></item>
</channel></rss>`

func TestFetcherSuccess(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(fetcherFeed))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), NewParser(), "Newsblock/test", time.Second)
	result := fetcher.Fetch(context.Background(), server.URL, 0, 0)

	if result.Failed() {
		t.Fatalf("Expected success, got: %v", result.Err)
	}
	if len(result.Items) != 1 || result.Items[0].Title != "One" {
		t.Errorf("Unexpected items: %+v", result.Items)
	}
	if userAgent != "Newsblock/test" {
		t.Errorf("Expected user agent 'Newsblock/test', got '%s'", userAgent)
	}
}

func TestFetcherErrorsBecomeSentinel(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "gone", http.StatusGone)
			},
			want: "HTTP 410",
		},
		{
			name: "malformed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>not a feed</html>"))
			},
			want: "failed to parse feed",
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: "failed to fetch feed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			fetcher := NewFetcher(server.Client(), NewParser(), "test", 100*time.Millisecond)
			result := fetcher.Fetch(context.Background(), server.URL, 0, 0)

			if !result.Failed() {
				t.Fatal("Expected failure")
			}
			if !strings.Contains(result.Err.Error(), tt.want) {
				t.Errorf("Expected error containing '%s', got: %v", tt.want, result.Err)
			}
			if len(result.Items) != 0 {
				t.Error("Expected no items alongside an error")
			}
		})
	}
}

func TestFetcherUnreachableHost(t *testing.T) {
	fetcher := NewFetcher(http.DefaultClient, NewParser(), "test", 100*time.Millisecond)
	result := fetcher.Fetch(context.Background(), "http://127.0.0.1:1/feed", 0, 0)

	if !result.Failed() {
		t.Error("Expected failure for unreachable host")
	}
}
