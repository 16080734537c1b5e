package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultFetchTimeout = 8 * time.Second
	maxFeedSize         = 10 << 20
)

// Fetcher downloads and parses a feed. It never returns a Go error: every
// failure becomes the error sentinel of the FetchResult.
type Fetcher struct {
	httpClient *http.Client
	parser     *Parser
	userAgent  string
	timeout    time.Duration
}

func NewFetcher(httpClient *http.Client, parser *Parser, userAgent string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	return &Fetcher{
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Fetch downloads and parses url. A zero timeout uses the fetcher default.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration, maxItems int) (result FetchResult) {
	if timeout <= 0 {
		timeout = f.timeout
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Feed parser panicked", "url", url, "panic", r)
			result = FetchResult{Err: fmt.Errorf("failed to parse feed: %v", r)}
		}
	}()

	data, err := f.download(ctx, url, timeout)
	if err != nil {
		return FetchResult{Err: err}
	}

	metadata, items, err := f.parser.Run(data, maxItems)
	if err != nil {
		return FetchResult{Err: err}
	}

	return FetchResult{Metadata: metadata, Items: items}
}

func (f *Fetcher) download(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
