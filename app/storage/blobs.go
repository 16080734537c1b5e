package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	AreaImage       = "image"
	AreaAttachments = "attachments"

	maxBlobSize = 25 << 20

	DefaultDownloadTimeout = 30 * time.Second
)

// BlobStore keeps downloaded item images and attachments on disk under
// <root>/<owner>/<area>/<item>/<name>.
type BlobStore struct {
	root       string
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

// NewBlobStore creates a store under root. Each download is bounded by
// timeout, or DefaultDownloadTimeout when timeout is not positive.
func NewBlobStore(root string, httpClient *http.Client, userAgent string, timeout time.Duration) *BlobStore {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	return &BlobStore{root: root, httpClient: httpClient, userAgent: userAgent, timeout: timeout}
}

// Download fetches url and stores it for the item, returning a ref relative to
// the store root.
func (s *BlobStore) Download(ctx context.Context, ownerID int64, area string, itemID int64, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return s.Put(ownerID, area, itemID, blobName(url), io.LimitReader(resp.Body, maxBlobSize))
}

// Put writes r as a blob of the item and returns its ref.
func (s *BlobStore) Put(ownerID int64, area string, itemID int64, name string, r io.Reader) (string, error) {
	dir := s.itemDir(ownerID, area, itemID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}

	name = uniqueName(dir, name)
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	return path.Join(strconv.FormatInt(ownerID, 10), area, strconv.FormatInt(itemID, 10), name), nil
}

// Path resolves a ref returned by Put to a file path.
func (s *BlobStore) Path(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+ref)))
}

// DeleteItem removes every blob of the item in all areas.
func (s *BlobStore) DeleteItem(ownerID, itemID int64) error {
	for _, area := range []string{AreaImage, AreaAttachments} {
		if err := os.RemoveAll(s.itemDir(ownerID, area, itemID)); err != nil {
			return fmt.Errorf("failed to delete %s blobs of item %d: %w", area, itemID, err)
		}
	}
	slog.Debug("Item blobs deleted", "owner_id", ownerID, "item_id", itemID)
	return nil
}

func (s *BlobStore) itemDir(ownerID int64, area string, itemID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(ownerID, 10), area, strconv.FormatInt(itemID, 10))
}

func blobName(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}

	name := path.Base(url)
	if name == "." || name == "/" || name == "" {
		return "blob"
	}

	return sanitizeName(name)
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	s := strings.TrimLeft(b.String(), ".")
	if s == "" {
		return "blob"
	}
	return s
}

func uniqueName(dir, name string) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
