package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	bucketSize = 10000
	extension  = ".atom"

	// expiry markers are written on the document root, well inside this prefix
	markerScanLimit = 4096
)

var expiresMarker = regexp.MustCompile(`nb:expires="(\d+)"`)

type Outcome int

const (
	Miss Outcome = iota
	Hit
	NotModified
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "HIT"
	case NotModified:
		return "NOT_MODIFIED"
	default:
		return "MISS"
	}
}

type Entry struct {
	Payload   []byte
	ExpiresAt int64 // Unix seconds, 0 = until invalidated
	WrittenAt time.Time
}

// Store is a file-backed cache of rendered feeds keyed by owner and
// visibility key. Files live at <dir>/<owner/10000>/<owner>[.<key>].atom.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Get looks up an entry. A zero ifModifiedSince never yields NotModified.
func (s *Store) Get(ownerID int64, key VisibilityKey, ifModifiedSince time.Time) (Outcome, *Entry, error) {
	path := s.path(ownerID, key)

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Miss, nil, nil
	}
	if err != nil {
		return Miss, nil, fmt.Errorf("failed to stat cache entry: %w", err)
	}

	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Miss, nil, nil
	}
	if err != nil {
		return Miss, nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	entry := &Entry{
		Payload:   payload,
		ExpiresAt: ExpiresAt(payload),
		WrittenAt: info.ModTime(),
	}

	if entry.ExpiresAt != 0 && entry.ExpiresAt <= s.now().Unix() {
		return Miss, nil, nil
	}

	if !ifModifiedSince.IsZero() && entry.WrittenAt.Unix() < ifModifiedSince.Unix() {
		return NotModified, &Entry{ExpiresAt: entry.ExpiresAt, WrittenAt: entry.WrittenAt}, nil
	}

	return Hit, entry, nil
}

// Put stores payload, replacing any existing entry. expiresAt must match the
// marker embedded in the payload.
func (s *Store) Put(ownerID int64, key VisibilityKey, payload []byte, expiresAt int64) error {
	if embedded := ExpiresAt(payload); embedded != expiresAt {
		return fmt.Errorf("payload expiry marker %d does not match %d", embedded, expiresAt)
	}

	path := s.path(ownerID, key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// InvalidateOwner removes every cached variant of the owner's feed.
func (s *Store) InvalidateOwner(ownerID int64) error {
	bucket := s.bucketDir(ownerID)
	owner := strconv.FormatInt(ownerID, 10)

	entries, err := os.ReadDir(bucket)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}

	prefix := owner + "."
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(bucket, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove cache entry: %w", err)
		}
		removed++
	}

	slog.Debug("Cache invalidated", "owner_id", ownerID, "entries", removed)
	return nil
}

func (s *Store) path(ownerID int64, key VisibilityKey) string {
	name := strconv.FormatInt(ownerID, 10)
	if k := key.String(); k != "" {
		name += "." + k
	}
	return filepath.Join(s.bucketDir(ownerID), name+extension)
}

func (s *Store) bucketDir(ownerID int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(ownerID/bucketSize, 10))
}

// ExpiresAt recovers the expiry marker embedded in a rendered payload.
func ExpiresAt(payload []byte) int64 {
	head := payload
	if len(head) > markerScanLimit {
		head = head[:markerScanLimit]
	}

	m := expiresMarker.FindSubmatch(head)
	if m == nil {
		return 0
	}

	n, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
