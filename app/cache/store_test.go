package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func payload(expiresAt int64) []byte {
	if expiresAt == 0 {
		return []byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`)
	}
	return []byte(fmt.Sprintf(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom" nb:expires="%d"></feed>`, expiresAt))
}

func newTestStore(t *testing.T, now time.Time) *Store {
	s := NewStore(t.TempDir())
	s.now = func() time.Time { return now }
	return s
}

func TestStorePutGetHit(t *testing.T) {
	s := newTestStore(t, time.Now())

	if err := s.Put(5, GroupingKey(2, 1), payload(0), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	outcome, entry, err := s.Get(5, GroupingKey(1, 2), time.Time{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if outcome != Hit {
		t.Fatalf("Expected HIT, got %s", outcome)
	}
	if string(entry.Payload) != string(payload(0)) {
		t.Errorf("Unexpected payload: %s", entry.Payload)
	}
}

func TestStoreIsolation(t *testing.T) {
	s := newTestStore(t, time.Now())

	if err := s.Put(1, GroupingKey(1), payload(0), 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		owner int64
		key   VisibilityKey
	}{
		{"other owner", 2, GroupingKey(1)},
		{"other grouping set", 1, GroupingKey(1, 2)},
		{"identity", 1, IdentityKey("1")},
		{"public", 1, VisibilityKey{}},
		{"owner sharing prefix", 11, GroupingKey(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, _, err := s.Get(tt.owner, tt.key, time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			if outcome != Miss {
				t.Errorf("Expected MISS, got %s", outcome)
			}
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := newTestStore(t, now)

	if err := s.Put(1, VisibilityKey{}, payload(now.Unix()+60), now.Unix()+60); err != nil {
		t.Fatal(err)
	}

	outcome, entry, err := s.Get(1, VisibilityKey{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Hit {
		t.Fatalf("Expected HIT before expiry, got %s", outcome)
	}
	if entry.ExpiresAt != now.Unix()+60 {
		t.Errorf("Expected expiresAt %d, got %d", now.Unix()+60, entry.ExpiresAt)
	}

	s.now = func() time.Time { return now.Add(60 * time.Second) }
	outcome, _, err = s.Get(1, VisibilityKey{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Miss {
		t.Errorf("Expected MISS at expiry, got %s", outcome)
	}
}

func TestStoreNotModified(t *testing.T) {
	s := newTestStore(t, time.Now())

	if err := s.Put(1, IdentityKey("alice"), payload(0), 0); err != nil {
		t.Fatal(err)
	}

	written := time.Now().Add(-time.Hour)
	path := s.path(1, IdentityKey("alice"))
	if err := os.Chtimes(path, written, written); err != nil {
		t.Fatal(err)
	}

	outcome, entry, err := s.Get(1, IdentityKey("alice"), written.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != NotModified {
		t.Fatalf("Expected NOT_MODIFIED, got %s", outcome)
	}
	if entry.Payload != nil {
		t.Error("Expected no payload for NOT_MODIFIED")
	}

	outcome, _, err = s.Get(1, IdentityKey("alice"), written.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Hit {
		t.Errorf("Expected HIT for older If-Modified-Since, got %s", outcome)
	}
}

func TestStoreInvalidateOwner(t *testing.T) {
	s := newTestStore(t, time.Now())

	keys := []VisibilityKey{{}, GroupingKey(1), GroupingKey(1, 2), IdentityKey("bob")}
	for _, key := range keys {
		if err := s.Put(7, key, payload(0), 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put(70, VisibilityKey{}, payload(0), 0); err != nil {
		t.Fatal(err)
	}

	if err := s.InvalidateOwner(7); err != nil {
		t.Fatalf("InvalidateOwner failed: %v", err)
	}

	for _, key := range keys {
		outcome, _, err := s.Get(7, key, time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		if outcome != Miss {
			t.Errorf("Expected MISS for key %q after invalidation, got %s", key.String(), outcome)
		}
	}

	outcome, _, err := s.Get(70, VisibilityKey{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Hit {
		t.Errorf("Expected other owner to stay cached, got %s", outcome)
	}
}

func TestStoreInvalidateOwnerMetacharDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache[1]*?")
	s := NewStore(dir)

	keys := []VisibilityKey{{}, GroupingKey(3), IdentityKey("carol")}
	for _, key := range keys {
		if err := s.Put(7, key, payload(0), 0); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.InvalidateOwner(7); err != nil {
		t.Fatalf("InvalidateOwner failed: %v", err)
	}

	for _, key := range keys {
		outcome, _, err := s.Get(7, key, time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		if outcome != Miss {
			t.Errorf("Expected MISS for key %q after invalidation, got %s", key.String(), outcome)
		}
	}

	if err := s.InvalidateOwner(12345); err != nil {
		t.Errorf("Expected no error for owner without cache entries, got %v", err)
	}
}

func TestStorePutRejectsMismatchedExpiry(t *testing.T) {
	s := newTestStore(t, time.Now())

	if err := s.Put(1, VisibilityKey{}, payload(0), 123); err == nil {
		t.Error("Expected error for mismatched expiry marker")
	}
}

func TestStorePathSharding(t *testing.T) {
	s := NewStore("/cache")

	tests := []struct {
		owner int64
		key   VisibilityKey
		want  string
	}{
		{42, VisibilityKey{}, "/cache/0/42.atom"},
		{12345, GroupingKey(3, 1), "/cache/1/12345.1,3.atom"},
		{20000, IdentityKey("carol"), "/cache/2/20000.u-carol.atom"},
	}

	for _, tt := range tests {
		if got := s.path(tt.owner, tt.key); got != filepath.FromSlash(tt.want) {
			t.Errorf("path(%d, %q) = %s, want %s", tt.owner, tt.key.String(), got, tt.want)
		}
	}
}

func TestVisibilityKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  VisibilityKey
		want string
	}{
		{"public", VisibilityKey{}, ""},
		{"sorted groupings", GroupingKey(10, 2, 2), "2,10"},
		{"identity", IdentityKey("dave@example.org"), "u-dave@example.org"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	unsafe := IdentityKey("../../etc").String()
	if filepath.Base(unsafe) != unsafe || !strings.HasPrefix(unsafe, "h-") || len(unsafe) != len("h-")+32 {
		t.Errorf("Expected hashed identity key, got %q", unsafe)
	}

	hashed := IdentityKey("alice smith").String()
	lookalike := IdentityKey("sha256-" + strings.TrimPrefix(hashed, "h-")).String()
	if hashed == lookalike {
		t.Errorf("Distinct identities share cache key %q", hashed)
	}
	for _, plain := range []string{"h-" + strings.TrimPrefix(hashed, "h-"), "sha256-" + strings.TrimPrefix(hashed, "h-")} {
		if got := IdentityKey(plain).String(); got == hashed {
			t.Errorf("Identity %q collides with hashed key %q", plain, hashed)
		}
	}
}
