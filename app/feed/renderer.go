package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lysyi3m/newsblock/app/cache"
	"github.com/lysyi3m/newsblock/app/database"
)

// Viewer describes who is reading an owner's feed. Membership is resolved
// by the caller.
type Viewer struct {
	Key           cache.VisibilityKey
	CanViewHidden bool
}

// Rendered is a feed document together with how it was obtained.
type Rendered struct {
	Outcome   cache.Outcome
	Payload   []byte
	ExpiresAt int64
	WrittenAt time.Time
	Items     int
	Cached    bool
}

// Renderer serves owner feeds from the cache store, rendering on a miss.
type Renderer struct {
	db          *database.DB
	configCache *ConfigCache
	generator   *Generator
	store       *cache.Store
	group       singleflight.Group
	now         func() time.Time
}

func NewRenderer(db *database.DB, configCache *ConfigCache, generator *Generator, store *cache.Store) *Renderer {
	return &Renderer{
		db:          db,
		configCache: configCache,
		generator:   generator,
		store:       store,
		now:         time.Now,
	}
}

// Serve answers a feed request: cached payload, not-modified, or a fresh
// render that is stored for the next request. Viewers that can see hidden
// items always get a fresh, uncached render.
func (r *Renderer) Serve(ctx context.Context, ownerID int64, viewer Viewer, ifModifiedSince time.Time) (*Rendered, error) {
	if _, err := r.configCache.GetOwnerConfig(ownerID); err != nil {
		return nil, err
	}

	if !viewer.CanViewHidden {
		outcome, entry, err := r.store.Get(ownerID, viewer.Key, ifModifiedSince)
		if err != nil {
			return nil, fmt.Errorf("failed to read cache: %w", err)
		}

		switch outcome {
		case cache.Hit:
			return &Rendered{Outcome: cache.Hit, Payload: entry.Payload, ExpiresAt: entry.ExpiresAt, WrittenAt: entry.WrittenAt, Items: countEntries(entry.Payload), Cached: true}, nil
		case cache.NotModified:
			return &Rendered{Outcome: cache.NotModified, ExpiresAt: entry.ExpiresAt, WrittenAt: entry.WrittenAt, Cached: true}, nil
		}
	}

	return r.RenderAndCache(ctx, ownerID, viewer)
}

// RenderAndCache renders the owner's feed for viewer and stores it. Concurrent
// renders of the same variant share one result.
func (r *Renderer) RenderAndCache(ctx context.Context, ownerID int64, viewer Viewer) (*Rendered, error) {
	if viewer.CanViewHidden {
		return r.render(ctx, ownerID, viewer)
	}

	key := strconv.FormatInt(ownerID, 10) + "/" + viewer.Key.String()
	v, err, shared := r.group.Do(key, func() (any, error) {
		rendered, err := r.render(ctx, ownerID, viewer)
		if err != nil {
			return nil, err
		}

		if err := r.store.Put(ownerID, viewer.Key, rendered.Payload, rendered.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to store rendered feed: %w", err)
		}
		rendered.Cached = true

		return rendered, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		slog.Debug("Render shared", "owner_id", ownerID, "key", viewer.Key.String())
	}

	return v.(*Rendered), nil
}

// Invalidate drops every cached variant of the owner's feed.
func (r *Renderer) Invalidate(ownerID int64) error {
	return r.store.InvalidateOwner(ownerID)
}

func (r *Renderer) render(ctx context.Context, ownerID int64, viewer Viewer) (*Rendered, error) {
	block, err := r.configCache.GetOwnerConfig(ownerID)
	if err != nil {
		return nil, err
	}

	items, err := database.NewItemRepository(r.db).GetOwnerItems(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	visible, expiresAt := SelectVisible(items, viewer, now.Unix())

	if limit := block.Settings.MaxItems; limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}

	payload, err := r.generator.Run(block, visible, expiresAt)
	if err != nil {
		return nil, err
	}

	slog.Debug("Feed rendered", "owner_id", ownerID, "key", viewer.Key.String(), "items", len(visible), "expires_at", expiresAt)

	return &Rendered{
		Outcome:   cache.Miss,
		Payload:   payload,
		ExpiresAt: expiresAt,
		WrittenAt: now,
		Items:     len(visible),
	}, nil
}

// SelectVisible filters items for viewer, keeping their order, and returns
// the earliest future publication time among scheduled items the viewer will
// be able to see (0 if none).
func SelectVisible(items []database.Item, viewer Viewer, now int64) ([]database.Item, int64) {
	var out []database.Item
	var expiresAt int64

	for _, item := range items {
		if viewer.CanViewHidden {
			out = append(out, item)
			continue
		}

		if !item.Visible || !matchesKey(item.VisibilityKeys, viewer.Key) {
			continue
		}

		if item.PublishedAt > now {
			if expiresAt == 0 || item.PublishedAt < expiresAt {
				expiresAt = item.PublishedAt
			}
			continue
		}

		out = append(out, item)
	}

	return out, expiresAt
}

func countEntries(payload []byte) int {
	return bytes.Count(payload, []byte("<entry>"))
}

func matchesKey(itemKeys []string, key cache.VisibilityKey) bool {
	if len(itemKeys) == 0 {
		return true
	}

	if key.Identity != "" {
		return slices.Contains(itemKeys, key.Identity)
	}

	for _, id := range key.Groupings {
		if slices.Contains(itemKeys, strconv.FormatInt(id, 10)) {
			return true
		}
	}

	return false
}
