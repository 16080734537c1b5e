package feed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lysyi3m/newsblock/app/database"
	"github.com/lysyi3m/newsblock/app/storage"
)

// Invalidator drops every cached render of an owner.
type Invalidator interface {
	InvalidateOwner(ownerID int64) error
}

// Blobs stores item images and attachments.
type Blobs interface {
	Download(ctx context.Context, ownerID int64, area string, itemID int64, url string) (string, error)
	DeleteItem(ownerID, itemID int64) error
}

// Result lists what a reconciliation pass changed. Kept items are not listed.
type Result struct {
	InsertedIDs []int64
	StaleIDs    []int64
}

func (r *Result) Changed() bool {
	return len(r.InsertedIDs) > 0 || len(r.StaleIDs) > 0
}

type pendingBlobs struct {
	itemID int64
	extras Extras
}

// Reconciler keeps the stored items of a source in sync with its upstream
// feed. Items are matched by content digest: unchanged items keep their ids,
// new content is inserted and vanished content is deleted.
type Reconciler struct {
	db          *database.DB
	fetcher     *Fetcher
	configCache *ConfigCache
	blobs       Blobs
	cache       Invalidator
	now         func() time.Time
}

func NewReconciler(db *database.DB, fetcher *Fetcher, configCache *ConfigCache, blobs Blobs, cache Invalidator) *Reconciler {
	return &Reconciler{
		db:          db,
		fetcher:     fetcher,
		configCache: configCache,
		blobs:       blobs,
		cache:       cache,
		now:         time.Now,
	}
}

// Reconcile fetches the source's feed and applies it. The fetch runs outside
// any transaction.
func (r *Reconciler) Reconcile(ctx context.Context, sourceID int64) (*Result, error) {
	source, err := database.NewSourceRepository(r.db).GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	var timeout time.Duration
	var maxItems int
	if r.configCache != nil {
		if blockConfig, err := r.configCache.GetOwnerConfig(source.OwnerID); err == nil {
			if blockConfig.Settings.Timeout > 0 {
				timeout = time.Duration(blockConfig.Settings.Timeout) * time.Second
			}
			maxItems = blockConfig.Settings.MaxItems
		}
	}

	start := time.Now()
	fetched := r.fetcher.Fetch(ctx, source.URL, timeout, maxItems)
	slog.Debug("Feed fetched", "source_id", source.ID, "url", source.URL, "items", len(fetched.Items), "failed", fetched.Failed(), "duration", time.Since(start))

	return r.Apply(ctx, source, fetched)
}

// Apply reconciles a fetch result against the stored items of source. A nil
// result with a nil error means the fetch failure was recorded on the source.
func (r *Reconciler) Apply(ctx context.Context, source *database.Source, fetched FetchResult) (*Result, error) {
	now := r.now().Unix()
	sources := database.NewSourceRepository(r.db)

	if fetched.Failed() {
		errText := database.TruncateErrorText(fetched.Err.Error())
		if err := sources.RecordFailure(ctx, source.ID, errText, now); err != nil {
			return nil, err
		}
		slog.Warn("Feed fetch failed", "source_id", source.ID, "url", source.URL, "error_count", source.ErrorCount+1, "error", errText)
		return nil, nil
	}

	listDigest := ListDigest(fetched.Items)
	if listDigest == source.ContentDigest {
		if err := sources.MarkFetched(ctx, source.ID, now); err != nil {
			return nil, err
		}
		slog.Debug("Feed unchanged", "source_id", source.ID)
		return &Result{}, nil
	}

	result := &Result{}
	var staleItems []database.Item
	var pending []pendingBlobs

	err := r.db.WithTx(ctx, func(q database.Querier) error {
		txSources := database.NewSourceRepository(q)
		txItems := database.NewItemRepository(q)

		if err := txSources.MarkFetched(ctx, source.ID, now); err != nil {
			return err
		}

		existing, err := txItems.GetSourceItems(ctx, source.ID)
		if err != nil {
			return err
		}

		working := make(map[string][]database.Item, len(existing))
		for _, item := range existing {
			working[item.ItemDigest] = append(working[item.ItemDigest], item)
		}

		for _, candidate := range fetched.Items {
			digest := ItemDigest(FieldsOf(candidate))

			if rows := working[digest]; len(rows) > 0 {
				working[digest] = rows[1:]
				continue
			}

			item := newSourcedItem(source, candidate, digest, now)
			id, err := txItems.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			result.InsertedIDs = append(result.InsertedIDs, id)

			if candidate.Extras.ImageURL != "" || len(candidate.Extras.Attachments) > 0 {
				pending = append(pending, pendingBlobs{itemID: id, extras: candidate.Extras})
			}
		}

		for _, rows := range working {
			staleItems = append(staleItems, rows...)
		}
		slices.SortFunc(staleItems, func(a, b database.Item) int { return cmp.Compare(a.ID, b.ID) })

		for _, item := range staleItems {
			result.StaleIDs = append(result.StaleIDs, item.ID)
		}

		if err := txItems.DeleteItems(ctx, result.StaleIDs); err != nil {
			return err
		}

		if err := database.NewSearchQueue(q).QueueStale(ctx, result.StaleIDs, now); err != nil {
			return err
		}

		return txSources.MarkReconciled(ctx, source.ID, listDigest, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile source %d: %w", source.ID, err)
	}

	r.storeBlobs(ctx, source.OwnerID, pending)
	r.deleteBlobs(source.OwnerID, staleItems)

	if result.Changed() && r.cache != nil {
		if err := r.cache.InvalidateOwner(source.OwnerID); err != nil {
			return result, fmt.Errorf("failed to invalidate cache of owner %d: %w", source.OwnerID, err)
		}
	}

	slog.Info("Feed reconciled", "source_id", source.ID, "owner_id", source.OwnerID, "inserted", len(result.InsertedIDs), "stale", len(result.StaleIDs), "kept", len(fetched.Items)-len(result.InsertedIDs))

	return result, nil
}

func newSourcedItem(source *database.Source, c Candidate, digest string, now int64) *database.Item {
	sourceID := source.ID
	publishedAt := c.PublishedAt
	if publishedAt == 0 {
		publishedAt = now
	}

	return &database.Item{
		OwnerID:       source.OwnerID,
		SourceID:      &sourceID,
		Title:         c.Title,
		Link:          c.Link,
		Body:          c.Body,
		PublishedAt:   publishedAt,
		Visible:       true,
		Type:          c.Type(),
		EventStart:    c.Extras.Start,
		EventEnd:      c.Extras.End,
		EventLocation: c.Extras.Location,
		ImageDesc:     c.Extras.ImageDesc,
		ItemDigest:    digest,
	}
}

// storeBlobs downloads extras of newly inserted items. A failed download
// leaves the ref empty; the item itself is kept.
func (r *Reconciler) storeBlobs(ctx context.Context, ownerID int64, pending []pendingBlobs) {
	if r.blobs == nil {
		return
	}

	items := database.NewItemRepository(r.db)
	for _, p := range pending {
		var imageRef string
		if p.extras.ImageURL != "" {
			ref, err := r.blobs.Download(ctx, ownerID, storage.AreaImage, p.itemID, p.extras.ImageURL)
			if err != nil {
				slog.Warn("Failed to store item image", "item_id", p.itemID, "url", p.extras.ImageURL, "error", err)
			} else {
				imageRef = ref
			}
		}

		var attachmentRefs []string
		for _, url := range p.extras.Attachments {
			ref, err := r.blobs.Download(ctx, ownerID, storage.AreaAttachments, p.itemID, url)
			if err != nil {
				slog.Warn("Failed to store item attachment", "item_id", p.itemID, "url", url, "error", err)
				continue
			}
			attachmentRefs = append(attachmentRefs, ref)
		}

		if imageRef == "" && len(attachmentRefs) == 0 {
			continue
		}
		if err := items.UpdateRefs(ctx, p.itemID, imageRef, attachmentRefs); err != nil {
			slog.Error("Failed to record item blobs", "item_id", p.itemID, "error", err)
		}
	}
}

func (r *Reconciler) deleteBlobs(ownerID int64, stale []database.Item) {
	if r.blobs == nil {
		return
	}

	for _, item := range stale {
		if err := r.blobs.DeleteItem(ownerID, item.ID); err != nil {
			slog.Error("Failed to delete item blobs", "item_id", item.ID, "error", err)
		}
	}
}
