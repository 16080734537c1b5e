package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lysyi3m/newsblock/app/database"
	"github.com/lysyi3m/newsblock/app/feed"
)

// SyncBlockConfigTask makes the registered sources of a block match its
// configuration: listed URLs are registered, unlisted ones are removed with
// their items, blobs and cached renders.
type SyncBlockConfigTask struct {
	Task
	BlockName   string
	BlockConfig *feed.Config
	db          *database.DB
	blobs       BlobRemover
	cache       CacheInvalidator
}

func NewSyncBlockConfigTask(blockName string, blockConfig *feed.Config, db *database.DB, blobs BlobRemover, cache CacheInvalidator) *SyncBlockConfigTask {
	return &SyncBlockConfigTask{
		Task:        NewTask(TaskTypeSyncBlockConfig, blockName),
		BlockName:   blockName,
		BlockConfig: blockConfig,
		db:          db,
		blobs:       blobs,
		cache:       cache,
	}
}

func (t *SyncBlockConfigTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ownerID := t.BlockConfig.OwnerID
	var created int
	var removedItems []int64

	err := t.db.WithTx(ctx, func(q database.Querier) error {
		sources := database.NewSourceRepository(q)
		items := database.NewItemRepository(q)

		for _, url := range t.BlockConfig.Sources {
			_, isNew, err := sources.UpsertSource(ctx, ownerID, url)
			if err != nil {
				return err
			}
			if isNew {
				created++
			}
		}

		existing, err := sources.GetOwnerSources(ctx, ownerID)
		if err != nil {
			return err
		}

		for _, source := range existing {
			if slices.Contains(t.BlockConfig.Sources, source.URL) {
				continue
			}

			ids, err := items.GetSourceItemIDs(ctx, source.ID)
			if err != nil {
				return err
			}
			if err := sources.DeleteSource(ctx, source.ID); err != nil {
				return err
			}
			removedItems = append(removedItems, ids...)

			slog.Info("Source removed from block", "block", t.BlockName, "source_id", source.ID, "url", source.URL, "items", len(ids))
		}

		return database.NewSearchQueue(q).QueueStale(ctx, removedItems, time.Now().Unix())
	})
	if err != nil {
		slog.Error("Task failed", "type", "SyncBlockConfig", "block", t.BlockName, "error", err)
		return fmt.Errorf("failed to sync block config to database: %w", err)
	}

	if t.blobs != nil {
		for _, id := range removedItems {
			if err := t.blobs.DeleteItem(ownerID, id); err != nil {
				slog.Warn("Failed to delete item blobs", "item_id", id, "error", err)
			}
		}
	}

	if len(removedItems) > 0 && t.cache != nil {
		if err := t.cache.Invalidate(ownerID); err != nil {
			return fmt.Errorf("failed to invalidate cache of owner %d: %w", ownerID, err)
		}
	}

	slog.Info("Task completed",
		"type", "SyncBlockConfig",
		"block", t.BlockName,
		"owner_id", ownerID,
		"created", created,
		"removed_items", len(removedItems),
		"duration", t.GetDuration())

	return nil
}
