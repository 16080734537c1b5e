package tasks

import (
	"context"

	"github.com/lysyi3m/newsblock/app/feed"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to run background work.
// Example usage:
//
//	scheduler := NewScheduler(configCache, db, reconciler, blobs, renderer, locker)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewReconcileSourceTask(sourceID, reconciler))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// SourceReconciler refreshes one source from its upstream feed.
type SourceReconciler interface {
	Reconcile(ctx context.Context, sourceID int64) (*feed.Result, error)
}

// CacheInvalidator drops cached renders of an owner.
type CacheInvalidator interface {
	Invalidate(ownerID int64) error
}

// BlobRemover deletes the stored blobs of an item.
type BlobRemover interface {
	DeleteItem(ownerID, itemID int64) error
}
