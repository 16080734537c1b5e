package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/newsblock/app/database"
)

type BatchStats struct {
	Refreshed int
	Failed    int
	Skipped   int
	Errors    int
	Inserted  int
	Stale     int
}

// RefreshBatch walks one run's due list. It is created per run and holds the
// cursor; no refresh state outlives it.
type RefreshBatch struct {
	due        []database.Source
	pos        int
	reconciler SourceReconciler
	locker     SourceLocker
	leaseTTL   time.Duration
	stats      BatchStats
}

func NewRefreshBatch(due []database.Source, reconciler SourceReconciler, locker SourceLocker, leaseTTL time.Duration) *RefreshBatch {
	if locker == nil {
		locker = NoopLocker{}
	}

	return &RefreshBatch{
		due:        due,
		reconciler: reconciler,
		locker:     locker,
		leaseTTL:   leaseTTL,
	}
}

// Next returns the next source to refresh, or false when the batch is done.
func (b *RefreshBatch) Next() (database.Source, bool) {
	if b.pos >= len(b.due) {
		return database.Source{}, false
	}
	s := b.due[b.pos]
	b.pos++
	return s, true
}

func (b *RefreshBatch) Remaining() int {
	return len(b.due) - b.pos
}

// Run refreshes every source in order. A failing source never stops the
// batch; cancellation does.
func (b *RefreshBatch) Run(ctx context.Context) BatchStats {
	start := time.Now()

	for {
		if ctx.Err() != nil {
			slog.Warn("Refresh batch cancelled", "remaining", b.Remaining())
			break
		}

		source, ok := b.Next()
		if !ok {
			break
		}

		b.refresh(ctx, source)
	}

	slog.Info("Refresh batch completed",
		"sources", len(b.due),
		"refreshed", b.stats.Refreshed,
		"failed", b.stats.Failed,
		"skipped", b.stats.Skipped,
		"errors", b.stats.Errors,
		"inserted", b.stats.Inserted,
		"stale", b.stats.Stale,
		"duration", time.Since(start))

	return b.stats
}

func (b *RefreshBatch) refresh(ctx context.Context, source database.Source) {
	acquired, err := b.locker.Acquire(ctx, source.ID, b.leaseTTL)
	if err != nil {
		slog.Error("Failed to acquire source lease", "source_id", source.ID, "error", err)
		b.stats.Errors++
		return
	}
	if !acquired {
		slog.Debug("Source leased elsewhere, skipping", "source_id", source.ID)
		b.stats.Skipped++
		return
	}
	defer func() {
		if err := b.locker.Release(context.WithoutCancel(ctx), source.ID); err != nil {
			slog.Warn("Failed to release source lease", "source_id", source.ID, "error", err)
		}
	}()

	result, err := b.reconciler.Reconcile(ctx, source.ID)
	if err != nil {
		slog.Error("Source refresh failed", "source_id", source.ID, "owner_id", source.OwnerID, "url", source.URL, "error", err)
		b.stats.Errors++
		return
	}

	if result == nil {
		b.stats.Failed++
		return
	}

	b.stats.Refreshed++
	b.stats.Inserted += len(result.InsertedIDs)
	b.stats.Stale += len(result.StaleIDs)
}
