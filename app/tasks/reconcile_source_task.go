package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

// ReconcileSourceTask refreshes a single source outside the batch, e.g. on
// an API request.
type ReconcileSourceTask struct {
	Task
	SourceID   int64
	reconciler SourceReconciler
}

func NewReconcileSourceTask(sourceID int64, reconciler SourceReconciler) *ReconcileSourceTask {
	return &ReconcileSourceTask{
		Task:       NewTask(TaskTypeReconcileSource, fmt.Sprintf("source:%d", sourceID)),
		SourceID:   sourceID,
		reconciler: reconciler,
	}
}

func (t *ReconcileSourceTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.reconciler.Reconcile(ctx, t.SourceID)
	if err != nil {
		return fmt.Errorf("failed to reconcile source %d: %w", t.SourceID, err)
	}

	if result == nil {
		slog.Info("Task completed with fetch error recorded",
			"type", "ReconcileSource",
			"source_id", t.SourceID,
			"duration", t.GetDuration())
		return nil
	}

	slog.Info("Task completed",
		"type", "ReconcileSource",
		"source_id", t.SourceID,
		"inserted", len(result.InsertedIDs),
		"stale", len(result.StaleIDs),
		"duration", t.GetDuration())

	return nil
}
