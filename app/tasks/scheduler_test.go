package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lysyi3m/newsblock/app/database"
	"github.com/lysyi3m/newsblock/app/feed"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := retryDelay(tt.retry); got != tt.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	if !isPermanent(fmt.Errorf("wrapped: %w", database.ErrSourceNotFound)) {
		t.Error("Expected missing source to be permanent")
	}
	if !isPermanent(fmt.Errorf("wrapped: %w", feed.ErrOwnerNotFound)) {
		t.Error("Expected missing owner to be permanent")
	}
	if isPermanent(errors.New("database is locked")) {
		t.Error("Expected other errors to be retryable")
	}
}

func TestTaskRetryBookkeeping(t *testing.T) {
	task := NewTask(TaskTypeReconcileSource, "source:1")

	for i := 0; i < DefaultMaxRetries; i++ {
		if !task.CanRetry() {
			t.Fatalf("Expected retry %d to be allowed", i+1)
		}
		task.IncrementRetryCount()
	}
	if task.CanRetry() {
		t.Error("Expected retries to be exhausted")
	}
	if task.GetSubject() != "source:1" {
		t.Errorf("Expected subject 'source:1', got '%s'", task.GetSubject())
	}
}

func newTestConfigCache(t *testing.T, blocks map[string]string) *feed.ConfigCache {
	t.Helper()
	dir := t.TempDir()
	for name, content := range blocks {
		if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	configCache := feed.NewConfigCache(dir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}
	return configCache
}

func TestEnabledSourcesFiltersDisabledBlocks(t *testing.T) {
	configCache := newTestConfigCache(t, map[string]string{
		"on":  "owner_id: 1\nsettings:\n  enabled: true\n",
		"off": "owner_id: 2\nsettings:\n  enabled: false\n",
	})

	lister := &enabledSources{
		repo: &MockSourceLister{sources: []database.Source{
			{ID: 1, OwnerID: 1}, {ID: 2, OwnerID: 2}, {ID: 3, OwnerID: 99},
		}},
		configCache: configCache,
	}

	sources, err := lister.GetAllSources(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !equalIDs(ids(sources), []int64{1}) {
		t.Errorf("Expected only the enabled block's source, got %v", ids(sources))
	}
}

func newTestScheduler(t *testing.T, reconciler SourceReconciler) (*Scheduler, *database.DB) {
	t.Helper()
	db := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := &Scheduler{
		configCache: newTestConfigCache(t, map[string]string{
			"on": "owner_id: 1\nsettings:\n  enabled: true\n",
		}),
		db:              db,
		reconciler:      reconciler,
		locker:          NoopLocker{},
		batchSize:       10,
		refreshInterval: 4 * time.Hour,
		leaseTTL:        time.Minute,
		ctx:             ctx,
		cancel:          cancel,
		taskQueue:       make(chan TaskInterface, 10),
	}
	return s, db
}

func TestSchedulerRunBatch(t *testing.T) {
	reconciler := &MockReconciler{results: map[int64]*feed.Result{}}
	s, db := newTestScheduler(t, reconciler)

	id, _, err := database.NewSourceRepository(db).UpsertSource(context.Background(), 1, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}

	s.runBatch()

	if !equalIDs(reconciler.calls, []int64{id}) {
		t.Errorf("Expected never-fetched source to be refreshed, got %v", reconciler.calls)
	}
}

func TestSchedulerRunBatchSkipsOverlappingTick(t *testing.T) {
	reconciler := &MockReconciler{results: map[int64]*feed.Result{}}
	s, db := newTestScheduler(t, reconciler)

	if _, _, err := database.NewSourceRepository(db).UpsertSource(context.Background(), 1, "https://example.com/a"); err != nil {
		t.Fatal(err)
	}

	s.batchRunning.Store(true)
	s.runBatch()

	if len(reconciler.calls) != 0 {
		t.Errorf("Expected overlapping tick to be skipped, got %v", reconciler.calls)
	}
}

func TestSchedulerEnqueueTask(t *testing.T) {
	s, _ := newTestScheduler(t, &MockReconciler{})

	if err := s.RefreshSource(5); err != nil {
		t.Fatalf("Expected task to be queued, got %v", err)
	}

	task := <-s.taskQueue
	if task.GetType() != TaskTypeReconcileSource || task.GetSubject() != "source:5" {
		t.Errorf("Unexpected task: %s %s", task.GetType(), task.GetSubject())
	}

	for i := 0; i < cap(s.taskQueue); i++ {
		if err := s.RefreshSource(int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RefreshSource(99); err == nil {
		t.Error("Expected error when the queue is full")
	}
}
