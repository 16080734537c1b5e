package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/newsblock/app/cfg"
	"github.com/lysyi3m/newsblock/app/database"
	"github.com/lysyi3m/newsblock/app/feed"
)

const defaultWorkerCount = 2

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	configCache     *feed.ConfigCache
	db              *database.DB
	reconciler      SourceReconciler
	blobs           BlobRemover
	cache           CacheInvalidator
	locker          SourceLocker
	cron            *cron.Cron
	batchSize       int
	refreshInterval time.Duration
	leaseTTL        time.Duration
	workerCount     int
	batchRunning    atomic.Bool
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	taskQueue       chan TaskInterface
}

func NewScheduler(configCache *feed.ConfigCache, db *database.DB, reconciler SourceReconciler,
	blobs BlobRemover, cache CacheInvalidator, locker SourceLocker) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	if locker == nil {
		locker = NoopLocker{}
	}

	s := &Scheduler{
		configCache:     configCache,
		db:              db,
		reconciler:      reconciler,
		blobs:           blobs,
		cache:           cache,
		locker:          locker,
		cron:            cron.New(cron.WithLocation(time.Local)),
		batchSize:       cfg.BatchSize,
		refreshInterval: cfg.RefreshInterval,
		leaseTTL:        2*cfg.FetchTimeout + time.Minute,
		workerCount:     defaultWorkerCount,
		ctx:             ctx,
		cancel:          cancel,
		taskQueue:       make(chan TaskInterface, 300),
	}

	if _, err := s.cron.AddFunc(cfg.BatchSchedule, s.runBatch); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid batch schedule %q: %w", cfg.BatchSchedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.enqueueStartupTasks()
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// SyncBlock queues a sync of one block's sources against its configuration.
func (s *Scheduler) SyncBlock(blockConfig *feed.Config) error {
	return s.EnqueueTask(NewSyncBlockConfigTask(blockConfig.Name, blockConfig, s.db, s.blobs, s.cache))
}

// RefreshSource queues an out-of-batch refresh of one source.
func (s *Scheduler) RefreshSource(sourceID int64) error {
	return s.EnqueueTask(NewReconcileSourceTask(sourceID, s.reconciler))
}

func (s *Scheduler) enqueueStartupTasks() {
	blockConfigs := s.configCache.GetConfigs()
	if len(blockConfigs) == 0 {
		slog.Debug("No block configurations found")
		return
	}

	slog.Debug("Processing block configurations", "count", len(blockConfigs))

	for _, blockConfig := range blockConfigs {
		if err := s.SyncBlock(blockConfig); err != nil {
			slog.Warn("Failed to enqueue SyncBlockConfigTask", "block", blockConfig.Name, "error", err)
		}
	}
}

// runBatch is the cron job. Ticks that arrive while a batch is still running
// are dropped.
func (s *Scheduler) runBatch() {
	if !s.batchRunning.CompareAndSwap(false, true) {
		slog.Debug("Refresh batch still running, skipping tick")
		return
	}
	defer s.batchRunning.Store(false)

	lister := &enabledSources{repo: database.NewSourceRepository(s.db), configCache: s.configCache}
	due, err := DueSources(s.ctx, lister, s.batchSize, time.Now().Unix(), int64(s.refreshInterval.Seconds()))
	if err != nil {
		slog.Error("Failed to select due sources", "error", err)
		return
	}

	if len(due) == 0 {
		slog.Debug("No sources due for refresh")
		return
	}

	NewRefreshBatch(due, s.reconciler, s.locker, s.leaseTTL).Run(s.ctx)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if isPermanent(err) {
			slog.Error("Task failed permanently", "type", string(task.GetType()), "subject", task.GetSubject(), "error", err)
			return
		}

		if task.CanRetry() {
			task.IncrementRetryCount()
			delay := retryDelay(task.GetRetryCount())

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "subject", task.GetSubject(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", delay.String())

			go func() {
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				case <-time.After(delay):
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}

func retryDelay(retryCount int) time.Duration {
	delay := time.Duration(1<<uint(retryCount-1)) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// isPermanent reports contract violations that a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, database.ErrSourceNotFound) || errors.Is(err, feed.ErrOwnerNotFound)
}

// enabledSources lists only sources whose block is configured and enabled.
type enabledSources struct {
	repo        SourceLister
	configCache *feed.ConfigCache
}

func (e *enabledSources) GetAllSources(ctx context.Context) ([]database.Source, error) {
	all, err := e.repo.GetAllSources(ctx)
	if err != nil {
		return nil, err
	}

	enabled := make([]database.Source, 0, len(all))
	for _, source := range all {
		blockConfig, err := e.configCache.GetOwnerConfig(source.OwnerID)
		if err != nil || !blockConfig.Settings.Enabled {
			continue
		}
		enabled = append(enabled, source)
	}

	return enabled, nil
}
