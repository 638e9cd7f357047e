package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"stayops/internal/metrics"
	"stayops/internal/models"
	"stayops/internal/queue"
)

// Worker consumes sync tasks and drives them through the engine. It
// prefers the broker and falls back to polling the sync log for queued
// rows whose message never arrived.
type Worker struct {
	engine       *Engine
	queue        *queue.Queue
	openStore    StoreOpener
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger
}

func NewWorker(engine *Engine, q *queue.Queue, openStore StoreOpener, pollInterval time.Duration, batchSize int, logger zerolog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Worker{
		engine:       engine,
		queue:        q,
		openStore:    openStore,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start runs the consume loop until ctx is done. In-flight tasks finish
// their current attempt boundary before the loop exits.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Msg("sync worker started")
	defer w.logger.Info().Msg("sync worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := w.queue.Dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Msg("broker dequeue failed, falling back to log poll")
		}
		if ok {
			w.run(ctx, task)
			continue
		}

		if n := w.pollFallback(ctx); n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Worker) run(ctx context.Context, task models.SyncTask) {
	entry, err := w.engine.Run(ctx, task)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("sync task did not reach a terminal state")
		return
	}
	if entry != nil && entry.Status == models.SyncFailed {
		w.queue.DeadLetter(ctx, task, entry.ErrorMessage)
	}
}

// pollFallback re-runs queued sync log rows old enough that their broker
// message is presumed lost. Returns how many tasks were executed.
func (w *Worker) pollFallback(ctx context.Context) int {
	store, err := w.openStore(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("log poll skipped, database unreachable")
		return 0
	}
	defer store.Close()

	olderThan := time.Now().Add(-2 * w.pollInterval)
	tasks, err := store.ListQueuedSyncTasks(ctx, olderThan, w.batchSize)
	if err != nil {
		w.logger.Warn().Err(err).Msg("log poll failed")
		return 0
	}

	if depth, err := w.queue.Depth(ctx); err == nil {
		metrics.SetQueueDepth(depth + int64(len(tasks)))
	}

	ran := 0
	for i := range tasks {
		if ctx.Err() != nil {
			return ran
		}
		// The claim flips the row out of queued first, so a delayed
		// broker delivery of the same task cannot run it a second time.
		claimed, err := store.ClaimQueuedSyncTask(ctx, tasks[i].TaskID)
		if err != nil {
			w.logger.Warn().Err(err).Str("task_id", tasks[i].TaskID).Msg("claim failed, leaving task queued")
			continue
		}
		if !claimed {
			continue
		}
		w.run(ctx, tasks[i])
		ran++
	}
	return ran
}
