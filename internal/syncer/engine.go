package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stayops/internal/database"
	"stayops/internal/metrics"
	"stayops/internal/models"
)

// Checker is the advisory database liveness check consulted before a
// task commits to running.
type Checker interface {
	Check(ctx context.Context) bool
}

// StoreOpener hands the engine a short-lived, task-owned store. The
// engine closes it when the task reaches a terminal state; the shared
// process pool is never involved.
type StoreOpener func(ctx context.Context) (*database.Store, error)

// Engine executes one sync task: queued -> running -> {succeeded |
// retrying -> running | failed}, persisting every transition to the
// sync log.
type Engine struct {
	policy    RetryPolicy
	preflight Checker
	openStore StoreOpener
	client    ChannelClient
	logger    zerolog.Logger

	// Days of availability/pricing pushed per sync.
	horizonDays int

	// Injectable for tests; defaults to a context-aware timer.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(policy RetryPolicy, preflight Checker, openStore StoreOpener, client ChannelClient, logger zerolog.Logger) *Engine {
	return &Engine{
		policy:      policy,
		preflight:   preflight,
		openStore:   openStore,
		client:      client,
		logger:      logger,
		horizonDays: 30,
		sleep:       sleepCtx,
	}
}

// Run drives a task to a terminal state. The returned entry reflects the
// final persisted row. A non-nil error means the task did not reach a
// terminal state (shutdown mid-backoff) and was requeued.
func (e *Engine) Run(ctx context.Context, task models.SyncTask) (*models.SyncLogEntry, error) {
	logger := e.logger.With().Str("task_id", task.TaskID).Str("operation", task.OperationType).Logger()

	// Fast-fail without consuming a retry slot when the database is
	// plainly down. A pass here is advisory only.
	if !e.preflight.Check(ctx) {
		entry := entryFromTask(task)
		entry.Status = models.SyncFailed
		entry.ErrorType = models.ErrTypeDatabaseUnavailable
		entry.ErrorMessage = "preflight liveness check failed"
		e.persistBestEffort(ctx, entry, logger)
		metrics.IncSyncAttempt(task.OperationType, models.ErrTypeDatabaseUnavailable)
		logger.Warn().Msg("sync task rejected by preflight")
		return entry, nil
	}

	store, err := e.openStore(ctx)
	if err != nil {
		entry := entryFromTask(task)
		entry.Status = models.SyncFailed
		entry.ErrorType = models.ErrTypeDatabaseUnavailable
		entry.ErrorMessage = err.Error()
		metrics.IncSyncAttempt(task.OperationType, models.ErrTypeDatabaseUnavailable)
		logger.Warn().Err(err).Msg("task-owned connection failed after preflight pass")
		return entry, nil
	}
	defer store.Close()

	entry, err := store.GetSyncLogByTaskID(ctx, task.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load sync log entry: %w", err)
	}
	if entry == nil {
		entry = entryFromTask(task)
		if err := store.CreateSyncLogEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("create sync log entry: %w", err)
		}
	}

	// A redelivered message for a finished task is a no-op. The poll
	// fallback may have claimed and run it while the broker copy sat
	// delayed in the list.
	if entry.Status == models.SyncSucceeded || entry.Status == models.SyncFailed {
		logger.Info().Str("status", entry.Status).Msg("sync task already terminal, ignoring redelivery")
		return entry, nil
	}

	if !models.IsValidOperation(task.OperationType) {
		e.finish(ctx, store, entry, ClassValidation, fmt.Errorf("unknown operation type: %s", task.OperationType), logger)
		return entry, nil
	}

	for {
		entry.Status = models.SyncRunning
		delete(entry.Details, "next_retry_in")
		if err := store.UpdateSyncLogEntry(ctx, entry); err != nil {
			logger.Warn().Err(err).Msg("mark running failed")
		}

		attemptErr := e.attempt(ctx, store, task)
		if attemptErr == nil {
			entry.Status = models.SyncSucceeded
			entry.ErrorType = ""
			entry.ErrorMessage = ""
			if err := store.UpdateSyncLogEntry(ctx, entry); err != nil {
				logger.Warn().Err(err).Msg("mark succeeded failed")
			}
			if err := store.TouchChannelConnection(ctx, task.ConnectionID); err != nil {
				logger.Warn().Err(err).Msg("stamp last_synced_at failed")
			}
			metrics.IncSyncAttempt(task.OperationType, "succeeded")
			logger.Info().Int("retry_count", entry.RetryCount).Msg("sync task succeeded")
			return entry, nil
		}

		class := Classify(attemptErr)
		metrics.IncSyncAttempt(task.OperationType, string(class))

		if !class.Retryable() {
			e.finish(ctx, store, entry, class, attemptErr, logger)
			return entry, nil
		}

		entry.RetryCount++
		if e.policy.Exhausted(entry.RetryCount) {
			e.finish(ctx, store, entry, class, attemptErr, logger)
			return entry, nil
		}

		delay := e.policy.Delay(entry.RetryCount)
		entry.ErrorType = string(class)
		entry.ErrorMessage = attemptErr.Error()
		if entry.Details == nil {
			entry.Details = map[string]string{}
		}
		entry.Details["next_retry_in"] = delay.String()
		if err := store.UpdateSyncLogEntry(ctx, entry); err != nil {
			logger.Warn().Err(err).Msg("persist retry countdown failed")
		}
		logger.Warn().
			Err(attemptErr).
			Str("failure_class", string(class)).
			Int("retry_count", entry.RetryCount).
			Dur("delay", delay).
			Msg("sync attempt failed, backing off")

		if err := e.sleep(ctx, delay); err != nil {
			// Shutdown mid-backoff: hand the task back to the queue
			// fallback so another worker resumes it.
			entry.Status = models.SyncQueued
			if uerr := store.UpdateSyncLogEntry(ctx, entry); uerr != nil {
				logger.Warn().Err(uerr).Msg("requeue on shutdown failed")
			}
			return entry, err
		}
	}
}

// attempt performs one channel operation with the task-owned store.
func (e *Engine) attempt(ctx context.Context, store *database.Store, task models.SyncTask) error {
	conn, err := store.GetChannelConnection(ctx, task.ConnectionID)
	if err != nil {
		if database.IsNotFound(err) {
			return NewChannelError(ClassNotFound, fmt.Errorf("channel connection %d does not exist", task.ConnectionID))
		}
		return err
	}

	now := time.Now()
	switch task.OperationType {
	case models.OpAvailability:
		days, err := store.GetAvailability(ctx, conn.PropertyID, now, e.horizonDays)
		if err != nil {
			if database.IsNotFound(err) {
				return NewChannelError(ClassNotFound, fmt.Errorf("property %d does not exist", conn.PropertyID))
			}
			return err
		}
		return e.client.PushAvailability(ctx, *conn, days)

	case models.OpPricing:
		rates, err := store.GetRates(ctx, conn.PropertyID, now, now.AddDate(0, 0, e.horizonDays))
		if err != nil {
			return err
		}
		return e.client.PushPricing(ctx, *conn, rates)

	case models.OpReservation:
		since := now.AddDate(0, 0, -1)
		if conn.LastSyncedAt != nil {
			since = *conn.LastSyncedAt
		}
		bookings, err := store.ListRecentBookings(ctx, conn.PropertyID, since)
		if err != nil {
			return err
		}
		return e.client.PushReservations(ctx, *conn, bookings)

	default:
		return NewChannelError(ClassValidation, fmt.Errorf("unknown operation type: %s", task.OperationType))
	}
}

// finish records a permanent failure.
func (e *Engine) finish(ctx context.Context, store *database.Store, entry *models.SyncLogEntry, class Class, cause error, logger zerolog.Logger) {
	entry.Status = models.SyncFailed
	entry.ErrorType = string(class)
	entry.ErrorMessage = cause.Error()
	delete(entry.Details, "next_retry_in")
	if err := store.UpdateSyncLogEntry(ctx, entry); err != nil {
		logger.Warn().Err(err).Msg("mark failed failed")
	}
	logger.Error().
		Err(cause).
		Str("failure_class", string(class)).
		Int("retry_count", entry.RetryCount).
		Msg("sync task failed permanently")
}

// persistBestEffort tries to record a terminal entry while the database
// may be down. Losing the write is acceptable; losing the task silently
// is not, hence the log line either way.
func (e *Engine) persistBestEffort(ctx context.Context, entry *models.SyncLogEntry, logger zerolog.Logger) {
	store, err := e.openStore(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("sync log write skipped, database unreachable")
		return
	}
	defer store.Close()

	existing, err := store.GetSyncLogByTaskID(ctx, entry.TaskID)
	if err != nil {
		logger.Warn().Err(err).Msg("sync log lookup failed")
		return
	}
	if existing == nil {
		if err := store.CreateSyncLogEntry(ctx, entry); err != nil {
			logger.Warn().Err(err).Msg("sync log insert failed")
		}
		return
	}
	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	if err := store.UpdateSyncLogEntry(ctx, entry); err != nil {
		logger.Warn().Err(err).Msg("sync log update failed")
	}
}

func entryFromTask(task models.SyncTask) *models.SyncLogEntry {
	return &models.SyncLogEntry{
		ConnectionID:  task.ConnectionID,
		OperationType: task.OperationType,
		Direction:     models.DirectionOutbound,
		Status:        models.SyncQueued,
		TaskID:        task.TaskID,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
