// Package queue is the redis-backed task broker between the API process
// and the sync worker fleet.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stayops/internal/config"
	"stayops/internal/models"
)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

type Queue struct {
	client        *redis.Client
	queueKey      string
	deadLetterKey string
	logger        zerolog.Logger
}

func New(client *redis.Client, cfg config.SyncConfig, logger zerolog.Logger) *Queue {
	return &Queue{
		client:        client,
		queueKey:      cfg.QueueKey,
		deadLetterKey: cfg.DeadLetterKey,
		logger:        logger,
	}
}

// Enqueue pushes a task to the broker.
func (q *Queue) Enqueue(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode sync task: %w", err)
	}
	if err := q.client.LPush(ctx, q.queueKey, data).Err(); err != nil {
		return fmt.Errorf("push sync task: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task. The second return is
// false when the queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (models.SyncTask, bool, error) {
	res, err := q.client.BRPop(ctx, timeout, q.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
			return models.SyncTask{}, false, nil
		}
		return models.SyncTask{}, false, err
	}
	if len(res) != 2 {
		return models.SyncTask{}, false, nil
	}

	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		q.logger.Warn().Err(err).Str("raw", res[1]).Msg("dropping undecodable task message")
		return models.SyncTask{}, false, nil
	}
	return task, true, nil
}

// DeadLetter parks a permanently failed task for operator inspection.
func (q *Queue) DeadLetter(ctx context.Context, task models.SyncTask, cause string) {
	payload := struct {
		models.SyncTask
		Cause    string    `json:"cause"`
		FailedAt time.Time `json:"failed_at"`
	}{SyncTask: task, Cause: cause, FailedAt: time.Now()}

	data, err := json.Marshal(payload)
	if err != nil {
		q.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("encode dead letter")
		return
	}
	if err := q.client.LPush(ctx, q.deadLetterKey, data).Err(); err != nil {
		q.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("push dead letter")
	}
}

// Depth returns how many tasks wait in the queue.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueKey).Result()
}

// Ping probes the broker for the health surface.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// ActiveWorkers lists workers with a live heartbeat.
func (q *Queue) ActiveWorkers(ctx context.Context) ([]string, error) {
	return ActiveWorkers(ctx, q.client)
}
