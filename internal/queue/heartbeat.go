package queue

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const workerKeyPrefix = "workers:"

// Heartbeat advertises a worker's liveness through a TTL'd redis key.
// The key expires on its own when the worker dies, so the health surface
// only ever sees workers that refreshed recently.
type Heartbeat struct {
	client   *redis.Client
	workerID string
	interval time.Duration
	logger   zerolog.Logger
}

func NewHeartbeat(client *redis.Client, workerID string, interval time.Duration, logger zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Heartbeat{client: client, workerID: workerID, interval: interval, logger: logger}
}

// Run refreshes the key until ctx is cancelled, then removes it.
func (h *Heartbeat) Run(ctx context.Context) {
	key := workerKeyPrefix + h.workerID
	ttl := 3 * h.interval

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx, key, ttl)
	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := h.client.Del(cleanup, key).Err(); err != nil {
				h.logger.Warn().Err(err).Msg("heartbeat cleanup failed")
			}
			return
		case <-ticker.C:
			h.beat(ctx, key, ttl)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context, key string, ttl time.Duration) {
	if err := h.client.Set(ctx, key, time.Now().Format(time.RFC3339), ttl).Err(); err != nil {
		h.logger.Warn().Err(err).Msg("heartbeat refresh failed")
	}
}

// ActiveWorkers lists worker ids with a live heartbeat key.
func ActiveWorkers(ctx context.Context, client *redis.Client) ([]string, error) {
	var (
		cursor  uint64
		workers []string
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, workerKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			workers = append(workers, strings.TrimPrefix(key, workerKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			return workers, nil
		}
	}
}
