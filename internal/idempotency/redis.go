package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stayops/internal/models"
)

const keyPrefix = "idem:"

// RedisStore keeps records in redis; the TTL enforces the dedup window.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = models.DefaultIdempotencyTTLHours * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) Put(ctx context.Context, record Record) (*Record, bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("encode idempotency record: %w", err)
	}

	set, err := s.client.SetNX(ctx, keyPrefix+record.Key, data, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("store idempotency record: %w", err)
	}
	if set {
		return &record, true, nil
	}

	// Lost the race: the first writer's record is authoritative.
	stored, err := s.Get(ctx, record.Key)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		// Expired between SetNX and Get; treat our record as stored.
		return &record, true, nil
	}
	return stored, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+record.Key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	return nil
}
