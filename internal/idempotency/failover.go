package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverStore serves from a primary store and degrades to a fallback
// when the primary errors, probing the primary again after a cooldown.
// With redis as primary and memory as fallback, dedup survives a broker
// outage at the cost of a process-local window.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	cooldown  time.Duration
}

func NewFailoverStore(primary, fallback Store, logger zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		cooldown: time.Minute,
	}
}

func (f *FailoverStore) Get(ctx context.Context, key string) (*Record, error) {
	if f.primaryUsable() {
		record, err := f.primary.Get(ctx, key)
		if err == nil {
			return record, nil
		}
		f.markDown(err)
	}
	return f.fallback.Get(ctx, key)
}

func (f *FailoverStore) Put(ctx context.Context, record Record) (*Record, bool, error) {
	if f.primaryUsable() {
		stored, created, err := f.primary.Put(ctx, record)
		if err == nil {
			return stored, created, nil
		}
		f.markDown(err)
	}
	return f.fallback.Put(ctx, record)
}

func (f *FailoverStore) Complete(ctx context.Context, record Record) error {
	if f.primaryUsable() {
		err := f.primary.Complete(ctx, record)
		if err == nil {
			return nil
		}
		f.markDown(err)
	}
	return f.fallback.Complete(ctx, record)
}

func (f *FailoverStore) Release(ctx context.Context, key string) error {
	if f.primaryUsable() {
		err := f.primary.Release(ctx, key)
		if err == nil {
			return nil
		}
		f.markDown(err)
	}
	return f.fallback.Release(ctx, key)
}

func (f *FailoverStore) primaryUsable() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) > f.cooldown {
		f.lastCheck = time.Now()
		f.isDown.Store(false)
		return true
	}
	return false
}

func (f *FailoverStore) markDown(err error) {
	f.logger.Error().Err(err).Msg("primary idempotency store failed, using fallback")
	f.isDown.Store(true)
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
}
