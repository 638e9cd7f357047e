package idempotency

import (
	"context"
	"sync"
	"time"

	"stayops/internal/models"
)

// MemoryStore is the in-process fallback when redis is unreachable, and
// the test double. Expiry is enforced on read.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = models.DefaultIdempotencyTTLHours * time.Hour
	}
	return &MemoryStore{
		records: make(map[string]Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if s.now().Sub(record.CreatedAt) > s.ttl {
		delete(s.records, key)
		return nil, nil
	}
	out := record
	return &out, nil
}

func (s *MemoryStore) Put(_ context.Context, record Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.Key]; ok && s.now().Sub(existing.CreatedAt) <= s.ttl {
		out := existing
		return &out, false, nil
	}
	s.records[record.Key] = record
	return &record, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
