package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/config"
)

func testPoolConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Path:                     ":memory:",
		StartupBudgetSeconds:     1,
		AttemptIntervalSeconds:   1,
		ReconnectIntervalSeconds: 1,
		ConnectTimeoutSeconds:    1,
	}
}

// countingOpener returns real handles while counting constructions.
type countingOpener struct {
	calls atomic.Int64
	fail  atomic.Bool
	delay time.Duration
}

func (o *countingOpener) open(_ context.Context, _ config.DatabaseConfig) (*sql.DB, error) {
	o.calls.Add(1)
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if o.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return sql.Open("sqlite3", ":memory:")
}

func TestEnsurePoolSingleflight(t *testing.T) {
	opener := &countingOpener{delay: 20 * time.Millisecond}
	m := NewManagerWithOpener(testPoolConfig(), opener.open, zerolog.Nop())
	defer m.Close()

	const callers = 25
	var wg sync.WaitGroup
	handles := make([]*sql.DB, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = m.EnsurePool(context.Background())
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, opener.calls.Load(), "construction must run exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i], "every caller must receive the same handle")
	}
	assert.EqualValues(t, 1, m.Generation())
}

func TestEnsurePoolFastPathDoesNotBumpGeneration(t *testing.T) {
	opener := &countingOpener{}
	m := NewManagerWithOpener(testPoolConfig(), opener.open, zerolog.Nop())
	defer m.Close()

	first, err := m.EnsurePool(context.Background())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		db, err := m.EnsurePool(context.Background())
		require.NoError(t, err)
		assert.Same(t, first, db)
	}

	assert.EqualValues(t, 1, opener.calls.Load())
	assert.EqualValues(t, 1, m.Generation())
}

func TestEnsurePoolDegradedAfterBudget(t *testing.T) {
	opener := &countingOpener{}
	opener.fail.Store(true)
	m := NewManagerWithOpener(testPoolConfig(), opener.open, zerolog.Nop())
	defer m.Close()

	_, err := m.EnsurePool(context.Background())
	require.ErrorIs(t, err, ErrPoolUnavailable)
	assert.False(t, m.Healthy())
	assert.EqualValues(t, 0, m.Generation())
	assert.True(t, m.Reconnecting(), "degraded fallback must schedule the reconnector")
}

func TestBackgroundReconnectorHeals(t *testing.T) {
	opener := &countingOpener{}
	opener.fail.Store(true)
	m := NewManagerWithOpener(testPoolConfig(), opener.open, zerolog.Nop())
	defer m.Close()

	_, err := m.EnsurePool(context.Background())
	require.ErrorIs(t, err, ErrPoolUnavailable)

	// Database comes back; the reconnector should install a handle
	// within one reconnect interval without anyone calling EnsurePool.
	opener.fail.Store(false)

	deadline := time.Now().Add(5 * time.Second)
	for !m.Healthy() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	require.True(t, m.Healthy(), "reconnector must self-heal without a restart")
	assert.EqualValues(t, 1, m.Generation())

	db, err := m.EnsurePool(context.Background())
	require.NoError(t, err)
	require.NotNil(t, db)
}

func TestResetDiscardsInheritedState(t *testing.T) {
	opener := &countingOpener{}
	m := NewManagerWithOpener(testPoolConfig(), opener.open, zerolog.Nop())
	defer m.Close()

	parentHandle, err := m.EnsurePool(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, m.Generation())

	m.Reset()
	assert.False(t, m.Healthy())
	assert.EqualValues(t, 0, m.Generation())

	childHandle, err := m.EnsurePool(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, parentHandle, childHandle, "a fresh construction must not reuse the parent's handle")
	assert.EqualValues(t, 1, m.Generation())
	assert.EqualValues(t, 2, opener.calls.Load())
}

func TestEnsurePoolCallerCancellation(t *testing.T) {
	opener := &countingOpener{delay: 200 * time.Millisecond}
	m := NewManagerWithOpener(testPoolConfig(), opener.open, zerolog.Nop())
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.EnsurePool(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The construction itself keeps going and installs the handle for
	// later callers.
	deadline := time.Now().Add(2 * time.Second)
	for !m.Healthy() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, m.Healthy())
	assert.EqualValues(t, 1, opener.calls.Load())
}
