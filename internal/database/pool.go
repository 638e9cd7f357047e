package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"stayops/internal/config"
	"stayops/internal/metrics"
)

// ErrPoolUnavailable is returned when pool construction exhausted its
// startup budget. Callers should treat it as transient and retry the
// outer request; the Background Reconnector keeps trying out-of-band.
var ErrPoolUnavailable = errors.New("database pool is not available")

// Opener builds a verified database handle. Swappable in tests.
type Opener func(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error)

// Manager owns the process-wide connection pool. Any number of goroutines
// may call EnsurePool concurrently; the underlying construction runs at
// most once at a time (singleflight) and every waiter receives the same
// handle or the same failure.
type Manager struct {
	cfg    config.DatabaseConfig
	opener Opener
	logger zerolog.Logger

	// Fast path: non-nil handle means the pool is ready.
	handle atomic.Pointer[sql.DB]

	mu           sync.Mutex
	pid          int
	generation   uint64
	group        *singleflight.Group
	reconnecting bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg config.DatabaseConfig, logger zerolog.Logger) *Manager {
	return NewManagerWithOpener(cfg, Open, logger)
}

func NewManagerWithOpener(cfg config.DatabaseConfig, opener Opener, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		opener: opener,
		logger: logger,
		pid:    os.Getpid(),
		group:  &singleflight.Group{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// EnsurePool returns the live pool handle, constructing it when missing.
// Construction retries internally on a fixed interval until the startup
// budget runs out, then fails with ErrPoolUnavailable and leaves the
// Background Reconnector to self-heal.
func (m *Manager) EnsurePool(ctx context.Context) (*sql.DB, error) {
	if db := m.handle.Load(); db != nil {
		return db, nil
	}

	m.mu.Lock()
	if m.pid != os.Getpid() {
		// A forked child must never touch the parent's handle or join
		// its in-flight construction.
		m.resetLocked()
	}
	group := m.group
	m.mu.Unlock()

	ch := group.DoChan("construct", m.construct)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*sql.DB), nil
	}
}

// construct runs under singleflight: exactly one execution regardless of
// how many callers are waiting.
func (m *Manager) construct() (any, error) {
	if db := m.handle.Load(); db != nil {
		return db, nil
	}

	start := time.Now()
	budget := m.cfg.StartupBudget()
	interval := m.cfg.AttemptInterval()

	for attempt := 1; ; attempt++ {
		db, err := m.opener(m.ctx, m.cfg)
		if err == nil {
			m.install(db)
			return db, nil
		}

		elapsed := time.Since(start)
		m.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("elapsed", elapsed).
			Str("failure_class", failureClass(err)).
			Msg("pool construction attempt failed")

		if elapsed+interval >= budget {
			break
		}
		select {
		case <-m.ctx.Done():
			return nil, m.ctx.Err()
		case <-time.After(interval):
		}
	}

	m.scheduleReconnector()
	return nil, ErrPoolUnavailable
}

func (m *Manager) install(db *sql.DB) {
	m.mu.Lock()
	m.generation++
	m.pid = os.Getpid()
	gen := m.generation
	m.handle.Store(db)
	m.mu.Unlock()

	metrics.SetPoolGeneration(gen)
	m.logger.Info().Uint64("generation", gen).Msg("database pool installed")
}

// scheduleReconnector spawns the background loop at most once per
// degraded episode.
func (m *Manager) scheduleReconnector() {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.reconnectLoop()
	m.logger.Info().Dur("interval", m.cfg.ReconnectInterval()).Msg("background reconnector scheduled")
}

// reconnectLoop retries construction until the pool is restored or the
// manager shuts down. It never reports errors to anyone; failed attempts
// are logged and retried on the next tick.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.cfg.ReconnectInterval())
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		metrics.IncPoolReconnect()
		if _, err := m.EnsurePool(m.ctx); err != nil {
			m.logger.Warn().Err(err).Msg("background reconnect attempt failed")
			continue
		}
		m.logger.Info().Msg("database pool restored by background reconnector")
		return
	}
}

// Reset clears process-local pool state. Worker entry points call it
// unconditionally before any database access so a child never reuses a
// parent's handle or construction. The old handle is not closed here:
// it belongs to the parent process.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	m.handle.Store(nil)
	m.generation = 0
	m.pid = os.Getpid()
	m.group = &singleflight.Group{}
}

// Healthy reports whether a pool handle is installed.
func (m *Manager) Healthy() bool {
	return m.handle.Load() != nil
}

// Generation returns how many constructions have succeeded in this
// process. Fast-path reads never change it.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Reconnecting reports whether the background reconnector is running.
func (m *Manager) Reconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnecting
}

// Close cancels the reconnector cooperatively, waits for it and closes
// the handle if one is installed.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	if db := m.handle.Swap(nil); db != nil {
		return db.Close()
	}
	return nil
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "connectivity"
	}
}
