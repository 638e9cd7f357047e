package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stayops/internal/config"
)

// Preflight is a cheap liveness probe of the database, used by sync
// workers before committing a queue slot to a task. It opens its own
// short-lived connection and never reuses the process-wide pool.
//
// A passing check is advisory only: it does not guarantee the following
// operation will succeed, it only avoids obviously wasted attempts.
type Preflight struct {
	cfg     config.DatabaseConfig
	timeout time.Duration
	logger  zerolog.Logger
}

func NewPreflight(cfg config.DatabaseConfig, timeout time.Duration, logger zerolog.Logger) *Preflight {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Preflight{cfg: cfg, timeout: timeout, logger: logger}
}

// Check reports whether the database answers a trivial query in time.
func (p *Preflight) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	db, err := OpenDirect(ctx, p.cfg)
	if err != nil {
		p.logger.Warn().Err(err).Msg("preflight: database unreachable")
		return false
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		p.logger.Warn().Err(err).Msg("preflight: liveness query failed")
		return false
	}
	return true
}
