package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"stayops/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a live database handle with the query surface of the system.
// It does not own the handle: callers going through the Pool Manager share
// the process-wide pool, while sync workers wrap short-lived connections
// from OpenDirect and must Close them.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the underlying handle. Only for stores built on OpenDirect.
func (s *Store) Close() error {
	return s.db.Close()
}

// Open opens a handle, verifies liveness within cfg.ConnectTimeout and
// bootstraps the schema. Used by the pool constructor and by OpenDirect.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

// OpenDirect opens a single short-lived connection for task-scoped work.
// It never touches the shared pool; the caller owns the handle and must
// close it when the task finishes.
func OpenDirect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// OpenDirectStore is OpenDirect wrapped into the query surface.
func OpenDirectStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	db, err := OpenDirect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(db, logger), nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT UNIQUE NOT NULL,
            total_units INTEGER NOT NULL DEFAULT 1,
            is_active BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            property_id INTEGER NOT NULL,
            guest_name TEXT NOT NULL,
            guest_email TEXT,
            phone TEXT,
            check_in DATETIME NOT NULL,
            check_out DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            comment TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS channel_connections (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            channel TEXT NOT NULL,
            property_id INTEGER NOT NULL,
            endpoint_url TEXT NOT NULL,
            api_key TEXT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            last_synced_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(channel, property_id)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            connection_id INTEGER NOT NULL,
            operation_type TEXT NOT NULL,
            direction TEXT NOT NULL DEFAULT 'outbound',
            status TEXT NOT NULL DEFAULT 'queued',
            retry_count INTEGER NOT NULL DEFAULT 0,
            error_type TEXT,
            error_message TEXT,
            details TEXT,
            task_id TEXT UNIQUE NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS rates (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            property_id INTEGER NOT NULL,
            date DATETIME NOT NULL,
            price_cents INTEGER NOT NULL,
            currency TEXT NOT NULL DEFAULT 'EUR',
            UNIQUE(property_id, date)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_property_id ON bookings(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_check_in ON bookings(check_in)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_connection_id ON sync_log(connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_status ON sync_log(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_created_at ON sync_log(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
