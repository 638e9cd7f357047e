package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"stayops/internal/models"
)

// CreateSyncLogEntry inserts the queued row for a freshly enqueued task.
func (s *Store) CreateSyncLogEntry(ctx context.Context, entry *models.SyncLogEntry) error {
	details, err := encodeDetails(entry.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}

	now := time.Now()
	query := `INSERT INTO sync_log (connection_id, operation_type, direction, status, retry_count, error_type, error_message, details, task_id, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		entry.ConnectionID,
		entry.OperationType,
		entry.Direction,
		entry.Status,
		entry.RetryCount,
		entry.ErrorType,
		entry.ErrorMessage,
		details,
		entry.TaskID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync log entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	entry.UpdatedAt = now

	return nil
}

// UpdateSyncLogEntry persists the current state of an entry. Only the task
// owning the task_id mutates its row, so there is no concurrent writer.
func (s *Store) UpdateSyncLogEntry(ctx context.Context, entry *models.SyncLogEntry) error {
	details, err := encodeDetails(entry.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}

	now := time.Now()
	query := `UPDATE sync_log SET status = ?, retry_count = ?, error_type = ?, error_message = ?, details = ?, updated_at = ?
              WHERE task_id = ?`
	if _, err := s.db.ExecContext(ctx, query,
		entry.Status,
		entry.RetryCount,
		entry.ErrorType,
		entry.ErrorMessage,
		details,
		now,
		entry.TaskID,
	); err != nil {
		return fmt.Errorf("failed to update sync log entry: %w", err)
	}
	entry.UpdatedAt = now
	return nil
}

// GetSyncLogByTaskID returns the entry owned by a task, or nil when the
// task was never logged.
func (s *Store) GetSyncLogByTaskID(ctx context.Context, taskID string) (*models.SyncLogEntry, error) {
	query := `SELECT id, connection_id, operation_type, direction, status, retry_count, error_type, error_message, details, task_id, created_at, updated_at
              FROM sync_log WHERE task_id = ?`
	entry, err := s.scanSyncLogRow(s.db.QueryRowContext(ctx, query, taskID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync log entry: %w", err)
	}
	return entry, nil
}

// ListSyncLog returns entries filtered by connection and time range,
// newest first, paginated.
func (s *Store) ListSyncLog(ctx context.Context, filter models.SyncLogFilter) ([]models.SyncLogEntry, error) {
	query := `SELECT id, connection_id, operation_type, direction, status, retry_count, error_type, error_message, details, task_id, created_at, updated_at
              FROM sync_log WHERE 1=1`
	var args []any

	if filter.ConnectionID != 0 {
		query += ` AND connection_id = ?`
		args = append(args, filter.ConnectionID)
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultSyncLogPageSize
	}
	if limit > models.DefaultSyncLogPageSize*20 {
		limit = models.DefaultSyncLogPageSize * 20
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncLogEntry
	for rows.Next() {
		entry, err := s.scanSyncLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListQueuedSyncTasks rebuilds tasks from queued rows, oldest first. This
// is the worker's fallback source when the broker lost or never saw the
// task message. olderThan keeps freshly enqueued tasks with the broker.
func (s *Store) ListQueuedSyncTasks(ctx context.Context, olderThan time.Time, limit int) ([]models.SyncTask, error) {
	query := `SELECT task_id, connection_id, operation_type, created_at
              FROM sync_log WHERE status = ? AND created_at <= ? ORDER BY created_at ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, models.SyncQueued, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		if err := rows.Scan(&t.TaskID, &t.ConnectionID, &t.OperationType, &t.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queued sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimQueuedSyncTask flips a queued row to running. It reports whether
// this caller won the claim, so a poll pass and a late broker delivery
// cannot both execute the same task.
func (s *Store) ClaimQueuedSyncTask(ctx context.Context, taskID string) (bool, error) {
	query := `UPDATE sync_log SET status = ?, updated_at = ? WHERE task_id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, query, models.SyncRunning, time.Now(), taskID, models.SyncQueued)
	if err != nil {
		return false, fmt.Errorf("failed to claim sync task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSyncLogRow(row rowScanner) (*models.SyncLogEntry, error) {
	var entry models.SyncLogEntry
	var errorType, errorMessage, details sql.NullString
	if err := row.Scan(
		&entry.ID,
		&entry.ConnectionID,
		&entry.OperationType,
		&entry.Direction,
		&entry.Status,
		&entry.RetryCount,
		&errorType,
		&errorMessage,
		&details,
		&entry.TaskID,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.ErrorType = errorType.String
	entry.ErrorMessage = errorMessage.String
	if details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
	}
	return &entry, nil
}

func encodeDetails(details map[string]string) (string, error) {
	if len(details) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
