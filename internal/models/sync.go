package models

import "time"

// ChannelConnection is one third-party booking channel integration for a property.
type ChannelConnection struct {
	ID           int64      `json:"id" yaml:"id"`
	Channel      string     `json:"channel" yaml:"channel"`
	PropertyID   int64      `json:"property_id" yaml:"property_id"`
	EndpointURL  string     `json:"endpoint_url" yaml:"endpoint_url"`
	APIKey       string     `json:"-" yaml:"api_key"`
	IsActive     bool       `json:"is_active" yaml:"is_active"`
	LastSyncedAt *time.Time `json:"last_synced_at" yaml:"-"`
	CreatedAt    time.Time  `json:"created_at" yaml:"-"`
}

// SyncTask is the unit of work carried by the task queue. It is ephemeral:
// the durable record of its lifecycle lives in SyncLogEntry.
type SyncTask struct {
	TaskID        string    `json:"task_id"`
	ConnectionID  int64     `json:"connection_id"`
	OperationType string    `json:"operation_type"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// SyncLogEntry is one row per attempt-sequence, mutated in place as the
// owning task progresses. Rows are never deleted.
type SyncLogEntry struct {
	ID            int64             `json:"id"`
	ConnectionID  int64             `json:"connection_id"`
	OperationType string            `json:"operation_type"`
	Direction     string            `json:"direction"`
	Status        string            `json:"status"` // queued, running, succeeded, failed
	RetryCount    int               `json:"retry_count"`
	ErrorType     string            `json:"error_type"`
	ErrorMessage  string            `json:"error_message"`
	Details       map[string]string `json:"details"`
	TaskID        string            `json:"task_id"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// SyncLogFilter narrows sync log queries.
type SyncLogFilter struct {
	ConnectionID int64
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}
