package models

// Booking statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Sync operation types propagated to channel integrations.
const (
	OpAvailability = "availability"
	OpPricing      = "pricing"
	OpReservation  = "reservation"
)

// Sync log statuses.
const (
	SyncQueued    = "queued"
	SyncRunning   = "running"
	SyncSucceeded = "succeeded"
	SyncFailed    = "failed"
)

// Sync direction. All current operations push to channels; an inbound
// direction would land here alongside its consumer.
const DirectionOutbound = "outbound"

// Error types persisted to the sync log.
const (
	ErrTypeDatabaseUnavailable = "database_unavailable"
	ErrTypeConnectivity        = "connectivity"
	ErrTypeValidation          = "validation"
	ErrTypeNotFound            = "not_found"
	ErrTypeInternal            = "internal"
)

const (
	// DefaultMaxRetries is the retry budget per sync task.
	DefaultMaxRetries = 3

	// DefaultBaseDelaySeconds seeds the exponential backoff (1s, 2s, 4s).
	DefaultBaseDelaySeconds = 1

	// DefaultIdempotencyTTLHours is the dedup window for keyed requests.
	DefaultIdempotencyTTLHours = 24

	// DefaultSyncLogPageSize caps sync log query pages.
	DefaultSyncLogPageSize = 50
)

// IsValidOperation reports whether op names a known sync operation.
func IsValidOperation(op string) bool {
	switch op {
	case OpAvailability, OpPricing, OpReservation:
		return true
	}
	return false
}
