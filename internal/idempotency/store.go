// Package idempotency deduplicates externally retried creation requests
// by client-supplied key plus a fingerprint of the request payload.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Record snapshots the processing of a keyed request. A zero StatusCode
// marks a reservation whose response is still being computed; Complete
// fills it in exactly once, and afterwards the record only expires.
type Record struct {
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	StatusCode  int       `json:"status_code"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pending reports whether the record is a reservation without a
// response snapshot yet.
func (r *Record) Pending() bool {
	return r.StatusCode == 0
}

// ErrConflict signals a key reused with a different payload: a
// client-side bug, distinct from validation failures.
var ErrConflict = errors.New("idempotency key reused with a different payload")

// Store persists idempotency records for the configured window.
type Store interface {
	// Get returns the record for key, or nil when unseen or expired.
	Get(ctx context.Context, key string) (*Record, error)
	// Put stores a record unless the key already exists; the stored
	// record wins and is returned with created=false.
	Put(ctx context.Context, record Record) (stored *Record, created bool, err error)
	// Complete overwrites a reservation with its final response.
	Complete(ctx context.Context, record Record) error
	// Release frees a reserved key after a failed attempt, so a
	// client retry is not blocked until the TTL runs out.
	Release(ctx context.Context, key string) error
}

// Fingerprint hashes a normalized request body. JSON bodies are
// compacted first so formatting differences do not defeat the match.
func Fingerprint(payload []byte) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err == nil {
		payload = compact.Bytes()
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Outcome of checking a keyed request against the store.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeReplayed
	OutcomeConflict
)

// Check resolves a keyed request against an existing record.
func Check(existing *Record, fingerprint string) Outcome {
	if existing == nil {
		return OutcomeCreated
	}
	if existing.Fingerprint == fingerprint {
		return OutcomeReplayed
	}
	return OutcomeConflict
}
