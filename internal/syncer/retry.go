package syncer

import (
	"math"
	"time"

	"stayops/internal/models"
)

// RetryPolicy defines exponential backoff parameters for sync tasks.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Delay returns the backoff before a given retry (1-based): base * 2^(n-1),
// so the default policy sleeps 1s, 2s, 4s before retries 1-3.
func (r RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	base := r.BaseDelay
	if base <= 0 {
		base = models.DefaultBaseDelaySeconds * time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(retry-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Exhausted reports whether a retry count has passed the budget.
func (r RetryPolicy) Exhausted(retryCount int) bool {
	max := r.MaxRetries
	if max <= 0 {
		max = models.DefaultMaxRetries
	}
	return retryCount > max
}
