package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	Register()

	before := testutil.ToFloat64(httpRequests.WithLabelValues("healthz"))
	IncHTTP("healthz")
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("healthz")))

	before = testutil.ToFloat64(syncAttempts.WithLabelValues("availability", "succeeded"))
	IncSyncAttempt("availability", "succeeded")
	assert.Equal(t, before+1, testutil.ToFloat64(syncAttempts.WithLabelValues("availability", "succeeded")))

	before = testutil.ToFloat64(poolReconnects)
	IncPoolReconnect()
	assert.Equal(t, before+1, testutil.ToFloat64(poolReconnects))
}

func TestGauges(t *testing.T) {
	Register()

	SetPoolGeneration(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(poolGeneration))

	SetQueueDepth(12)
	assert.Equal(t, float64(12), testutil.ToFloat64(queueDepth))
}
