package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stayops",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stayops",
			Name:      "sync_attempts_total",
			Help:      "Channel sync attempts by operation and result.",
		},
		[]string{"operation", "result"},
	)

	poolReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stayops",
			Name:      "pool_reconnect_attempts_total",
			Help:      "Background pool reconnection attempts.",
		},
	)

	poolGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stayops",
			Name:      "pool_generation",
			Help:      "Connection pool generation of this process.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stayops",
			Name:      "sync_queue_depth",
			Help:      "Tasks waiting in the sync queue.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncAttempts, poolReconnects, poolGeneration, queueDepth)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncSyncAttempt counts one sync attempt outcome.
func IncSyncAttempt(operation, result string) {
	syncAttempts.WithLabelValues(operation, result).Inc()
}

// IncPoolReconnect counts one background reconnection attempt.
func IncPoolReconnect() {
	poolReconnects.Inc()
}

// SetPoolGeneration records the current pool generation.
func SetPoolGeneration(gen uint64) {
	poolGeneration.Set(float64(gen))
}

// SetQueueDepth records the sync queue length.
func SetQueueDepth(n int64) {
	queueDepth.Set(float64(n))
}
