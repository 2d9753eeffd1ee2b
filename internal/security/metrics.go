// Package security carries the ambient observability concerns (HTTP
// metrics, access logging) every component uses, adapted from the
// teacher's metrics/logging middleware to this daemon's domain.
package security

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// ReplicationEventsTotal counts kv.Change events observed by C7,
	// labeled by kind (change/error/paused/complete).
	ReplicationEventsTotal *prometheus.CounterVec

	// PeersActive tracks the current APL size.
	PeersActive prometheus.Gauge

	// VaultsActive tracks the number of vaults registered locally.
	VaultsActive prometheus.Gauge
)

var initOnce sync.Once

// InitMetrics registers every Prometheus collector. Safe to call more
// than once; only the first call registers.
func InitMetrics() {
	initOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "munkeyd_http_requests_total",
				Help: "Total number of HTTP requests served by the web edge.",
			},
			[]string{"method", "status"},
		)
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "munkeyd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)
		ReplicationEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "munkeyd_replication_events_total",
				Help: "Total replication events observed, by kind.",
			},
			[]string{"kind"},
		)
		PeersActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "munkeyd_peers_active",
			Help: "Number of peers currently in the active peer list.",
		})
		VaultsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "munkeyd_vaults_active",
			Help: "Number of vaults currently registered on this node.",
		})
	})
}

// MetricsMiddleware records per-request HTTP metrics. A no-op before
// InitMetrics has been called.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(elapsed.Seconds())
	}
}
