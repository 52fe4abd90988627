// Package metrics provides Prometheus instrumentation for the coordination engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accord",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "accord",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AgentsRegisteredTotal counts agent registrations.
	AgentsRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "accord",
		Name:      "agents_registered_total",
		Help:      "Total agents registered.",
	})

	// StakeChangesTotal counts restake operations by direction.
	StakeChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accord",
			Name:      "stake_changes_total",
			Help:      "Total stake adjustments by direction.",
		},
		[]string{"direction"},
	)

	// EscrowsCreatedTotal counts escrows created.
	EscrowsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "accord",
		Name:      "escrows_created_total",
		Help:      "Total escrows created.",
	})

	// MilestoneReleasesTotal counts milestone release attempts by result.
	MilestoneReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accord",
			Name:      "milestone_releases_total",
			Help:      "Total milestone release attempts by result.",
		},
		[]string{"result"},
	)

	// EscrowsResolvedTotal counts escrows reaching a terminal state.
	EscrowsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accord",
			Name:      "escrows_resolved_total",
			Help:      "Total escrows resolved by terminal state.",
		},
		[]string{"state"},
	)

	// EscrowDuration observes time from escrow creation to resolution.
	EscrowDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "accord",
		Name:      "escrow_duration_seconds",
		Help:      "Time from escrow creation to resolution in seconds.",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 86400},
	})

	// ReputationEventsTotal counts reputation events recorded by type.
	ReputationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accord",
			Name:      "reputation_events_total",
			Help:      "Total reputation events recorded by event type.",
		},
		[]string{"event_type"},
	)

	// RevenueAccrualsTotal counts fee split accruals into the pool.
	RevenueAccrualsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "accord",
		Name:      "revenue_accruals_total",
		Help:      "Total fee split accruals recorded.",
	})

	// RevenueDistributionsTotal counts revenue distribution rounds.
	RevenueDistributionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "accord",
		Name:      "revenue_distributions_total",
		Help:      "Total revenue distribution rounds completed.",
	})

	// RevenueClaimsTotal counts reward claims by result.
	RevenueClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accord",
			Name:      "revenue_claims_total",
			Help:      "Total reward claims by result.",
		},
		[]string{"result"},
	)

	// RouteChecksTotal counts cross-chain route checks by outcome.
	RouteChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accord",
			Name:      "route_checks_total",
			Help:      "Total cross-chain route checks by outcome.",
		},
		[]string{"outcome"},
	)

	// GatewayCallsTotal counts ledger gateway calls by operation and result.
	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accord",
			Name:      "gateway_calls_total",
			Help:      "Total ledger gateway calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	// OpenEscrows tracks escrows not yet in a terminal state.
	OpenEscrows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "accord",
		Name:      "open_escrows",
		Help:      "Number of escrows currently open or partially released.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "accord",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "accord", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "accord", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "accord", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "accord", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "accord", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "accord", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AgentsRegisteredTotal,
		StakeChangesTotal,
		EscrowsCreatedTotal,
		MilestoneReleasesTotal,
		EscrowsResolvedTotal,
		EscrowDuration,
		ReputationEventsTotal,
		RevenueAccrualsTotal,
		RevenueDistributionsTotal,
		RevenueClaimsTotal,
		RouteChecksTotal,
		GatewayCallsTotal,
		OpenEscrows,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
