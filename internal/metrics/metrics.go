// Package metrics provides Prometheus instrumentation for the payment core.
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

const namespace = "tiptap"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionTransitionsTotal counts session state changes.
	SessionTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "transitions_total",
		Help:      "Session state transitions by target state and cause.",
	}, []string{"to", "cause"})

	// RiskScore observes fraud scores.
	RiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fraud",
		Name:      "risk_score",
		Help:      "Distribution of computed fraud risk scores.",
		Buckets:   []float64{0, 10, 25, 40, 60, 75, 85, 100},
	})

	// FraudFailuresTotal counts fraud checks that errored, by applied policy.
	FraudFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fraud",
		Name:      "check_failures_total",
		Help:      "Fraud checks that failed internally, by failure policy applied.",
	}, []string{"policy"})

	// ChallengesTotal counts authentication challenges by reason, method and result.
	ChallengesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authn",
		Name:      "challenges_total",
		Help:      "Authentication challenges by reason, method, and result.",
	}, []string{"reason", "method", "result"})

	// PINLockoutsTotal counts PIN lockouts triggered.
	PINLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authn",
		Name:      "pin_lockouts_total",
		Help:      "PIN lockouts triggered by repeated failures.",
	})

	// AuthorizationsTotal counts authorization decisions by outcome.
	AuthorizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authorize",
		Name:      "decisions_total",
		Help:      "Payment authorization decisions by outcome.",
	}, []string{"outcome"})

	// GatewayCallsTotal counts gateway adapter calls.
	GatewayCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Gateway adapter calls by gateway, operation, and result.",
	}, []string{"gateway", "op", "result"})

	// GatewayRetriesTotal counts backoff retries.
	GatewayRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Gateway call retries by gateway.",
	}, []string{"gateway"})

	// GatewayLatency observes gateway call latency.
	GatewayLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Gateway call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"gateway", "op"})

	// TransactionsTotal counts transactions reaching a status.
	TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Transactions by type and resulting status.",
	}, []string{"type", "status"})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	GatewayCircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tiptap",
		Name:      "gateway_circuit_state",
		Help:      "Gateway circuit breaker state (0 closed, 1 open, 2 half-open).",
	}, []string{"gateway"})

	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SessionTransitionsTotal,
		RiskScore,
		FraudFailuresTotal,
		ChallengesTotal,
		PINLockoutsTotal,
		AuthorizationsTotal,
		GatewayCallsTotal,
		GatewayRetriesTotal,
		GatewayLatency,
		TransactionsTotal,
		GatewayCircuitState,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector samples sql.DBStats and the goroutine count into
// gauges until ctx is done.
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
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics. Paths
// are labelled by route template; requests matching no route share one
// label so probes cannot grow the series count.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))
		c.Next()
		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

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
