// Package telemetry provides application-level observability for docgate.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<DOCGATE_SERVER_METRICS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router, so
// it is never subject to authentication or rate limiting.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Credential resolution counters (by scheme and outcome)
//   - Identity-provider verification latency histogram
//   - API token lifecycle operation counters
//   - Rate-limit admission decision counters (by tier and outcome)
//   - Token purge counter (background job)
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/auth/tokens/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as token IDs.  No metric is ever labelled
// by owner, identity, or rate-limit key for the same reason.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/docgate/docgate/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.RateLimitDecisionsTotal.WithLabelValues("api_token", "denied").Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/auth/tokens/:id),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Credential resolution metrics — recorded by the resolver on every attempt.
//
// AuthResolutionsTotal is a CounterVec with labels {scheme, outcome}.
// scheme is the resolution path that decided the request: "api_token",
// "identity_provider", or "none" (no credential / nothing matched).
// outcome is one of "ok", "invalid_credential", "token_expired",
// "provider_unavailable", or "anonymous" (optional mode, no identity).
//
// Example PromQL queries:
//   - Auth failure rate:        sum(rate(auth_resolutions_total{outcome!~"ok|anonymous"}[5m]))
//   - Token vs provider split:  sum by (scheme) (rate(auth_resolutions_total{outcome="ok"}[1h]))
//   - Provider outage signal:   increase(auth_resolutions_total{outcome="provider_unavailable"}[10m]) > 0
//
// ProviderVerifyDuration is a HistogramVec with label {outcome} observing the
// wall time of each identity-provider verification call, including queueing in
// the bounded worker pool.  Latency here is the dominant term in authenticated
// request latency for provider-issued credentials.
//
// Example PromQL queries:
//   - p95 verify latency:  histogram_quantile(0.95, sum by (le) (rate(provider_verify_duration_seconds_bucket[5m])))
var (
	AuthResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_resolutions_total",
			Help: "Total number of credential resolution attempts, by scheme and outcome.",
		},
		[]string{"scheme", "outcome"},
	)

	ProviderVerifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_verify_duration_seconds",
			Help:    "Duration of identity-provider credential verification calls, by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

// TokenOperationsTotal is a CounterVec with labels {operation, outcome}
// incremented by the token service for every lifecycle operation.
// operation ∈ {create, verify, list, revoke, revoke_all, purge};
// outcome ∈ {ok, miss, expired, quota_exceeded, not_found, error}.
//
// Example PromQL queries:
//   - Token creation rate:      rate(token_operations_total{operation="create",outcome="ok"}[1h])
//   - Verify miss ratio:        rate(token_operations_total{operation="verify",outcome="miss"}[5m]) / rate(token_operations_total{operation="verify"}[5m])
//   - Storage errors (alert):   increase(token_operations_total{outcome="error"}[10m]) > 0
var TokenOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "token_operations_total",
		Help: "Total number of API token lifecycle operations, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// Rate-limit admission metrics.
//
// RateLimitDecisionsTotal is a CounterVec with labels {tier, outcome}.
// tier ∈ {anonymous, authenticated, api_token}; outcome is "allowed", "denied",
// or "degraded" (counter backend unreachable, request admitted against the
// local fallback store).  A sustained "degraded" rate means the Redis backend
// is down and per-process counting is in effect.
//
// Example PromQL queries:
//   - Deny ratio by tier:   sum by (tier) (rate(rate_limit_decisions_total{outcome="denied"}[5m]))
//   - Backend outage alert: increase(rate_limit_decisions_total{outcome="degraded"}[5m]) > 0
var RateLimitDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_decisions_total",
		Help: "Total number of rate-limit admission decisions, by tier and outcome.",
	},
	[]string{"tier", "outcome"},
)

// TokensPurgedTotal is a plain Counter (no labels) incremented by the number of
// rows deleted on each run of the token purge background job.  A stalled counter
// with a growing api_tokens table suggests the job is disabled or failing.
//
// Example PromQL queries:
//   - Purge throughput:  rate(tokens_purged_total[24h])
var TokensPurgedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "tokens_purged_total",
		Help: "Total number of expired API token rows deleted by the purge job.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <DOCGATE_DATABASE_MAX_OPEN_CONNS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_open_conns=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
