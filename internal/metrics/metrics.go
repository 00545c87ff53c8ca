// Package metrics defines the Prometheus collectors this client exposes for
// its connection pool, prepared-statement cache, and redirect handling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks active (checked-out) connections per pool.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tds_connections_active",
		Help: "Number of active connections per pool",
	}, []string{"pool"})

	// ConnectionsIdle tracks idle connections per pool.
	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tds_connections_idle",
		Help: "Number of idle connections in the pool",
	}, []string{"pool"})

	// ConnectionsMax tracks the configured maximum connections per pool.
	ConnectionsMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tds_connections_max",
		Help: "Configured maximum connections per pool",
	}, []string{"pool"})

	// ConnectionsTotal counts checkout outcomes (acquired, timeout,
	// cancelled, queue_error) and releases; discards are counted in
	// ConnectionErrors.
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tds_connections_total",
		Help: "Total connection pool operations",
	}, []string{"pool", "status"})

	// QueueLength tracks the current checkout queue length per pool.
	QueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tds_queue_length",
		Help: "Number of checkouts waiting in queue per pool",
	}, []string{"pool"})

	// QueueWaitDuration tracks the time checkouts spend waiting in queue.
	QueueWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tds_queue_wait_seconds",
		Help:    "Time spent waiting in queue for a connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})

	// TDSPacketsTotal counts TDS packets by direction and type.
	TDSPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tds_packets_total",
		Help: "Total TDS packets processed",
	}, []string{"pool", "direction", "type"})

	// QueryDuration tracks request (batch/RPC) execution time.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tds_query_duration_seconds",
		Help:    "Request execution duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"pool"})

	// ConnectionErrors counts connection errors by type.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tds_connection_errors_total",
		Help: "Total connection errors",
	}, []string{"pool", "error_type"})

	// PreparedCacheHits/Misses track statement cache effectiveness.
	PreparedCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tds_prepared_cache_hits_total",
		Help: "Prepared statement cache hits",
	}, []string{"pool"})

	PreparedCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tds_prepared_cache_misses_total",
		Help: "Prepared statement cache misses",
	}, []string{"pool"})

	PreparedCacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tds_prepared_cache_size",
		Help: "Current number of cached prepared statement handles",
	}, []string{"pool"})

	// RedirectsTotal counts Azure SQL gateway routing redirects followed.
	RedirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tds_redirects_total",
		Help: "Total routing redirects followed during login",
	}, []string{"pool"})
)
