package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Coordinator metrics
	Operations            *prometheus.CounterVec
	OperationDuration     *prometheus.HistogramVec
	TrackedAccounts       prometheus.Gauge
	DegradedAccounts      prometheus.Gauge
	TransferCompensations prometheus.Counter
	StaleRetries          prometheus.Counter
	RecomputeConflicts    prometheus.Counter

	// Queue metrics
	QueueDepth      prometheus.Gauge
	QueueCoalesced  prometheus.Counter
	QueueCancelled  prometheus.Counter
	QueueTaskErrors *prometheus.CounterVec

	// Cache metrics
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheEvictions     prometheus.Counter
	CacheInvalidations prometheus.Counter

	// Publishing metrics
	SnapshotsPublished prometheus.Counter
	SnapshotsDropped   prometheus.Counter

	// Persistence metrics
	PersistenceErrors *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
// A nil reg registers with the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Coordinator metrics
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balancekeeper_operations_total",
				Help: "Total coordinator operations by type and outcome",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balancekeeper_operation_duration_seconds",
				Help:    "Duration of coordinator operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		TrackedAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "balancekeeper_tracked_accounts",
			Help: "Number of accounts held by the ledger store",
		}),
		DegradedAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "balancekeeper_degraded_accounts",
			Help: "Number of accounts whose last computation skipped transactions",
		}),
		TransferCompensations: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_transfer_compensations_total",
			Help: "Transfer legs reverted after the other leg failed",
		}),
		StaleRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_stale_version_retries_total",
			Help: "Commits retried after a stale ledger version",
		}),
		RecomputeConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_recompute_conflicts_total",
			Help: "Commits abandoned after exhausting stale version retries",
		}),

		// Queue metrics
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "balancekeeper_queue_depth",
			Help: "Operations waiting in account lanes",
		}),
		QueueCoalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_queue_coalesced_total",
			Help: "Recompute hints superseded by a later hint",
		}),
		QueueCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_queue_cancelled_total",
			Help: "Operations discarded by account cancellation",
		}),
		QueueTaskErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balancekeeper_queue_task_errors_total",
				Help: "Queued operations that returned an error",
			},
			[]string{"kind"},
		),

		// Cache metrics
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_cache_hits_total",
			Help: "Aggregate cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_cache_misses_total",
			Help: "Aggregate cache misses",
		}),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_cache_evictions_total",
			Help: "Aggregate cache entries evicted by capacity",
		}),
		CacheInvalidations: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_cache_invalidations_total",
			Help: "Aggregate cache entries removed by invalidation",
		}),

		// Publishing metrics
		SnapshotsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_snapshots_published_total",
			Help: "Balance snapshots pushed to subscribers",
		}),
		SnapshotsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "balancekeeper_snapshots_dropped_total",
			Help: "Stale snapshots replaced in a slow subscriber's buffer",
		}),

		// Persistence metrics
		PersistenceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balancekeeper_persistence_errors_total",
				Help: "Ledger entry persistence failures",
			},
			[]string{"operation"},
		),

		// API metrics
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balancekeeper_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balancekeeper_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "balancekeeper_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),

		// Rate limiting metrics
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balancekeeper_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"ip"},
		),
	}
}

// NewUnregistered creates metrics backed by a private registry, for tests
// and components built without a shared registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
