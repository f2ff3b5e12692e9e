package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction metrics
	TransactionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_transactions_active",
			Help: "Number of transactions currently running",
		},
	)

	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_transactions_total",
			Help: "Total number of finished transactions by outcome",
		},
		[]string{"outcome"},
	)

	DeadlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_deadlocks_total",
			Help: "Total number of deadlocks broken by aborting the requester",
		},
	)

	// Page cache metrics
	PagesCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_pages_cached",
			Help: "Number of pages resident in the page cache",
		},
	)

	PageFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_page_faults_total",
			Help: "Total number of pages faulted in from disk",
		},
	)

	PageWrites = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_page_writes_total",
			Help: "Total number of dirty pages written back",
		},
	)

	// Write-ahead log metrics
	WALAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_wal_appends_total",
			Help: "Total number of records appended to the write-ahead log",
		},
	)

	WALBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_wal_bytes_total",
			Help: "Total number of framed bytes appended to the write-ahead log",
		},
	)

	// Statement metrics
	StatementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_statements_total",
			Help: "Total number of SQL statements by verb and status",
		},
		[]string{"verb", "status"},
	)

	StatementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_statement_duration_seconds",
			Help:    "Statement execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_sessions_active",
			Help: "Number of client sessions currently connected",
		},
	)

	SessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_sessions_total",
			Help: "Total number of client sessions accepted",
		},
	)

	// Recovery metrics
	RecoveryRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_recovery_runs_total",
			Help: "Total number of crash recoveries performed at open",
		},
	)

	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_recovery_duration_seconds",
			Help:    "Time taken by crash recovery in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TransactionsActive)
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(DeadlocksTotal)
	prometheus.MustRegister(PagesCached)
	prometheus.MustRegister(PageFaults)
	prometheus.MustRegister(PageWrites)
	prometheus.MustRegister(WALAppends)
	prometheus.MustRegister(WALBytes)
	prometheus.MustRegister(StatementsTotal)
	prometheus.MustRegister(StatementDuration)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(RecoveryRuns)
	prometheus.MustRegister(RecoveryDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
