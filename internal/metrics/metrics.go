package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters.
type Metrics struct {
	runs            *prometheus.CounterVec
	logsFetched     prometheus.Counter
	recordsInserted prometheus.Counter
	recordsDup      prometheus.Counter
	logsMalformed   prometheus.Counter
	errors          prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = newMetrics()
		prometheus.MustRegister(metrics.collectors()...)
	})
	return metrics
}

// NewUnregistered builds counters that are not attached to the default registry.
func NewUnregistered() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abi_indexer_runs_total",
			Help: "Total number of ingestion runs by final status",
		}, []string{"status"}),
		logsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abi_indexer_logs_fetched_total",
			Help: "Total number of logs returned by the node",
		}),
		recordsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abi_indexer_records_inserted_total",
			Help: "Total number of decoded records stored",
		}),
		recordsDup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abi_indexer_records_duplicate_total",
			Help: "Total number of records skipped because their log was already stored",
		}),
		logsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abi_indexer_logs_malformed_total",
			Help: "Total number of logs that did not match the event layout",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abi_indexer_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runs,
		m.logsFetched,
		m.recordsInserted,
		m.recordsDup,
		m.logsMalformed,
		m.errors,
	}
}

// RunFinished counts one run under status (ok, partial, failed, rejected).
func (m *Metrics) RunFinished(status string) {
	if m != nil {
		m.runs.WithLabelValues(status).Inc()
	}
}

// LogsFetched adds n fetched logs.
func (m *Metrics) LogsFetched(n int) {
	if m != nil {
		m.logsFetched.Add(float64(n))
	}
}

// RecordInserted increments the inserted records counter.
func (m *Metrics) RecordInserted() {
	if m != nil {
		m.recordsInserted.Inc()
	}
}

// RecordDuplicate increments the duplicate records counter.
func (m *Metrics) RecordDuplicate() {
	if m != nil {
		m.recordsDup.Inc()
	}
}

// LogMalformed increments the malformed logs counter.
func (m *Metrics) LogMalformed() {
	if m != nil {
		m.logsMalformed.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
