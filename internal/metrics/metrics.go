// Package metrics exposes Prometheus collectors for the table API.
//
// Every collector lives in a private registry owned by [Metrics], so tests
// can create as many instances as they like without duplicate registration
// panics. The registry also carries the Go runtime and process collectors.
//
// # Basic Usage
//
//	m := metrics.New()
//	store = m.InstrumentStore(store)
//	svc := core.NewService(store, ingest.ParseFunc, cfg, core.WithIngestObserver(m))
//	router.Handle("/metrics", m.Handler())
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/tableapi/internal/core"
)

const namespace = "tableapi"

// Metrics holds every collector the service records to.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec   // requests by route, method and status
	httpDuration *prometheus.HistogramVec // request latency by route and method

	ingests        *prometheus.CounterVec   // ingests by format and outcome
	ingestRows     *prometheus.CounterVec   // rows inserted by format
	ingestCoerced  prometheus.Counter       // cells stored as null after a failed conversion
	ingestDuration *prometheus.HistogramVec // ingest latency by format

	storeOps      *prometheus.CounterVec   // store calls by operation and outcome
	storeDuration *prometheus.HistogramVec // store latency by operation
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		ingests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Ingested files by format and outcome.",
		}, []string{"format", "outcome"}),
		ingestRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Rows inserted by file ingests.",
		}, []string{"format"}),
		ingestCoerced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "coerced_cells_total",
			Help:      "Cells stored as null because they did not fit their column type.",
		}),
		ingestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Time from upload acceptance to rows committed.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"format"}),
		storeOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one finished request. route is the matched pattern,
// never the raw path, so table names do not explode label cardinality.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveIngest implements core.IngestObserver.
func (m *Metrics) ObserveIngest(format string, result *core.IngestResult, elapsed time.Duration, err error) {
	if format == "" {
		format = "unknown"
	}
	m.ingests.WithLabelValues(format, outcome(err)).Inc()
	m.ingestDuration.WithLabelValues(format).Observe(elapsed.Seconds())
	if err == nil && result != nil {
		m.ingestRows.WithLabelValues(format).Add(float64(result.RowsInserted))
		m.ingestCoerced.Add(float64(result.CellsCoerced))
	}
}

func (m *Metrics) observeStore(op string, start time.Time, err error) {
	m.storeOps.WithLabelValues(op, outcome(err)).Inc()
	m.storeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// outcome buckets an error for labels. Client mistakes are kept apart from
// failures so alerts can ignore them.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case core.IsNotFound(err):
		return "not_found"
	case core.IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}

var _ core.IngestObserver = (*Metrics)(nil)
