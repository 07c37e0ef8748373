package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry backs the /metrics endpoint.
	Registry *prometheus.Registry

	requestDuration     *prometheus.HistogramVec
	plansIngested       prometheus.Counter
	ingestionRejections *prometheus.CounterVec
	storeErrors         *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
}

// NewMetrics registers the service metrics, plus Go runtime and process
// collectors, in a registry of its own. Each call is independent.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credits_request_duration_seconds",
				Help:    "Duration of report and ingestion operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		plansIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_plans_ingested_total",
				Help: "Total plan rows committed by uploads.",
			},
		),
		ingestionRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_ingestion_rejections_total",
				Help: "Plan uploads rejected, by reason.",
			},
			[]string{"reason"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_store_errors_total",
				Help: "Unexpected storage errors, by operation.",
			},
			[]string{"operation"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_dictionary_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credits_dictionary_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// AddPlansIngested adds n committed plan rows.
func (m *Metrics) AddPlansIngested(n int) {
	m.plansIngested.Add(float64(n))
}

// IncrIngestionRejected counts a rejected upload.
func (m *Metrics) IncrIngestionRejected(reason string) {
	m.ingestionRejections.WithLabelValues(reason).Inc()
}

// IncrStoreError increments the storage error counter.
func (m *Metrics) IncrStoreError(operation string) {
	m.storeErrors.WithLabelValues(operation).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}
