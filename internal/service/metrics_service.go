package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache, transactions and lifecycle transitions.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	txDuration      *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	invoices        *prometheus.CounterVec
	followUps       *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	txDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_transaction_duration_seconds",
		Help:    "Duration of service transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_transitions_total",
		Help: "Lifecycle transitions attempted per entity and action",
	}, []string{"entity", "action", "result"})

	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoices_generated_total",
		Help: "Billing documents raised by the enrollment engine",
	}, []string{"kind"})

	followUps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "follow_ups_total",
		Help: "Follow-up notifications by delivery result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		txDuration, transitions, invoices, followUps, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		txDuration:      txDuration,
		transitions:     transitions,
		invoices:        invoices,
		followUps:       followUps,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveTransaction records how long a service transaction ran and whether it committed.
func (m *MetricsService) ObserveTransaction(operation string, committed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "rollback"
	if committed {
		outcome = "commit"
	}
	m.txDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordTransition counts a lifecycle action. The result label is "ok" or the failing error code.
func (m *MetricsService) RecordTransition(entity, action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = appErrors.FromError(err).Code
	}
	m.transitions.WithLabelValues(entity, action, result).Inc()
}

// RecordInvoice counts a billing document of the given kind.
func (m *MetricsService) RecordInvoice(kind string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(kind).Inc()
}

// RecordFollowUp counts a follow-up delivery outcome.
func (m *MetricsService) RecordFollowUp(result string) {
	if m == nil {
		return
	}
	m.followUps.WithLabelValues(result).Inc()
}
