package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type keeperMetrics struct {
	sweeps   prometheus.Counter
	expired  prometheus.Counter
	errors   prometheus.Counter
	duration prometheus.Histogram
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *keeperMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "barrio",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "barrio",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "barrio",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "barrio",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// KeeperMetrics returns the lazily-initialised registry tracking expiry sweeps.
func KeeperMetrics() *keeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &keeperMetrics{
			sweeps: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "barrio",
				Subsystem: "keeper",
				Name:      "sweeps_total",
				Help:      "Count of completed expiry sweep passes.",
			}),
			expired: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "barrio",
				Subsystem: "keeper",
				Name:      "listings_expired_total",
				Help:      "Count of listings expired and refunded by the keeper.",
			}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "barrio",
				Subsystem: "keeper",
				Name:      "errors_total",
				Help:      "Count of expiry sweep passes that reported errors.",
			}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "barrio",
				Subsystem: "keeper",
				Name:      "sweep_duration_seconds",
				Help:      "Latency distribution for full expiry sweep passes.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.sweeps,
			keeperRegistry.expired,
			keeperRegistry.errors,
			keeperRegistry.duration,
		)
	})
	return keeperRegistry
}

// ObserveSweep records one completed sweep pass.
func (m *keeperMetrics) ObserveSweep(expired int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.expired.Add(float64(expired))
	if err != nil {
		m.errors.Inc()
	}
	m.duration.Observe(duration.Seconds())
}
