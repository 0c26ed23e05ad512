package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the page engines.
type Metrics struct {
	Registry           *prometheus.Registry
	NavigationsTotal   *prometheus.CounterVec
	NavigationDuration prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
	CacheHitsTotal     prometheus.Counter
	ClicksTotal        *prometheus.CounterVec
}

// NewMetrics registers the engine metrics on registry, creating a
// dedicated registry when nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	navigations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_navigations_total",
			Help: "Page loads issued by the engine.",
		},
		[]string{"engine", "outcome"},
	)
	navigationDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_navigation_duration_seconds",
			Help:    "Time spent loading a page.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_navigation_errors_total",
			Help: "Failed page loads by error type.",
		},
		[]string{"error_type"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_page_cache_hits_total",
			Help: "Static engine page loads served from the cache.",
		},
	)
	clicks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_clicks_total",
			Help: "Element clicks by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(navigations, navigationDuration, errorsTotal, cacheHits, clicks)

	return &Metrics{
		Registry:           registry,
		NavigationsTotal:   navigations,
		NavigationDuration: navigationDuration,
		ErrorsTotal:        errorsTotal,
		CacheHitsTotal:     cacheHits,
		ClicksTotal:        clicks,
	}
}

// IncNavigation counts a page load.
func (m *Metrics) IncNavigation(engine, outcome string) {
	if m == nil {
		return
	}
	m.NavigationsTotal.WithLabelValues(engine, outcome).Inc()
}

// ObserveDuration records a page load duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.NavigationDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCacheHit counts a page served from the static cache.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// IncClick counts a click attempt.
func (m *Metrics) IncClick(outcome string) {
	if m == nil {
		return
	}
	m.ClicksTotal.WithLabelValues(outcome).Inc()
}
