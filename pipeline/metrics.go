package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for stage runs.
type Metrics struct {
	Registry         *prometheus.Registry
	PagesTotal       *prometheus.CounterVec
	RowsWrittenTotal *prometheus.CounterVec
	FlushesTotal     *prometheus.CounterVec
	CheckpointsTotal *prometheus.CounterVec
	StageDuration    *prometheus.GaugeVec
}

// NewMetrics registers the stage metrics on registry, creating a
// dedicated registry when nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Pages visited by outcome (ok, empty, failed).",
		},
		[]string{"stage", "outcome"},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_rows_written_total",
			Help: "Rows appended to stage output.",
		},
		[]string{"stage"},
	)
	flushes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_flushes_total",
			Help: "Buffer flushes to storage.",
		},
		[]string{"stage"},
	)
	checkpoints := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_checkpoints_total",
			Help: "Save points written, by kind (page or fatal).",
		},
		[]string{"kind"},
	)
	duration := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_stage_duration_seconds",
			Help: "Wall time of the last run of each stage.",
		},
		[]string{"stage"},
	)

	registry.MustRegister(pages, rows, flushes, checkpoints, duration)

	return &Metrics{
		Registry:         registry,
		PagesTotal:       pages,
		RowsWrittenTotal: rows,
		FlushesTotal:     flushes,
		CheckpointsTotal: checkpoints,
		StageDuration:    duration,
	}
}

// IncPage counts a visited page.
func (m *Metrics) IncPage(stage, outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(stage, outcome).Inc()
}

// AddFlush records a flush of n rows.
func (m *Metrics) AddFlush(stage string, n int) {
	if m == nil {
		return
	}
	m.FlushesTotal.WithLabelValues(stage).Inc()
	m.RowsWrittenTotal.WithLabelValues(stage).Add(float64(n))
}

// IncCheckpoint counts a saved checkpoint.
func (m *Metrics) IncCheckpoint(kind string) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.WithLabelValues(kind).Inc()
}

// ObserveStage records how long a stage ran.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Set(d.Seconds())
}
