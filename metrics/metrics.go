// Package metrics records benchmark phase timings as Prometheus metrics and
// exports them in the text exposition format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Phase names, shared with the report columns.
const (
	PhaseGenDataset = "gen_dataset"
	PhaseFit        = "fit"
	PhaseTransform  = "transform"
	PhaseTotal      = "total"
)

// Metrics is the collection of benchmark metrics on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	PhaseSeconds *prometheus.HistogramVec
	RunsTotal    *prometheus.CounterVec
	DatasetBytes *prometheus.GaugeVec
}

// New creates and registers all benchmark metrics.
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.PhaseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pcabench_phase_duration_seconds",
			Help:    "Wall time of each benchmark phase in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 20),
		},
		[]string{"mode", "phase"},
	)

	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcabench_runs_total",
			Help: "Benchmark runs by mode and outcome",
		},
		[]string{"mode", "status"},
	)

	m.DatasetBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pcabench_dataset_bytes",
			Help: "Size of the generated dataset in bytes",
		},
		[]string{"mode"},
	)

	m.Registry.MustRegister(m.PhaseSeconds, m.RunsTotal, m.DatasetBytes)
	return m
}

// ObservePhase records the duration of one phase.
func (m *Metrics) ObservePhase(mode, phase string, d time.Duration) {
	m.PhaseSeconds.WithLabelValues(mode, phase).Observe(d.Seconds())
}

// RunFinished counts a completed run.
func (m *Metrics) RunFinished(mode string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(mode, status).Inc()
}

// SetDatasetBytes records the generated dataset size.
func (m *Metrics) SetDatasetBytes(mode string, n int64) {
	m.DatasetBytes.WithLabelValues(mode).Set(float64(n))
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
