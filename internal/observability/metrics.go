package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "basin_remap"

// Metrics holds the Prometheus counters and histograms of table builds and
// remapping runs.
type Metrics struct {
	FilesProcessed     *prometheus.CounterVec // labels: outcome={success,error}
	TimestepsProcessed prometheus.Counter
	RescaledTargets    prometheus.Counter
	MissingTargets     prometheus.Counter
	ClampedWeights     prometheus.Counter

	TableBuildDuration prometheus.Histogram
	FileDuration       prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Source files remapped, by outcome.",
		}, []string{"outcome"}),
		TimestepsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timesteps_processed_total",
			Help:      "Time slices remapped across all files and variables.",
		}),
		RescaledTargets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescaled_targets_total",
			Help:      "Target values computed from renormalized weights due to missing data.",
		}),
		MissingTargets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_targets_total",
			Help:      "Target values emitted as the fill value.",
		}),
		ClampedWeights: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clamped_weights_total",
			Help:      "Targets whose restricted weight sum exceeded 1 and was clamped.",
		}),
		TableBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_build_duration_seconds",
			Help:      "Duration of remap table construction.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		FileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Duration of remapping one source file.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}

	prometheus.MustRegister(
		m.FilesProcessed,
		m.TimestepsProcessed,
		m.RescaledTargets,
		m.MissingTargets,
		m.ClampedWeights,
		m.TableBuildDuration,
		m.FileDuration,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they need.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FilesProcessed:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "files_processed_total"}, []string{"outcome"}),
		TimestepsProcessed: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "timesteps_processed_total"}),
		RescaledTargets:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rescaled_targets_total"}),
		MissingTargets:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "missing_targets_total"}),
		ClampedWeights:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "clamped_weights_total"}),
		TableBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "table_build_duration_seconds"}),
		FileDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "file_duration_seconds"}),
	}
}
