package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// warehouse pipeline and the staging ingest loop.
type Metrics struct {
	// Staging ingest.
	MessagesConsumed        prometheus.Counter
	StagingRowsLoaded       prometheus.Counter
	TransformErrors         prometheus.Counter
	IngestRunning           prometheus.Gauge
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Warehouse stages.
	StageDuration         *prometheus.HistogramVec // labels: stage
	StageFailures         *prometheus.CounterVec   // labels: stage
	DimensionRowsInserted *prometheus.CounterVec   // labels: table
	FactRowsInserted      *prometheus.CounterVec   // labels: table
	FactsUnresolved       *prometheus.CounterVec   // labels: table
	RunsTotal             *prometheus.CounterVec   // labels: outcome={succeeded,failed}
	LastRunSuccess        prometheus.Gauge
	KeyCache              *prometheus.CounterVec // labels: result={hit,miss}
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total messages read from the source topic.",
		}),
		StagingRowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_rows_loaded_total",
			Help:      "Total rows written to the staging table.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Total source messages rejected by the normalizer.",
		}),
		IngestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_running",
			Help:      "1 when the staging ingest loop is active, 0 otherwise.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete ingest extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each warehouse stage transaction.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Warehouse stages that failed and rolled back.",
		}, []string{"stage"}),
		DimensionRowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dimension_rows_inserted_total",
			Help:      "New dimension rows created by deduplication.",
		}, []string{"table"}),
		FactRowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fact_rows_inserted_total",
			Help:      "New fact rows written.",
		}, []string{"table"}),
		FactsUnresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_unresolved_total",
			Help:      "Source records dropped because a natural key did not resolve.",
		}, []string{"table"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 when the most recent pipeline run succeeded, 0 otherwise.",
		}),
		KeyCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_cache_total",
			Help:      "Natural-key lookups served by the per-stage cache, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.StagingRowsLoaded,
		m.TransformErrors,
		m.IngestRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.StageDuration,
		m.StageFailures,
		m.DimensionRowsInserted,
		m.FactRowsInserted,
		m.FactsUnresolved,
		m.RunsTotal,
		m.LastRunSuccess,
		m.KeyCache,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
