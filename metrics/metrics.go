// Package metrics holds the Prometheus instrumentation of pipeline runs.
//
// A batch run has no scrape endpoint, so the registry is exported as a
// textfile (for node_exporter's textfile collector) when the run ends.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tripleforge"

// TextfileName is the metrics file written to the logs directory.
const TextfileName = "metrics.prom"

// Metrics groups the collectors. A nil *Metrics ignores every observation.
type Metrics struct {
	// Statement routing
	StatementsTotal *prometheus.CounterVec
	FragmentsTotal  *prometheus.CounterVec

	// Step timing
	StepDuration *prometheus.HistogramVec

	// Grouping
	BucketBytes    prometheus.Histogram
	MaxBucketBytes prometheus.Gauge

	// Combine and validation
	FallbacksTotal prometheus.Counter
	ChunksTotal    *prometheus.CounterVec

	LastRunTimestamp prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		StatementsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_total",
				Help:      "Statements processed, by outcome",
			},
			[]string{"outcome"}, // entity/relationship/malformed/dropped
		),
		FragmentsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fragments_total",
				Help:      "Stage fragments read, by parse mode",
			},
			[]string{"mode"}, // accurate/heuristic/skipped
		),
		StepDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of pipeline steps in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"step"},
		),
		BucketBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "grouping_bucket_bytes",
				Help:      "Size of each grouping bucket when loaded into memory",
				Buckets:   prometheus.ExponentialBuckets(4096, 4, 10),
			},
		),
		MaxBucketBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "grouping_max_bucket_bytes",
				Help:      "Largest grouping bucket of the last run",
			},
		),
		FallbacksTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "combine_fallbacks_total",
				Help:      "Combined artifacts that needed the fallback serialization",
			},
		),
		ChunksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_chunks_total",
				Help:      "Validated chunks, by status",
			},
			[]string{"status"}, // pass/fail/timeout
		),
		LastRunTimestamp: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}
}

// AddStatements counts n statements with the given outcome.
func (m *Metrics) AddStatements(outcome string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.StatementsTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveFragment counts one fragment read in mode.
func (m *Metrics) ObserveFragment(mode string) {
	if m == nil {
		return
	}
	m.FragmentsTotal.WithLabelValues(mode).Inc()
}

// ObserveStep records how long a pipeline step took.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ObserveBucket records one grouping bucket's materialized size. Its
// signature matches grouping.BucketHook.
func (m *Metrics) ObserveBucket(_ int, bytes int64) {
	if m == nil {
		return
	}
	m.BucketBytes.Observe(float64(bytes))
}

// SetMaxBucketBytes records the largest bucket of a grouping pass.
func (m *Metrics) SetMaxBucketBytes(bytes int64) {
	if m == nil {
		return
	}
	m.MaxBucketBytes.Set(float64(bytes))
}

// ObserveFallback counts one fallback serialization.
func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.FallbacksTotal.Inc()
}

// ObserveChunk counts one validated chunk.
func (m *Metrics) ObserveChunk(status string) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(status).Inc()
}

// MarkRun records the finish time of a run.
func (m *Metrics) MarkRun(t time.Time) {
	if m == nil {
		return
	}
	m.LastRunTimestamp.Set(float64(t.Unix()))
}

// WriteTextfile writes everything gathered by g to path in the Prometheus
// text format.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
