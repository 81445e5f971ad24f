// Package metrics exposes ingestion and retention counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clipdrop"

// Stage names used with ObserveStage.
const (
	StageAcquire   = "acquire"
	StageTransform = "transform"
	StageTotal     = "total"
)

// Metrics records ingestion and reaper activity. A nil *Metrics is a no-op.
type Metrics struct {
	ingest        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	fallback      *prometheus.CounterVec
	reaperRuns    *prometheus.CounterVec
	reaperDeleted prometheus.Counter
	reaperKept    prometheus.Counter
}

// New registers the metrics on reg. A nil registerer yields a no-op recorder.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Submissions that reached a terminal status.",
		}, []string{"kind", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of ingestion stages in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		fallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_fallback_total",
			Help:      "Fallback downloader invocations by outcome.",
		}, []string{"outcome"}),
		reaperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_runs_total",
			Help:      "Retention sweeps by result.",
		}, []string{"result"}),
		reaperDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_deleted_total",
			Help:      "Assets removed by the retention sweep.",
		}),
		reaperKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_retained_total",
			Help:      "Expired assets skipped because a user kept them.",
		}),
	}
	reg.MustRegister(m.ingest, m.stageDuration, m.fallback, m.reaperRuns, m.reaperDeleted, m.reaperKept)
	return m
}

// IncIngest counts a submission that reached status with the given media kind.
func (m *Metrics) IncIngest(kind, status string) {
	if m == nil {
		return
	}
	m.ingest.WithLabelValues(normalizeLabel(kind), normalizeLabel(status)).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(normalizeLabel(stage)).Observe(d.Seconds())
}

// IncFallback counts a fallback downloader run.
func (m *Metrics) IncFallback(succeeded bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if succeeded {
		outcome = "success"
	}
	m.fallback.WithLabelValues(outcome).Inc()
}

// ObserveSweep records one reaper run.
func (m *Metrics) ObserveSweep(err error, deleted, retained int) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reaperRuns.WithLabelValues(result).Inc()
	m.reaperDeleted.Add(float64(deleted))
	m.reaperKept.Add(float64(retained))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
