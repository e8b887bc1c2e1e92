package pinpoints

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated during a run. Batch runs
// export them once at exit with WriteTextfile for a node-exporter textfile
// collector.
type Metrics struct {
	registry *prometheus.Registry

	Passes         prometheus.Counter
	JobsStarted    prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsInFlight   prometheus.Gauge
	JobDuration    prometheus.Histogram
	ProblemRegions *prometheus.GaugeVec // by status, for the latest pass
}

// NewMetrics creates collectors registered on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "regiongen",
			Name:      "passes_total",
			Help:      "Generation passes dispatched.",
		}),
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "regiongen",
			Name:      "jobs_started_total",
			Help:      "Capture tool invocations started.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "regiongen",
			Name:      "jobs_failed_total",
			Help:      "Capture tool invocations that exited non-zero.",
		}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "regiongen",
			Name:      "jobs_in_flight",
			Help:      "Capture tool invocations currently running.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "regiongen",
			Name:      "job_duration_seconds",
			Help:      "Wall time of capture tool invocations.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ProblemRegions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "regiongen",
			Name:      "problem_regions",
			Help:      "Regions classified as a problem by the latest probe.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.Passes, m.JobsStarted, m.JobsFailed, m.JobsInFlight, m.JobDuration, m.ProblemRegions)
	return m
}

// Registry returns the registry holding the run's collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes all collectors to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
