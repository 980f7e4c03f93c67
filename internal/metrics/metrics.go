// Package metrics exposes Prometheus instrumentation for the daemon. All
// record methods are safe on a nil receiver so components can run without
// metrics wired in.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry prometheus.Registerer

	projectsTracked      *prometheus.GaugeVec
	jobsArmed            *prometheus.GaugeVec
	executionsTotal      *prometheus.CounterVec
	executionDuration    *prometheus.HistogramVec
	executionsInFlight   prometheus.Gauge
	notificationsTotal   *prometheus.CounterVec
	notificationsDropped *prometheus.CounterVec
	discoveryRuns        prometheus.Counter
	discoveryErrors      prometheus.Counter
	discoveryDuration    prometheus.Histogram
	retentionDeleted     *prometheus.CounterVec
}

// New registers the daemon's collectors under the given namespace. A nil
// registerer falls back to the default one.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registry: reg,
		projectsTracked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "projects_tracked",
				Help:      "Number of tracked projects by status",
			},
			[]string{"status"},
		),
		jobsArmed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_armed",
				Help:      "Number of armed timers by kind",
			},
			[]string{"kind"},
		),
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of destroy executions",
			},
			[]string{"status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of destroy executions",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		),
		executionsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "executions_in_flight",
				Help:      "Number of destroy executions currently running",
			},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of published notifications",
			},
			[]string{"type"},
		),
		notificationsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dropped_total",
				Help:      "Notifications dropped because a queue was full",
			},
			[]string{"reason"},
		),
		discoveryRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_runs_total",
				Help:      "Total number of discovery passes",
			},
		),
		discoveryErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_errors_total",
				Help:      "Total number of per-file discovery errors",
			},
		),
		discoveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discovery_duration_seconds",
				Help:      "Duration of discovery passes",
				Buckets:   []float64{.05, .1, .5, 1, 5, 15, 60},
			},
		),
		retentionDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_total",
				Help:      "Rows removed by retention sweeps",
			},
			[]string{"table"},
		),
	}

	reg.MustRegister(
		m.projectsTracked,
		m.jobsArmed,
		m.executionsTotal,
		m.executionDuration,
		m.executionsInFlight,
		m.notificationsTotal,
		m.notificationsDropped,
		m.discoveryRuns,
		m.discoveryErrors,
		m.discoveryDuration,
		m.retentionDeleted,
	)

	return m
}

func (m *Metrics) SetProjectsTracked(status string, n int) {
	if m == nil {
		return
	}
	m.projectsTracked.WithLabelValues(status).Set(float64(n))
}

func (m *Metrics) SetJobsArmed(kind string, n int) {
	if m == nil {
		return
	}
	m.jobsArmed.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) RecordExecution(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(status).Inc()
	m.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.executionsInFlight.Inc()
}

func (m *Metrics) ExecutionFinished() {
	if m == nil {
		return
	}
	m.executionsInFlight.Dec()
}

func (m *Metrics) RecordNotification(notificationType string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(notificationType).Inc()
}

func (m *Metrics) RecordDroppedNotification(reason string) {
	if m == nil {
		return
	}
	m.notificationsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDiscovery(errs int, duration time.Duration) {
	if m == nil {
		return
	}
	m.discoveryRuns.Inc()
	m.discoveryErrors.Add(float64(errs))
	m.discoveryDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRetention(table string, rows int64) {
	if m == nil {
		return
	}
	m.retentionDeleted.WithLabelValues(table).Add(float64(rows))
}
