package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus metrics for deployment runs.
type Metrics struct {
	config MetricsConfig

	phaseOutcomes *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	commandRuns   *prometheus.CounterVec
	runDuration   prometheus.Histogram
	dryRunEntries prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		// No-op instance; all recording methods check registry for nil.
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "portalctl"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		phaseOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_outcomes_total",
				Help:      "Phase executions by phase name and outcome",
			},
			[]string{"phase", "outcome"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Phase execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		commandRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_executions_total",
				Help:      "External command executions by target kind and result",
			},
			[]string{"target", "result"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Total deployment run duration in seconds",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
			},
		),
		dryRunEntries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dry_run_entries_total",
				Help:      "Commands recorded to the dry-run ledger",
			},
		),
	}

	registry.MustRegister(
		m.phaseOutcomes,
		m.phaseDuration,
		m.commandRuns,
		m.runDuration,
		m.dryRunEntries,
	)

	return m
}

// Registry returns the underlying Prometheus registry, or nil when metrics
// are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPhase records the outcome and duration of a single phase.
func (m *Metrics) RecordPhase(phase, outcome string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.phaseOutcomes.WithLabelValues(phase, outcome).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordCommand records a single external command execution.
func (m *Metrics) RecordCommand(targetKind, result string) {
	if m.registry == nil {
		return
	}
	m.commandRuns.WithLabelValues(targetKind, result).Inc()
}

// RecordRun records the duration of an entire deployment run.
func (m *Metrics) RecordRun(duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.runDuration.Observe(duration.Seconds())
}

// RecordDryRunEntry counts a command diverted to the dry-run ledger.
func (m *Metrics) RecordDryRunEntry() {
	if m.registry == nil {
		return
	}
	m.dryRunEntries.Inc()
}
