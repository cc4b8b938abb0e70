// Package telemetry exposes Prometheus metrics for commands, batches,
// recovery and history.
//
// Every method is safe to call on a nil *Metrics, so components can take
// metrics as an optional dependency.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsConfig configures metric collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"omitempty,alphanum"`
	// File is where the CLI dumps the registry in text format after a run.
	File string `yaml:"file" json:"file"`
}

// DefaultMetricsConfig returns metrics enabled under the "fstx" namespace.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "fstx"}
}

// Metrics provides Prometheus metrics for fstx.
type Metrics struct {
	commands  *prometheus.CounterVec
	batches   *prometheus.CounterVec
	retries   prometheus.Counter
	errors    *prometheus.CounterVec
	rollbacks *prometheus.CounterVec
	evictions prometheus.Counter

	batchDuration prometheus.Histogram

	historyMemory prometheus.Gauge
	historyDepth  *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on its own registry. A disabled
// configuration yields nil, which every method accepts.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	ns := cfg.Namespace

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "commands_total",
				Help:      "Commands executed, by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "batches_total",
				Help:      "Batches finished, by final status",
			},
			[]string{"status"},
		),
		retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "command_retries_total",
				Help:      "Retry attempts made after a failed attempt",
			},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_total",
				Help:      "Classified errors, by severity and recovery strategy",
			},
			[]string{"severity", "strategy"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rollbacks_total",
				Help:      "Batch rollbacks, by outcome",
			},
			[]string{"outcome"},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "history_evictions_total",
				Help:      "Commands evicted from the undo history",
			},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		historyMemory: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "history_memory_bytes",
				Help:      "Approximate memory held by the undo/redo history",
			},
		),
		historyDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "history_depth",
				Help:      "Number of commands on each history stack",
			},
			[]string{"stack"},
		),
	}

	m.registry.MustRegister(
		m.commands,
		m.batches,
		m.retries,
		m.errors,
		m.rollbacks,
		m.evictions,
		m.batchDuration,
		m.historyMemory,
		m.historyDepth,
	)
	return m
}

// Registry returns the registry holding all fstx metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordCommand counts one command execution.
func (m *Metrics) RecordCommand(commandType, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(commandType, outcome).Inc()
}

// RecordBatch counts a finished batch and observes its duration.
func (m *Metrics) RecordBatch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
	m.batchDuration.Observe(duration.Seconds())
}

// RecordRetry counts one retry attempt.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// RecordError counts a classified error.
func (m *Metrics) RecordError(severity, strategy string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(severity, strategy).Inc()
}

// RecordRollback counts a rollback with outcome "success" or "failure".
func (m *Metrics) RecordRollback(outcome string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(outcome).Inc()
}

// RecordEvictions counts commands dropped by history cleanup.
func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// SetHistoryState publishes the current history size.
func (m *Metrics) SetHistoryState(memoryBytes int64, undoDepth, redoDepth int) {
	if m == nil {
		return
	}
	m.historyMemory.Set(float64(memoryBytes))
	m.historyDepth.WithLabelValues("undo").Set(float64(undoDepth))
	m.historyDepth.WithLabelValues("redo").Set(float64(redoDepth))
}

// WriteToTextfile dumps the registry in the Prometheus text format.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
