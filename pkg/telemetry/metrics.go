package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for sl-pkg.
type Metrics struct {
	config MetricsConfig

	// Package operation metrics
	packagesProcessed *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	hookFailures      *prometheus.CounterVec

	// Ledger metrics
	ledgerChanges *prometheus.CounterVec

	// Transfer metrics
	fetches *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		packagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_processed_total",
				Help:      "Total number of packages processed by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lifecycle_step_duration_seconds",
				Help:      "Duration of lifecycle steps in seconds",
				Buckets:   buckets,
			},
			[]string{"step", "status"},
		),
		hookFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_failures_total",
				Help:      "Total number of failed manifest hooks",
			},
			[]string{"hook"},
		),
		ledgerChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_changes_total",
				Help:      "Total number of installed-package ledger writes",
			},
			[]string{"action"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of mirror transfers by scheme and outcome",
			},
			[]string{"scheme", "status"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.packagesProcessed,
		m.stepDuration,
		m.hookFailures,
		m.ledgerChanges,
		m.fetches,
		m.errorsByClass,
	)

	return m, nil
}

// RecordPackage counts one processed package.
func (m *Metrics) RecordPackage(operation, status string) {
	if m == nil || m.packagesProcessed == nil {
		return
	}
	m.packagesProcessed.WithLabelValues(operation, status).Inc()
}

// RecordStep observes the duration of one lifecycle step.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m == nil || m.stepDuration == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, status).Observe(duration.Seconds())
}

// RecordHookFailure counts a failed hook invocation.
func (m *Metrics) RecordHookFailure(hook string) {
	if m == nil || m.hookFailures == nil {
		return
	}
	m.hookFailures.WithLabelValues(hook).Inc()
}

// RecordLedgerChange counts a ledger insert, update or delete.
func (m *Metrics) RecordLedgerChange(action string) {
	if m == nil || m.ledgerChanges == nil {
		return
	}
	m.ledgerChanges.WithLabelValues(action).Inc()
}

// RecordFetch counts one transfer from the mirror.
func (m *Metrics) RecordFetch(scheme, status string) {
	if m == nil || m.fetches == nil {
		return
	}
	m.fetches.WithLabelValues(scheme, status).Inc()
}

// RecordError counts an error by class.
func (m *Metrics) RecordError(class string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes all metrics to the configured textfile path.
// It is a no-op when metrics are disabled or no path is configured.
func (m *Metrics) WriteTextfile() error {
	if m == nil || m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer helps measure operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
