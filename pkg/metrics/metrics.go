// Package metrics provides Prometheus instrumentation for training runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Manager owns the training metric set. A nil Manager is safe to call, so
// instrumentation stays optional at every call site.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	enabled   bool
	registry  prometheus.Registerer

	steps          prometheus.Counter
	trainLoss      prometheus.Gauge
	validationLoss prometheus.Gauge
	gradNorm       prometheus.Gauge
	stepDuration   prometheus.Histogram
	checkpoints    prometheus.Counter
	instabilities  prometheus.Counter
}

// NewManager builds a Manager and registers its metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "lethe",
		subsystem: "training",
		buckets:   prometheus.DefBuckets,
		enabled:   true,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		return m
	}

	m.steps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "steps_total",
		Help:      "Completed optimization steps.",
	})
	m.trainLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "train_loss",
		Help:      "Most recent minibatch training loss.",
	})
	m.validationLoss = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "validation_loss",
		Help:      "Most recent validation loss.",
	})
	m.gradNorm = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "gradient_norm",
		Help:      "L2 norm of the most recent gradient.",
	})
	m.stepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "step_duration_seconds",
		Help:      "Wall time per optimization step.",
		Buckets:   m.buckets,
	})
	m.checkpoints = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoints_total",
		Help:      "Checkpoints written.",
	})
	m.instabilities = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "numeric_instabilities_total",
		Help:      "Runs aborted on non-finite values.",
	})

	m.registry.MustRegister(
		m.steps, m.trainLoss, m.validationLoss, m.gradNorm,
		m.stepDuration, m.checkpoints, m.instabilities,
	)
	return m
}

// ObserveStep records one completed optimization step.
func (m *Manager) ObserveStep(loss, gradNorm, seconds float64) {
	if m == nil || !m.enabled {
		return
	}
	m.steps.Inc()
	m.trainLoss.Set(loss)
	m.gradNorm.Set(gradNorm)
	m.stepDuration.Observe(seconds)
}

// ObserveValidation records a validation evaluation.
func (m *Manager) ObserveValidation(loss float64) {
	if m == nil || !m.enabled {
		return
	}
	m.validationLoss.Set(loss)
}

// ObserveCheckpoint records a durable checkpoint write.
func (m *Manager) ObserveCheckpoint() {
	if m == nil || !m.enabled {
		return
	}
	m.checkpoints.Inc()
}

// ObserveInstability records a run aborted on non-finite values.
func (m *Manager) ObserveInstability() {
	if m == nil || !m.enabled {
		return
	}
	m.instabilities.Inc()
}

// Registry exposes the underlying registerer for serving or testing.
func (m *Manager) Registry() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}
