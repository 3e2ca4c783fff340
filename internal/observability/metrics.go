// Package observability exposes Prometheus metrics for graph evaluation and
// the network registry.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "graphnet"

// Evaluation modes used as the "mode" label.
const (
	ModeBatch     = "batch"
	ModeLookup    = "lookup"
	ModeEmbedding = "embedding"
)

// Registry operation outcomes used as the "status" label.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Collector holds all Prometheus metrics of one process. Each collector owns
// a private registry, so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	Evaluations        *prometheus.CounterVec
	EvaluationErrors   *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	RegistryOperations *prometheus.CounterVec
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	evaluations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of evaluated rows (batch rows, embedding rows or single lookups)",
		},
		[]string{"mode"},
	)

	evaluationErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_errors_total",
			Help:      "Total number of failed evaluation calls",
		},
		[]string{"mode"},
	)

	evaluationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of an evaluation call in seconds",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		},
		[]string{"mode"},
	)

	registryOperations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_operations_total",
			Help:      "Total number of network registry operations",
		},
		[]string{"op", "status"},
	)

	registry.MustRegister(evaluations, evaluationErrors, evaluationDuration, registryOperations)

	return &Collector{
		registry:           registry,
		Evaluations:        evaluations,
		EvaluationErrors:   evaluationErrors,
		EvaluationDuration: evaluationDuration,
		RegistryOperations: registryOperations,
	}
}

// ObserveEvaluation records one evaluation call in mode that covered count
// rows and took d in total. An embedding row counts once, however many output
// nodes it computes. A nil collector records nothing.
func (c *Collector) ObserveEvaluation(mode string, count int, d time.Duration, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.EvaluationErrors.WithLabelValues(mode).Inc()
	}
	c.Evaluations.WithLabelValues(mode).Add(float64(count))
	c.EvaluationDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveRegistry records one registry operation.
func (c *Collector) ObserveRegistry(op string, err error) {
	if c == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	c.RegistryOperations.WithLabelValues(op, status).Inc()
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Gather collects the current metric families.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	return c.registry.Gather()
}
