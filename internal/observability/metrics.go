// Package observability provides Prometheus metrics for the venue.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Metrics holds every venue metric. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Engine metrics
	Operations        *prometheus.CounterVec
	OperationLatency  *prometheus.HistogramVec
	Compensations     *prometheus.CounterVec
	CompensationFails *prometheus.CounterVec

	// Ledger metrics
	TradesRecorded prometheus.Counter

	// Pipeline metrics
	EventsPublished  *prometheus.CounterVec
	EventPublishFail *prometheus.CounterVec
	TradesArchived   prometheus.Counter

	// Pool metrics
	PoolReserve *prometheus.GaugeVec
}

// NewMetrics registers all metrics on a fresh registry together with the Go
// and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "venue"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by engine, operation and error kind",
		}, []string{"engine", "op", "result"}),
		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency including lock wait",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"engine", "op"}),
		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "compensations_total",
			Help:      "Collaborator steps undone after a later step failed",
		}, []string{"step"}),
		CompensationFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "compensation_failures_total",
			Help:      "Compensating steps that themselves failed",
		}, []string{"step"}),

		TradesRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "trades_recorded_total",
			Help:      "Trades appended to the ledger",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events delivered to the publisher fanout",
		}, []string{"kind"}),
		EventPublishFail: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Domain events at least one publisher failed to deliver",
		}, []string{"kind"}),
		TradesArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "trades_archived_total",
			Help:      "Journal rows moved to object storage",
		}),

		PoolReserve: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "reserve",
			Help:      "Pool reserve per token (float approximation)",
		}, []string{"token"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOp counts one engine operation and its latency.
func (m *Metrics) ObserveOp(engine, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(engine, op, resultOf(err)).Inc()
	m.OperationLatency.WithLabelValues(engine, op).Observe(time.Since(started).Seconds())
}

// Compensated counts an undone collaborator step.
func (m *Metrics) Compensated(step string, err error) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(step).Inc()
	if err != nil {
		m.CompensationFails.WithLabelValues(step).Inc()
	}
}

// TradeRecorded counts one ledger append.
func (m *Metrics) TradeRecorded() {
	if m == nil {
		return
	}
	m.TradesRecorded.Inc()
}

// EventPublished counts one event delivery attempt.
func (m *Metrics) EventPublished(kind domain.EventKind, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EventPublishFail.WithLabelValues(string(kind)).Inc()
		return
	}
	m.EventsPublished.WithLabelValues(string(kind)).Inc()
}

// Archived counts journal rows moved to cold storage.
func (m *Metrics) Archived(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TradesArchived.Add(float64(n))
}

// SetReserve records a pool reserve. Values beyond float64 precision are
// approximate.
func (m *Metrics) SetReserve(token string, v float64) {
	if m == nil {
		return
	}
	m.PoolReserve.WithLabelValues(token).Set(v)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrAuthorization):
		return "authorization"
	case errors.Is(err, domain.ErrState):
		return "state"
	case errors.Is(err, domain.ErrCollaborator):
		return "collaborator"
	default:
		return "internal"
	}
}
