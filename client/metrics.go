package client

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/wasm-wallet/errors"
)

// Metrics are the client's Prometheus collectors.
type Metrics struct {
	requests  *prometheus.CounterVec
	pending   prometheus.Gauge
	events    *prometheus.CounterVec
	panics    *prometheus.CounterVec
	unmatched prometheus.Counter
	jobPolls  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil. Collectors already registered on reg are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests completed, by command and outcome.",
		}, []string{"command", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wallet",
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Requests waiting for a response.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "client",
			Name:      "events_total",
			Help:      "Events dispatched to subscribers, by category.",
		}, []string{"category"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "client",
			Name:      "handler_panics_total",
			Help:      "Event handlers that panicked, by category.",
		}, []string{"category"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "client",
			Name:      "unmatched_responses_total",
			Help:      "Responses dropped because no request was waiting for them.",
		}),
		jobPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "client",
			Name:      "job_polls_total",
			Help:      "try_pull_result requests issued while waiting for jobs.",
		}),
	}
	if reg != nil {
		m.requests = register(reg, m.requests)
		m.pending = register(reg, m.pending)
		m.events = register(reg, m.events)
		m.panics = register(reg, m.panics)
		m.unmatched = register(reg, m.unmatched)
		m.jobPolls = register(reg, m.jobPolls)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observe(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(command, outcome).Inc()
}
