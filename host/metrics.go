package host

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/wasm-wallet/errors"
)

// Metrics are the host's Prometheus collectors.
type Metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
	native   *prometheus.HistogramVec
	events   *prometheus.CounterVec
	ready    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered. Collectors already registered by another host
// on the same registry are shared.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "host",
			Name:      "commands_total",
			Help:      "Commands handled, by command and outcome.",
		}, []string{"command", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "host",
			Name:      "command_duration_seconds",
			Help:      "Time spent handling a command.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"command"}),
		native: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "host",
			Name:      "native_call_duration_seconds",
			Help:      "Time spent inside wallet module exports.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"export"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "host",
			Name:      "events_total",
			Help:      "Events emitted, by category.",
		}, []string{"category"}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wallet",
			Subsystem: "host",
			Name:      "module_ready",
			Help:      "1 once the wallet module is loaded.",
		}),
	}
	if reg != nil {
		m.commands = register(reg, m.commands)
		m.duration = register(reg, m.duration)
		m.native = register(reg, m.native)
		m.events = register(reg, m.events)
		m.ready = register(reg, m.ready)
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

func (m *Metrics) observeCommand(command string, failed bool, elapsed time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.commands.WithLabelValues(command, outcome).Inc()
	m.duration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) observeNative(export string, elapsed time.Duration) {
	m.native.WithLabelValues(export).Observe(elapsed.Seconds())
}
