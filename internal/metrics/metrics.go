// Package metrics exposes gateway counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openrvcore"

// Metrics is safe to use through a nil pointer; every method is then a
// no-op.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived     *prometheus.CounterVec // by dgn_name
	framesPending      prometheus.Counter
	framesUnknown      prometheus.Counter
	commands           *prometheus.CounterVec // by command_type, outcome
	validationFailures *prometheus.CounterVec // by code
	txFrames           *prometheus.CounterVec // by result
	txRetries          prometheus.Counter
	commandLatency     prometheus.Histogram
	transportConnected prometheus.Gauge
	pubsubConnected    prometheus.Gauge
	websocketClients   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Decoded frames by message name",
		}, []string{"dgn_name"}),

		framesPending: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decode_pending_total",
			Help:      "Frames of a known DGN whose parameters could not be decoded",
		}),

		framesUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_unknown_total",
			Help:      "Frames of a DGN missing from the spec catalog",
		}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled, by type and outcome",
		}, []string{"command_type", "outcome"}), // outcome: success, validation, encoding, transmission

		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Rejected commands by error code",
		}, []string{"code"}),

		txFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "can_tx",
			Name:      "frames_total",
			Help:      "Frames written to the bus, by result",
		}, []string{"result"}),

		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "can_tx",
			Name:      "retries_total",
			Help:      "Frame send retries",
		}),

		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_latency_seconds",
			Help:      "Time from command receipt to the last frame sent",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		transportConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connected",
			Help:      "1 while the CAN transport is connected",
		}),

		pubsubConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pubsub_connected",
			Help:      "1 while the pub/sub broker is connected",
		}),

		websocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Authenticated websocket clients",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesReceived,
		m.framesPending,
		m.framesUnknown,
		m.commands,
		m.validationFailures,
		m.txFrames,
		m.txRetries,
		m.commandLatency,
		m.transportConnected,
		m.pubsubConnected,
		m.websocketClients,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FrameDecoded counts one inbound frame.
func (m *Metrics) FrameDecoded(name string, pending, unknown bool) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(name).Inc()
	if pending {
		m.framesPending.Inc()
	}
	if unknown {
		m.framesUnknown.Inc()
	}
}

// CommandHandled counts a command outcome. latency is observed only for
// successes.
func (m *Metrics) CommandHandled(commandType, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(commandType, outcome).Inc()
	if outcome == OutcomeSuccess {
		m.commandLatency.Observe(latency.Seconds())
	}
}

func (m *Metrics) ValidationFailed(code string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(code).Inc()
}

// FrameSent, FrameFailed and Retried make Metrics a can.TxObserver.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.txFrames.WithLabelValues("sent").Inc()
}

func (m *Metrics) FrameFailed() {
	if m == nil {
		return
	}
	m.txFrames.WithLabelValues("failed").Inc()
}

func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// TransportState is the can.Manager state hook.
func (m *Metrics) TransportState(connected bool) {
	if m == nil {
		return
	}
	m.transportConnected.Set(boolGauge(connected))
}

func (m *Metrics) PubSubState(connected bool) {
	if m == nil {
		return
	}
	m.pubsubConnected.Set(boolGauge(connected))
}

func (m *Metrics) WebsocketClients(n int) {
	if m == nil {
		return
	}
	m.websocketClients.Set(float64(n))
}

const (
	OutcomeSuccess      = "success"
	OutcomeValidation   = "validation"
	OutcomeEncoding     = "encoding"
	OutcomeTransmission = "transmission"
)

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
