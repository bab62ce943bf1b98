package ws

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics is nil when no registerer was configured; every method is a
// no-op on a nil receiver.
type metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	loopsRunning   prometheus.Gauge
}

const (
	outcomeSuccess    = "success"
	outcomeRejected   = "rejected"
	outcomeDiscarded  = "discarded"
	outcomeLoopClosed = "loop_closed"
)

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	return &metrics{
		framesSent: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubchat",
			Subsystem: "ws",
			Name:      "frames_sent_total",
			Help:      "Total number of command frames written, by command.",
		}, []string{"command"})),
		framesReceived: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubchat",
			Subsystem: "ws",
			Name:      "frames_received_total",
			Help:      "Total number of frames read by the dispatch loop, by kind.",
		}, []string{"kind"})),
		outcomes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubchat",
			Subsystem: "ws",
			Name:      "command_outcomes_total",
			Help:      "Total number of command outcomes, by result.",
		}, []string{"outcome"})),
		loopsRunning: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hubchat",
			Subsystem: "ws",
			Name:      "dispatch_loops_running",
			Help:      "Number of dispatch loops currently running.",
		})),
	}
}

// register adds c to reg, or returns the collector already registered
// under the same descriptor.
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

func (m *metrics) frameSent(kind CommandKind) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(string(kind)).Inc()
}

func (m *metrics) frameReceived(kind FrameKind) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind.String()).Inc()
}

func (m *metrics) outcome(result string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(result).Inc()
}

func (m *metrics) loopStarted() {
	if m == nil {
		return
	}
	m.loopsRunning.Inc()
}

func (m *metrics) loopStopped() {
	if m == nil {
		return
	}
	m.loopsRunning.Dec()
}
