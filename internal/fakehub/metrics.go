package fakehub

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

// metrics is nil when no registerer is configured.
type metrics struct {
	connections prometheus.Gauge
	commands    *prometheus.CounterVec
	requests    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	return &metrics{
		connections: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hubchat",
			Subsystem: "fakehub",
			Name:      "connections",
			Help:      "Number of open streaming connections.",
		})),
		commands: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubchat",
			Subsystem: "fakehub",
			Name:      "commands_total",
			Help:      "Streaming commands handled, by command and result code.",
		}, []string{"command", "code"})),
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hubchat",
			Subsystem: "fakehub",
			Name:      "api_requests_total",
			Help:      "REST requests handled, by route and result code.",
		}, []string{"route", "code"})),
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

func codeLabel(code hub.APIError) string {
	if code == "" {
		return "Success"
	}
	return string(code)
}

func (m *metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *metrics) command(kind ws.CommandKind, code hub.APIError) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "invalid"
	}
	m.commands.WithLabelValues(label, codeLabel(code)).Inc()
}

func (m *metrics) request(route string, code hub.APIError) {
	if m != nil {
		m.requests.WithLabelValues(route, codeLabel(code)).Inc()
	}
}
