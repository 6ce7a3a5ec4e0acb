// Package metrics exposes Prometheus collectors for the sync core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "commsync"

// Via labels for ActionDone.
const (
	ViaTransport = "transport"
	ViaFallback  = "fallback"
)

// Metrics groups every collector the client updates.
type Metrics struct {
	actions       *prometheus.CounterVec
	drops         *prometheus.CounterVec
	stale         *prometheus.CounterVec
	pushEvents    *prometheus.CounterVec
	fallthroughs  *prometheus.CounterVec
	pushConnected prometheus.Gauge
	reconnects    prometheus.Counter
}

// New creates the collectors and registers them on reg. Passing nil skips
// registration, which is handy in tests that only read values back.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "User actions applied, by action and the path that served them.",
		}, []string{"action", "via"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_drops_total",
			Help:      "User actions dropped after both push and fallback failed.",
		}, []string{"action"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Responses discarded because the active channel changed.",
		}, []string{"kind"}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Events received over the push transport.",
		}, []string{"event"}),
		fallthroughs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_fallthroughs_total",
			Help:      "Acknowledged push requests that failed and fell through to the fallback API.",
		}, []string{"action"}),
		pushConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_connected",
			Help:      "1 while the push transport is connected.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Push transport connection attempts after the first.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.actions, m.drops, m.stale, m.pushEvents, m.fallthroughs, m.pushConnected, m.reconnects)
	}
	return m
}

func (m *Metrics) ActionDone(action, via string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, via).Inc()
}

func (m *Metrics) ActionDropped(action string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(action).Inc()
}

func (m *Metrics) StaleResponse(kind string) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(kind).Inc()
}

func (m *Metrics) PushEvent(event string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) PushFallthrough(action string) {
	if m == nil {
		return
	}
	m.fallthroughs.WithLabelValues(action).Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.pushConnected.Set(1)
	} else {
		m.pushConnected.Set(0)
	}
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Collectors for tests.

func (m *Metrics) Actions() *prometheus.CounterVec      { return m.actions }
func (m *Metrics) Drops() *prometheus.CounterVec        { return m.drops }
func (m *Metrics) Stale() *prometheus.CounterVec        { return m.stale }
func (m *Metrics) Fallthroughs() *prometheus.CounterVec { return m.fallthroughs }
func (m *Metrics) Connected() prometheus.Gauge          { return m.pushConnected }
