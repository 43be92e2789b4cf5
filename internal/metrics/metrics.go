// Package metrics exposes relay boundary counters to Prometheus.
//
// Every method is safe on a nil *Relay so components can run without a
// registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	DropMalformed     = "malformed"
	DropUnknownEvent  = "unknown_event"
	DropUnknownConn   = "unknown_connection"
	DropOutOfState    = "out_of_state"
	DropNotAllowed    = "not_participant"
	DropEmptyRoom     = "empty_room"
	DropNotMember     = "not_member"
	DropRateLimited   = "rate_limited"
	DropBackpressure  = "backpressure"
	DropRecipientGone = "recipient_gone"
)

type Relay struct {
	connections     prometheus.Gauge
	eventsReceived  *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	callTransitions *prometheus.CounterVec
}

// New registers the relay collectors on reg. rooms reports the live room
// count at scrape time.
func New(reg prometheus.Registerer, rooms func() float64) *Relay {
	f := promauto.With(reg)
	m := &Relay{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Live signaling connections.",
		}),
		eventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_received_total",
			Help: "Inbound client events by name.",
		}, []string{"event"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Frames handed to recipient connections by event name.",
		}, []string{"event"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Events or deliveries dropped, by reason.",
		}, []string{"reason"}),
		callTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_call_transitions_total",
			Help: "Call state machine transitions.",
		}, []string{"from", "to"}),
	}
	if rooms != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_rooms",
			Help: "Rooms with at least one member.",
		}, rooms)
	}
	return m
}

func (m *Relay) Connected() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Relay) Disconnected() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Relay) Received(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}

func (m *Relay) Delivered(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveries.WithLabelValues(event).Add(float64(n))
}

func (m *Relay) Drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Relay) Transition(from, to string) {
	if m == nil {
		return
	}
	m.callTransitions.WithLabelValues(from, to).Inc()
}
