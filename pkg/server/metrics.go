package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "parlor"

// Metrics aggregates the server's Prometheus collectors.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	RequestsTotal       *prometheus.CounterVec
	Upgrades            prometheus.Counter
	ClaimRejects        prometheus.Counter
	RoomsCreated        prometheus.Counter
	RoomsDeleted        prometheus.Counter
	RoomsActive         prometheus.Gauge
	MembersConnected    prometheus.Gauge
	Broadcasts          prometheus.Counter
}

// NewMetrics registers the server's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "TCP connections accepted by the listener.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP responses written, by status code.",
		}, []string{"code"}),
		Upgrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_upgrades_total",
			Help:      "Successful WebSocket upgrades into room membership.",
		}),
		ClaimRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "seat_claim_rejects_total",
			Help:      "Seat claims rejected because the seat was unknown or taken.",
		}),
		RoomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created over the server's lifetime.",
		}),
		RoomsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_deleted_total",
			Help:      "Rooms deleted over the server's lifetime.",
		}),
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_active",
			Help:      "Rooms currently live.",
		}),
		MembersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "members_connected",
			Help:      "Seats and spectators with a live socket, across all rooms.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "room_broadcasts_total",
			Help:      "Messages fanned out to room members.",
		}),
	}
}

// roomStats feeds a room's membership events into the collectors. It
// satisfies room.Observer.
type roomStats struct {
	m *Metrics
}

func (o roomStats) MemberConnected()  { o.m.MembersConnected.Inc() }
func (o roomStats) MemberDropped()    { o.m.MembersConnected.Dec() }
func (o roomStats) MessageBroadcast() { o.m.Broadcasts.Inc() }
