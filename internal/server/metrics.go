// Package server instruments the relay with Prometheus metrics exposed
// on the /metrics endpoint.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connections     prometheus.Gauge
	sessions        prometheus.Gauge
	commands        *prometheus.CounterVec
	messagesRelayed prometheus.Counter
	fanoutDrops     prometheus.Counter
	rejected        *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Currently open WebSocket connections.",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_sessions_joined",
			Help: "Connections that completed user_join.",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_commands_total",
			Help: "Inbound commands processed by the coordinator.",
		}, []string{"event"}),
		messagesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_relayed_total",
			Help: "Public, private, system, and broadcast messages appended to the log.",
		}),
		fanoutDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_fanout_drops_total",
			Help: "Outbound events dropped because a client send buffer was full.",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_commands_rejected_total",
			Help: "Commands rejected during validation.",
		}, []string{"code"}),
	}
}
