package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// connectionsOpen tracks live websocket clients on this instance.
	connectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fieldops",
		Subsystem: "chat",
		Name:      "connections_open",
		Help:      "Number of live chat connections",
	})

	// roomsActive tracks rooms with at least one member or an in-flight send.
	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fieldops",
		Subsystem: "chat",
		Name:      "rooms_active",
		Help:      "Number of rooms held in the membership table",
	})

	// broadcasts counts messages fanned out, by origin (local, relay).
	broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "chat",
		Name:      "broadcasts_total",
		Help:      "Messages fanned out to room members",
	}, []string{"origin"})

	// deliveries counts per-connection enqueues.
	deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "chat",
		Name:      "deliveries_total",
		Help:      "Events queued to individual connections",
	})

	// slowClients counts connections dropped because their send buffer was full.
	slowClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "chat",
		Name:      "slow_clients_total",
		Help:      "Connections dropped for not keeping up",
	})

	// relayErrors counts failed cross-instance publishes, by direction.
	relayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "chat",
		Name:      "relay_errors_total",
		Help:      "Cross-instance relay failures",
	}, []string{"direction"})
)
