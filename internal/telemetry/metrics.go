// Package telemetry wires the engine's counters, gauges and spans
// into Prometheus and a lightweight in-process tracer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProbesTotal counts probe rounds by outcome (direct, indirect, failed).
var ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "swim",
	Subsystem: "probe",
	Name:      "total",
	Help:      "Total probe rounds by outcome.",
}, []string{"outcome"})

// SuspicionsStarted counts members placed under suspicion.
var SuspicionsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "swim",
	Subsystem: "suspicion",
	Name:      "started_total",
	Help:      "Total suspicion timers started.",
})

// DeathsTotal counts members marked Dead.
var DeathsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "swim",
	Subsystem: "member",
	Name:      "deaths_total",
	Help:      "Total members marked Dead.",
})

// RefutationsTotal counts self-refutations (incarnation bumps in response
// to a false suspicion/death claim about the local member).
var RefutationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "swim",
	Subsystem: "member",
	Name:      "refutations_total",
	Help:      "Total self-refutations of the local member's status.",
})

// BroadcastQueueDepth tracks the current broadcast-queue length.
var BroadcastQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "swim",
	Subsystem: "broadcast",
	Name:      "queue_depth",
	Help:      "Current number of pending gossip updates in the broadcast queue.",
})

// AliveMembers tracks the current Alive member count.
var AliveMembers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "swim",
	Subsystem: "member",
	Name:      "alive",
	Help:      "Current number of members considered Alive.",
})
