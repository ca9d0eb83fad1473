package telemetry

import "github.com/prometheus/client_golang/prometheus"

var NodesLaunchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "provisioner",
		Subsystem: "nodes",
		Name:      "launched_total",
		Help:      "Total number of nodes launched by site and outcome.",
	},
	[]string{"site", "outcome"},
)

var QueryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "provisioner",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Reconciler query pass duration in seconds.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"site"},
)

var NodesByState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "provisioner",
		Subsystem: "nodes",
		Name:      "by_state",
		Help:      "Current count of known nodes per state.",
	},
	[]string{"state"},
)

var ContextPollTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "provisioner",
		Subsystem: "context",
		Name:      "poll_total",
		Help:      "Total number of contextualization broker polls by outcome.",
	},
	[]string{"outcome"},
)

// All returns all provisioner-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		NodesLaunchedTotal,
		QueryDuration,
		NodesByState,
		ContextPollTotal,
	}
}
