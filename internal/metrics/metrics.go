// Package metrics holds the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "banjo"

var (
	Registry = prometheus.NewRegistry()

	Frames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "JSON-RPC frames by direction and kind.",
	}, []string{"direction", "kind"})

	ProtocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "protocol_errors_total",
		Help:      "Error responses sent for inbound frames, by JSON-RPC code.",
	}, []string{"code"})

	PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tool_requests_pending",
		Help:      "Outbound tool proxy requests awaiting a reply.",
	})

	ToolRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_requests_total",
		Help:      "Completed tool proxy requests by method and outcome.",
	}, []string{"method", "outcome"})

	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open editor connections.",
	})

	Sessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Active sessions by engine.",
	}, []string{"engine"})

	AgentExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_exits_total",
		Help:      "Agent subprocess exits by engine and whether they were expected.",
	}, []string{"engine", "reason"})

	PermissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_decisions_total",
		Help:      "Permission hook decisions by decision and source.",
	}, []string{"decision", "source"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Frames,
		ProtocolErrors,
		PendingRequests,
		ToolRequests,
		Connections,
		Sessions,
		AgentExits,
		PermissionDecisions,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
