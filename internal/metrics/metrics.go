package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
)

var (
	// Requests
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodestream_requests_total",
		Help: "The total number of node operations handled",
	}, []string{"op", "outcome"})

	RequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "nodestream_request_latency_seconds",
		Help: "The latency of node operations",
	}, []string{"op"})

	// Fan-out
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodestream_notifications_total",
		Help: "The total number of item notifications by outcome",
	}, []string{"outcome"})

	// State
	Nodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodestream_nodes",
		Help: "The current number of nodes",
	})

	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodestream_subscriptions",
		Help: "The current number of node subscriptions",
	})

	CorrelationPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodestream_correlation_pending",
		Help: "The current number of registered reply waiters",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestLatency)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(Nodes)
	prometheus.MustRegister(Subscriptions)
	prometheus.MustRegister(CorrelationPending)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
