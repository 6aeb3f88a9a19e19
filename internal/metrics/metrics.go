package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	gatewayLatencyBucketStart  = 0.05
	gatewayLatencyBucketFactor = 2
	gatewayLatencyBucketCount  = 10
)

var RelayEventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_events_published_total",
		Help: "Events broadcast by the relay",
	},
	[]string{"event"},
)

var RelayObservers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "relay_observers",
		Help: "Currently connected relay observers",
	},
)

var RelayObserversDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "relay_observers_dropped_total",
		Help: "Observers disconnected because their buffer was full",
	},
)

var RelayCommands = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_commands_total",
		Help: "Observer commands by name and outcome",
	},
	[]string{"command", "outcome"},
)

var WebhooksReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Provider webhooks by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

var StaleEventsRejected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "call_events_stale_total",
		Help: "Call events dropped by the ordering policy",
	},
)

var GatewayRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "gateway_request_duration_seconds",
		Help: "Provider gateway call latency",
		Buckets: prometheus.ExponentialBuckets(
			gatewayLatencyBucketStart,
			gatewayLatencyBucketFactor,
			gatewayLatencyBucketCount,
		),
	},
	[]string{"operation", "outcome"},
)

var EventBusDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "eventbus_dropped_total",
		Help: "Relay events the mirror could not publish",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(RelayEventsPublished)
	prometheus.MustRegister(RelayObservers)
	prometheus.MustRegister(RelayObserversDropped)
	prometheus.MustRegister(RelayCommands)
	prometheus.MustRegister(WebhooksReceived)
	prometheus.MustRegister(StaleEventsRejected)
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(EventBusDropped)
}

// Handler exposes the default registry on a Gin route.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
