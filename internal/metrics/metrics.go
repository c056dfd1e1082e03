package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Channel authorization outcomes by topic kind and outcome
	// (granted, denied, invalid, unauthenticated, error).
	ChannelAuthTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyhub_channel_auth_total",
			Help: "Channel authorization decisions by topic kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	MembershipCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyhub_membership_cache_total",
			Help: "Membership lookups served from cache (hit) or the database (miss)",
		},
		[]string{"result"},
	)

	GatewayTriggerTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familyhub_gateway_trigger_total",
			Help: "Events triggered on the broadcast gateway by event and status",
		},
		[]string{"event", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "familyhub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(ChannelAuthTotal)
	prometheus.MustRegister(MembershipCacheTotal)
	prometheus.MustRegister(GatewayTriggerTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
