package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/wellness-sync/internal/apperror"
)

var (
	// gatewayReqs counts inference calls by kind and outcome ("ok" or a failure kind).
	gatewayReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of inference service calls.",
		},
		[]string{"kind", "outcome"},
	)

	// gatewayLat records end-to-end call duration in seconds by kind.
	gatewayLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of inference service calls in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(gatewayReqs, gatewayLat)
}

func observe(kind Kind, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperror.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	gatewayReqs.WithLabelValues(string(kind), outcome).Inc()
	gatewayLat.WithLabelValues(string(kind)).Observe(d.Seconds())
}
