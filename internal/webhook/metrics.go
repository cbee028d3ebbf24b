package webhook

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

var (
	// deliveries counts ping attempts by subject and outcome.
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts.",
		},
		[]string{"subject", "outcome"},
	)

	deliveryLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_webhook_delivery_duration_seconds",
			Help:    "Duration of webhook POSTs in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"subject"},
	)
)

func init() {
	prometheus.MustRegister(deliveries, deliveryLat)
}
