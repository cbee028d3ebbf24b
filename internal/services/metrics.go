package services

import "github.com/prometheus/client_golang/prometheus"

const (
	eventRequested = "requested"
	eventSubmitted = "submitted"
	eventUnlocked  = "unlocked"
	eventRejected  = "rejected"
	eventPurged    = "purged"
)

// secretEvents counts lifecycle events of secret requests.
var secretEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vault_secret_events_total",
		Help: "Secret request lifecycle events.",
	},
	[]string{"event"},
)

func init() {
	prometheus.MustRegister(secretEvents)
}
