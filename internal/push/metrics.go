package push

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// pushTotal counts push deliveries per token by outcome.
var pushTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_push_total",
		Help: "Push notifications handed to the provider, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(pushTotal)
}

func observe(outcome string, n int) {
	if n > 0 {
		pushTotal.WithLabelValues(outcome).Add(float64(n))
	}
}
