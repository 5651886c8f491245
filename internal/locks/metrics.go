package locks

import "github.com/prometheus/client_golang/prometheus"

var lockContentionTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "docdex_lock_contention_total",
		Help: "Acquire attempts refused because another client held the lock.",
	},
)

func init() {
	prometheus.MustRegister(lockContentionTotal)
}
