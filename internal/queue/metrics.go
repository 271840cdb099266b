package queue

import "github.com/prometheus/client_golang/prometheus"

var publishesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "iloscout_queue_publishes_total",
		Help: "Successful queue publishes by queue name.",
	},
	[]string{"queue"},
)

func init() {
	prometheus.MustRegister(publishesTotal)
}
