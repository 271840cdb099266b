package discovery

import "github.com/prometheus/client_golang/prometheus"

var (
	scansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iloscout_subnet_sweeps_total",
			Help: "Total number of completed subnet sweeps.",
		},
	)
	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iloscout_subnet_sweep_duration_seconds",
			Help:    "Subnet sweep duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	activeHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iloscout_active_hosts",
			Help: "iLO endpoints found by the most recent sweep.",
		},
	)
	registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iloscout_registrations_total",
			Help: "Registration attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(scansTotal)
	prometheus.MustRegister(scanDuration)
	prometheus.MustRegister(activeHosts)
	prometheus.MustRegister(registrationsTotal)
}
