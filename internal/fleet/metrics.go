package fleet

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iloscout_fleet_updates_total",
			Help: "Successful client refreshes by kind.",
		},
		[]string{"kind"},
	)

	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iloscout_fleet_admissions_total",
			Help: "Client admissions by outcome.",
		},
		[]string{"outcome"},
	)

	trackedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iloscout_fleet_tracked_clients",
			Help: "Clients currently tracked by the registry.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(updatesTotal, admissionsTotal, trackedClients)
}
