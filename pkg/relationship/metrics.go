package relationship

import "github.com/prometheus/client_golang/prometheus"

var (
	// TrustChanges counts applied trust changes by direction and scope
	// (single or broadcast).
	TrustChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heirloom_trust_changes_total",
			Help: "Trust changes applied, by direction and scope.",
		},
		[]string{"direction", "scope"},
	)

	// TrustLevel is the current directed trust value.
	TrustLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heirloom_trust_level",
			Help: "Directed trust from source to target, in [0, 1].",
		},
		[]string{"source", "target"},
	)
)

func init() {
	prometheus.MustRegister(TrustChanges)
	prometheus.MustRegister(TrustLevel)
}
