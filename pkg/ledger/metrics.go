package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	// PoolLevel reports each agent's individual pool balances.
	PoolLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heirloom_ledger_pool",
			Help: "Individual resource pool balance by agent and kind.",
		},
		[]string{"agent", "kind"},
	)

	// SharedLevel reports the shared pool counters.
	SharedLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heirloom_ledger_shared",
			Help: "Shared pool balances by counter.",
		},
		[]string{"counter"},
	)

	// Rejections counts allocations refused by the ledger.
	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heirloom_ledger_rejections_total",
			Help: "Allocations rejected for insufficient resources.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(PoolLevel)
	prometheus.MustRegister(SharedLevel)
	prometheus.MustRegister(Rejections)
}
