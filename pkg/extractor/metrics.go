package extractor

import "github.com/prometheus/client_golang/prometheus"

// Extractions counts Extract calls by the tier that produced the result.
var Extractions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "heirloom_signal_extractions_total",
		Help: "Signal extractions by source (model, fallback).",
	},
	[]string{"source"},
)

func init() {
	prometheus.MustRegister(Extractions)
}
