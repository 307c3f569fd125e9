package governor

import "github.com/prometheus/client_golang/prometheus"

var (
	// CallAttempts counts outbound call attempts by result.
	CallAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heirloom_governor_attempts_total",
			Help: "Outbound call attempts by result (success, retryable, fatal).",
		},
		[]string{"op", "result"},
	)

	// WaitSeconds observes how long callers blocked waiting for capacity.
	WaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heirloom_governor_wait_seconds",
			Help:    "Time spent waiting for rate capacity before a call.",
			Buckets: []float64{0, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
	)

	// WindowCalls is the number of calls inside the trailing window.
	WindowCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "heirloom_governor_window_calls",
			Help: "Calls recorded in the trailing rate window.",
		},
	)
)

func init() {
	prometheus.MustRegister(CallAttempts)
	prometheus.MustRegister(WaitSeconds)
	prometheus.MustRegister(WindowCalls)
}
