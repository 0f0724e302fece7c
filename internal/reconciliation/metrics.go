package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileAwaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiptap",
		Subsystem: "reconciliation",
		Name:      "awaiting_transactions",
		Help:      "Transactions awaiting gateway confirmation found in the last pass.",
	})

	reconcileResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiptap",
		Subsystem: "reconciliation",
		Name:      "resolved_total",
		Help:      "Awaiting transactions resolved by reconciliation, by final status.",
	}, []string{"status"})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tiptap",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tiptap",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileAwaiting,
		reconcileResolved,
		reconcileDuration,
		reconcileErrors,
	)
}
