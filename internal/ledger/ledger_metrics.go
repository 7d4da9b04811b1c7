package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts ledger operations by type.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adwallet",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by type.",
		},
		[]string{"type"},
	)

	// LedgerOpDuration observes operation latency by type.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "adwallet",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// LedgerEntriesTotal counts settled ledger entries by type and status.
	LedgerEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adwallet",
			Name:      "ledger_entries_total",
			Help:      "Total settled ledger entries by type and final status.",
		},
		[]string{"type", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		LedgerEntriesTotal,
	)
}

// observeOp records an operation and returns a func to observe its duration.
func observeOp(op string) func() {
	LedgerOpsTotal.WithLabelValues(op).Inc()
	start := time.Now()
	return func() {
		LedgerOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// observeSettled records a settled entry by type and final status.
func observeSettled(tx *Transaction) {
	if tx == nil {
		return
	}
	LedgerEntriesTotal.WithLabelValues(string(tx.Type), string(tx.Status)).Inc()
}
