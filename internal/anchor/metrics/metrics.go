package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers ledger submissions and wallet health. Nil receivers are no-ops.
type Metrics struct {
	Submissions          prometheus.Counter
	Outcomes             *prometheus.CounterVec
	ConfirmationDuration prometheus.Histogram
	WalletBalanceWei     prometheus.Gauge
	CircuitOpen          prometheus.Gauge
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounter(prometheus.CounterOpts{
			Name: "civicproof_anchor_submissions_total",
			Help: "Signed anchor transactions broadcast to the ledger",
		}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civicproof_anchor_outcomes_total",
			Help: "Anchor attempts by outcome (confirmed or failure kind)",
		}, []string{"outcome"}),
		ConfirmationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civicproof_anchor_confirmation_duration_seconds",
			Help:    "Time from broadcast to confirmed receipt",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
		}),
		WalletBalanceWei: f.NewGauge(prometheus.GaugeOpts{
			Name: "civicproof_wallet_balance_wei",
			Help: "Last observed signing wallet balance in wei (float, precision loss above 2^53)",
		}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "civicproof_ledger_circuit_open",
			Help: "1 while the ledger RPC circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncSubmission() {
	if m == nil {
		return
	}
	m.Submissions.Inc()
}

func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveConfirmation(start time.Time) {
	if m == nil {
		return
	}
	m.ConfirmationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetWalletBalance(wei *big.Int) {
	if m == nil || wei == nil {
		return
	}
	f, _ := new(big.Float).SetInt(wei).Float64()
	m.WalletBalanceWei.Set(f)
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
