// Package metrics exposes ledger counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crossledger"

type Metrics struct {
	Deposits      prometheus.Counter
	Fills         *prometheus.CounterVec // kind: single|cross
	Settlements   *prometheus.CounterVec // result: settled|skipped
	Cancellations *prometheus.CounterVec // path: local|dest|message|emergency
	MessagesSent  *prometheus.CounterVec // kind: settlement|cancel
	Rejections    *prometheus.CounterVec // class: retry_later|never_valid|consumed|internal
	Withdrawals   prometheus.Counter
	BatchSize     prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests rely on to build many ledgers.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Orders deposited on this ledger.",
		}),
		Fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Orders filled on this ledger.",
		}, []string{"kind"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement entries applied or skipped.",
		}, []string{"result"}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Orders cancelled, by path.",
		}, []string{"path"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound bus messages.",
		}, []string{"kind"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected operations by error class.",
		}, []string{"class"}),
		Withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Withdrawals of unlocked balance.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settle_batch_size",
			Help:      "Fills per outbound settlement message.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Deposits, m.Fills, m.Settlements, m.Cancellations,
			m.MessagesSent, m.Rejections, m.Withdrawals, m.BatchSize)
	}
	return m
}
