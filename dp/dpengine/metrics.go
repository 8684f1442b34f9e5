package dpengine

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the engine's instrumentation,
// registered against a caller-supplied registry so that the inspector
// can serve it alongside process metrics.
type Metrics struct {
	BlocksApplied  *prometheus.CounterVec
	BlocksRejected *prometheus.CounterVec

	CurrentRound       prometheus.Gauge
	IrreversibleHeight prometheus.Gauge

	MinerReplacements prometheus.Counter
}

// NewMetrics creates and registers the engine metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rotor",
			Name:      "blocks_applied_total",
			Help:      "Blocks applied to consensus state, by behavior.",
		}, []string{"behavior"}),
		BlocksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rotor",
			Name:      "blocks_rejected_total",
			Help:      "Blocks rejected by validation, by validator.",
		}, []string{"validator"}),
		CurrentRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rotor",
			Name:      "current_round",
			Help:      "Round number of the stored round.",
		}),
		IrreversibleHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rotor",
			Name:      "irreversible_height",
			Help:      "Last irreversible block height.",
		}),
		MinerReplacements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rotor",
			Name:      "miner_replacements_total",
			Help:      "Miner slots handed to replacement candidates.",
		}),
	}

	reg.MustRegister(
		m.BlocksApplied,
		m.BlocksRejected,
		m.CurrentRound,
		m.IrreversibleHeight,
		m.MinerReplacements,
	)
	return m
}
