package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineBarsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_bars_total",
			Help: "Total number of bars processed by the pipeline",
		},
		[]string{"status"}, // "processed", "warming_up", "volume_guarded", "gap"
	)

	pipelineSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_signals_total",
			Help: "Total number of signals emitted, by rule",
		},
		[]string{"rule"},
	)

	pipelineBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_signals_blocked_total",
			Help: "Total number of signals blocked by context gates, by reason",
		},
		[]string{"reason"},
	)

	pipelineSetupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_setups_total",
			Help: "Total number of setup instances reaching a terminal state",
		},
		[]string{"setup", "state"},
	)

	pipelineIntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_intents_total",
			Help: "Total number of trade intents, by status and reject reason",
		},
		[]string{"status", "reason"},
	)

	pipelineBarLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_bar_latency_seconds",
			Help:    "Per-bar pipeline evaluation latency in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)
)
