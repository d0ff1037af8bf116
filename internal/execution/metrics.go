package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// BatchesTotal tracks execute_atomically calls by terminal outcome.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomicexec_batches_total",
			Help: "Total number of atomic batches by outcome",
		},
		[]string{"outcome"}, // success, partial, preflight_rejected, rolled_back
	)

	// BatchDurationSeconds tracks end-to-end batch latency.
	BatchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atomicexec_batch_duration_seconds",
		Help:    "Duration of execute_atomically calls",
		Buckets: prometheus.DefBuckets,
	})

	// ImbalanceTokens tracks the residual normalized-token imbalance of
	// terminal batches.
	ImbalanceTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atomicexec_imbalance_tokens",
		Help:    "Residual normalized-token imbalance at batch termination",
		Buckets: []float64{0, 0.0001, 0.001, 0.01, 0.1, 1},
	})

	// HedgeAttemptsTotal tracks hedge attempts by pricing strategy and result.
	HedgeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomicexec_hedge_attempts_total",
			Help: "Total hedge attempts by pricing strategy and result",
		},
		[]string{"strategy", "result"}, // strategy: break_even|inside_spread|touch|market_fallback; result: filled|partial|failed
	)

	// HedgeMarketFallbackTotal tracks how often the hedge manager exhausted
	// its limit budget and fell back to a market order.
	HedgeMarketFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_hedge_market_fallback_total",
		Help: "Total hedge operations that fell back to a market order",
	})

	// RollbacksTotal tracks rollback invocations by operation kind.
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomicexec_rollbacks_total",
			Help: "Total rollback invocations by operation kind",
		},
		[]string{"kind"}, // open, close
	)

	// RollbackCostUSD tracks the realized cost of rollback closes.
	RollbackCostUSD = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atomicexec_rollback_cost_usd",
		Help:    "Realized cost of rollback closes in USD",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// RollbackAnomaliesTotal tracks residual positions surviving verification.
	RollbackAnomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_rollback_anomalies_total",
		Help: "Total rollback verification passes that found a residual position",
	})

	// AntiSpoofRejectionsTotal tracks anti-spoof rule activations.
	AntiSpoofRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_anti_spoof_rejections_total",
		Help: "Total REST fill reports rejected by the anti-spoof heuristic",
	})

	// SanityCapRejectionsTotal tracks fills rejected for exceeding the 1.10x cap.
	SanityCapRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_sanity_cap_rejections_total",
		Help: "Total fills rejected for exceeding the spec.Quantity*1.10 sanity cap",
	})

	// PreFlightRejectionsTotal tracks pre-flight stage failures.
	PreFlightRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atomicexec_preflight_rejections_total",
			Help: "Total pre-flight rejections by stage",
		},
		[]string{"stage"}, // leverage, balance, liquidity, min_notional
	)

	// WebsocketQueuedCallbacksTotal tracks callbacks buffered before a
	// WebsocketRouter registration.
	WebsocketQueuedCallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_websocket_queued_callbacks_total",
		Help: "Total websocket callbacks buffered before order registration",
	})
)
