// Package telemetry provides Prometheus metrics for monitoring the engine.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Signal lifecycle
	SignalsCreated  *prometheus.CounterVec
	SignalsRejected *prometheus.CounterVec
	OutcomesTotal   *prometheus.CounterVec
	ActiveSignals   prometheus.Gauge

	// Backtesting
	BacktestRuns     *prometheus.CounterVec
	BacktestDuration prometheus.Histogram

	// Risk and feedback
	CircuitBreakerTripped prometheus.Gauge
	DegradedStrategies    prometheus.Gauge
	DailyPnlPips          prometheus.Gauge

	// Market data
	PriceFetches    *prometheus.CounterVec
	CandlesIngested prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "signal_engine"
	}

	return &Metrics{
		SignalsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "created_total",
			Help:      "Total number of signals created by strategy",
		}, []string{"strategy"}),
		SignalsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "rejected_total",
			Help:      "Total number of candidate signals rejected by reason",
		}, []string{"reason"}),
		OutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "outcomes_total",
			Help:      "Total number of signal outcomes by result",
		}, []string{"result"}),
		ActiveSignals: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "active",
			Help:      "Number of signals currently awaiting an outcome",
		}),

		BacktestRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by strategy and status",
		}, []string{"strategy", "status"}),
		BacktestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		CircuitBreakerTripped: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "circuit_breaker_tripped",
			Help:      "1 when the circuit breaker is open, 0 otherwise",
		}),
		DegradedStrategies: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "degraded_strategies",
			Help:      "Number of strategies currently in degraded mode",
		}),
		DailyPnlPips: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_pnl_pips",
			Help:      "Realized P&L in pips since the start of the UTC day",
		}),

		PriceFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "price_fetches_total",
			Help:      "Total number of price fetches by source",
		}, []string{"source"}),
		CandlesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "candles_ingested_total",
			Help:      "Total number of candles ingested from Kafka",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
