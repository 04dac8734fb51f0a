// Package risk enforces capital protection rules and calculates
// volatility-adjusted position sizes before signals are persisted.
package risk

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalworks/signal-engine/internal/config"
	"github.com/signalworks/signal-engine/internal/strategy"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

const (
	// Position size multiplier bounds for the ATR volatility adjustment.
	atrFactorFloor = 0.5
	atrFactorCap   = 1.5
)

// minPositionSize is returned when position sizing inputs are invalid.
var minPositionSize = decimal.NewFromFloat(0.01)

// Store is the persistence surface the risk manager needs, satisfied by
// *database.DB.
type Store interface {
	SumPnlPipsSince(since time.Time) (decimal.Decimal, error)
	CountActiveSignals() (int, error)
	GetOutcomePnlSeries() ([]decimal.Decimal, error)
}

// CircuitBreaker reports whether the process-wide circuit breaker is open,
// satisfied by *feedback.Controller.
type CircuitBreaker interface {
	Active() bool
}

// CheckResult is the outcome of the risk checks for one candidate.
type CheckResult struct {
	Approved        bool
	RejectionReason string
	PositionSize    decimal.Decimal
	RiskAmount      float64
	DailyPnlPips    float64
}

// DrawdownMetrics summarizes cumulative P&L behavior across all recorded
// outcomes, in pips.
type DrawdownMetrics struct {
	RunningDrawdown float64
	MaxDrawdown     float64
	RunningPnl      float64
	PeakPnl         float64
}

// Manager runs the risk checks in a fixed order: circuit breaker, daily
// loss limit, concurrent signal cap, then position sizing.
type Manager struct {
	store   Store
	breaker CircuitBreaker
	metrics *telemetry.Metrics
	cfg     config.TradingConfig
}

// New creates a risk manager. breaker may be nil when no circuit breaker is
// wired (backtests).
func New(store Store, breaker CircuitBreaker, metrics *telemetry.Metrics, cfg config.TradingConfig) *Manager {
	return &Manager{
		store:   store,
		breaker: breaker,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Check runs every risk rule against the candidates and returns one result
// per candidate in input order. A tripped circuit breaker or breached daily
// loss limit rejects everything.
func (m *Manager) Check(candidates []strategy.CandidateSignal, currentATR, baselineATR float64) ([]CheckResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	if m.breaker != nil && m.breaker.Active() {
		log.Printf("Risk manager: circuit breaker active, rejecting all candidates")
		return rejectAll(candidates, "circuit breaker active: signal generation halted", 0), nil
	}

	breached, dailyPnl, err := m.checkDailyLoss()
	if err != nil {
		return nil, err
	}
	m.metrics.DailyPnlPips.Set(dailyPnl)
	if breached {
		log.Printf("Risk manager: daily loss limit breached (%.2f pips), rejecting all candidates", dailyPnl)
		reason := fmt.Sprintf("daily loss limit breached: %.2f pips", dailyPnl)
		return rejectAll(candidates, reason, dailyPnl), nil
	}

	results := make([]CheckResult, 0, len(candidates))
	for _, candidate := range candidates {
		active, err := m.store.CountActiveSignals()
		if err != nil {
			return nil, err
		}
		if active >= m.cfg.MaxConcurrent {
			log.Printf("Risk manager: concurrent signal limit reached (%d/%d), rejecting %s candidate",
				active, m.cfg.MaxConcurrent, candidate.Strategy)
			results = append(results, CheckResult{
				RejectionReason: fmt.Sprintf("concurrent signal limit: %d/%d active", active, m.cfg.MaxConcurrent),
				DailyPnlPips:    dailyPnl,
			})
			continue
		}

		slDistance := math.Abs(candidate.Entry - candidate.StopLoss)
		size := m.PositionSize(slDistance, currentATR, baselineATR)
		riskAmount := m.cfg.AccountBalance * m.cfg.RiskPerTradePct / 100

		log.Printf("Risk manager: approved %s %s @ %.2f (size=%s risk=$%.2f)",
			candidate.Strategy, candidate.Direction, candidate.Entry, size, riskAmount)
		results = append(results, CheckResult{
			Approved:     true,
			PositionSize: size,
			RiskAmount:   riskAmount,
			DailyPnlPips: dailyPnl,
		})
	}
	return results, nil
}

func rejectAll(candidates []strategy.CandidateSignal, reason string, dailyPnl float64) []CheckResult {
	results := make([]CheckResult, len(candidates))
	for i := range results {
		results[i] = CheckResult{RejectionReason: reason, DailyPnlPips: dailyPnl}
	}
	return results
}

// checkDailyLoss sums today's realized pips and reports whether the loss
// exceeds the configured percentage of the account.
func (m *Manager) checkDailyLoss() (bool, float64, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	sum, err := m.store.SumPnlPipsSince(midnight)
	if err != nil {
		return false, 0, err
	}

	dailyPnl := sum.InexactFloat64()
	if dailyPnl == 0 {
		return false, 0, nil
	}

	lossPct := dailyPnl * m.cfg.PipValue / m.cfg.AccountBalance
	breached := lossPct <= -m.cfg.DailyLossLimitPct/100
	return breached, dailyPnl, nil
}

// PositionSize calculates the volatility-adjusted position size:
// (risk amount / SL distance) scaled by baselineATR/currentATR clamped to
// [0.5, 1.5]. Invalid inputs yield the minimum size.
func (m *Manager) PositionSize(slDistance, currentATR, baselineATR float64) decimal.Decimal {
	if slDistance <= 0 || currentATR <= 0 || baselineATR <= 0 {
		log.Printf("Risk manager: invalid position sizing inputs (sl=%.4f atr=%.4f baseline=%.4f)",
			slDistance, currentATR, baselineATR)
		return minPositionSize
	}

	riskAmount := m.cfg.AccountBalance * m.cfg.RiskPerTradePct / 100

	factor := baselineATR / currentATR
	factor = math.Max(atrFactorFloor, math.Min(atrFactorCap, factor))

	raw := riskAmount / slDistance * factor
	return decimal.NewFromFloat(raw).Round(2)
}

// Drawdown replays all recorded outcomes chronologically and reports the
// running and maximum peak-to-trough drawdown in pips.
func (m *Manager) Drawdown() (DrawdownMetrics, error) {
	series, err := m.store.GetOutcomePnlSeries()
	if err != nil {
		return DrawdownMetrics{}, err
	}

	var dd DrawdownMetrics
	for _, pnl := range series {
		dd.RunningPnl += pnl.InexactFloat64()
		if dd.RunningPnl > dd.PeakPnl {
			dd.PeakPnl = dd.RunningPnl
		}
		if drop := dd.PeakPnl - dd.RunningPnl; drop > dd.MaxDrawdown {
			dd.MaxDrawdown = drop
		}
	}
	dd.RunningDrawdown = dd.PeakPnl - dd.RunningPnl
	return dd, nil
}
