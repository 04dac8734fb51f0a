// Package metrics aggregates trade results into performance statistics.
package metrics

import (
	"math"
	"time"

	"github.com/signalworks/signal-engine/internal/models"
)

const (
	// MaxProfitFactor caps the profit factor so a zero-loss run stays
	// representable in Numeric(10,4).
	MaxProfitFactor = 9999.9999

	// TradingDaysPerYear annualizes the Sharpe ratio.
	TradingDaysPerYear = 252
)

// TradeResult is one closed trade as seen by the calculator.
type TradeResult struct {
	Result   models.SignalStatus
	PnlPips  float64
	ClosedAt time.Time
}

// Summary holds the aggregate statistics for a trade sequence. Every field
// is computable from an empty or single-trade sequence: degenerate cases
// yield zero (or the profit-factor cap), never an error.
type Summary struct {
	WinRate      float64
	ProfitFactor float64
	SharpeRatio  float64
	MaxDrawdown  float64
	Expectancy   float64
	TotalTrades  int
}

// Compute calculates all metrics from a sequence of trade results.
func Compute(trades []TradeResult) Summary {
	if len(trades) == 0 {
		return Summary{}
	}

	total := len(trades)
	wins := 0
	grossProfit := 0.0
	grossLoss := 0.0
	sum := 0.0
	pnl := make([]float64, 0, total)

	for _, t := range trades {
		if t.Result.IsWin() {
			wins++
		}
		p := t.PnlPips
		pnl = append(pnl, p)
		sum += p
		if p > 0 {
			grossProfit += p
		} else if p < 0 {
			grossLoss += -p
		}
	}

	var profitFactor float64
	switch {
	case grossLoss == 0 && grossProfit > 0:
		profitFactor = MaxProfitFactor
	case grossLoss == 0:
		profitFactor = 0
	default:
		profitFactor = math.Min(grossProfit/grossLoss, MaxProfitFactor)
	}

	return Summary{
		WinRate:      float64(wins) / float64(total),
		ProfitFactor: profitFactor,
		SharpeRatio:  sharpe(pnl),
		MaxDrawdown:  MaxDrawdown(pnl),
		Expectancy:   sum / float64(total),
		TotalTrades:  total,
	}
}

// sharpe returns the annualized Sharpe ratio: (mean / stddev) * sqrt(252).
// Fewer than two trades, or zero deviation, yields 0.
func sharpe(pnl []float64) float64 {
	n := len(pnl)
	if n < 2 {
		return 0
	}

	mean := 0.0
	for _, p := range pnl {
		mean += p
	}
	mean /= float64(n)

	variance := 0.0
	for _, p := range pnl {
		d := p - mean
		variance += d * d
	}
	variance /= float64(n - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return (mean / std) * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline of the cumulative
// P&L curve, as a positive value in pips.
func MaxDrawdown(pnl []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	maxDD := 0.0
	for _, p := range pnl {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
