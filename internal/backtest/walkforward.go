package backtest

import (
	"log"
	"math"

	"github.com/signalworks/signal-engine/internal/metrics"
	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/strategy"
)

const (
	// DegradationThreshold is the minimum acceptable OOS/IS metric ratio.
	DegradationThreshold = 0.5

	// MinOOSTrades is the minimum out-of-sample trade count for a reliable
	// comparison; below it overfitting detection is skipped.
	MinOOSTrades = 5
)

// fullBacktester runs a complete backtest; satisfied by *Runner.
type fullBacktester interface {
	RunFull(strat strategy.Strategy, bars []models.Bar, windowDays, stepDays int) (metrics.Summary, []metrics.TradeResult, error)
}

// WalkForwardResult compares in-sample and out-of-sample performance.
// Efficiency is the worse of the win-rate and profit-factor OOS/IS ratios
// (NaN when skipped).
type WalkForwardResult struct {
	InSample     metrics.Summary
	OutOfSample  metrics.Summary
	IsOverfitted bool
	Efficiency   float64
	Skipped      bool
}

// WalkForwardValidator detects overfitting by splitting candle history
// 80/20 chronologically and backtesting each part independently.
type WalkForwardValidator struct {
	runner fullBacktester
}

// NewWalkForwardValidator creates a validator backed by the given runner
func NewWalkForwardValidator(runner fullBacktester) *WalkForwardValidator {
	return &WalkForwardValidator{runner: runner}
}

// Validate splits the bars 80/20, backtests both periods and flags the
// strategy as overfitted when either the win-rate or profit-factor ratio
// between out-of-sample and in-sample drops below the threshold.
func (v *WalkForwardValidator) Validate(strat strategy.Strategy, bars []models.Bar, windowDays int) (WalkForwardResult, error) {
	split := len(bars) * 8 / 10
	isBars := bars[:split]
	oosBars := bars[split:]

	log.Printf("Walk-forward split: strategy=%s IS=%d bars OOS=%d bars window=%dd",
		strat.Name(), len(isBars), len(oosBars), windowDays)

	isSummary, _, err := v.runner.RunFull(strat, isBars, windowDays, 1)
	if err != nil {
		return WalkForwardResult{}, err
	}
	oosSummary, _, err := v.runner.RunFull(strat, oosBars, windowDays, 1)
	if err != nil {
		return WalkForwardResult{}, err
	}

	result := WalkForwardResult{
		InSample:    isSummary,
		OutOfSample: oosSummary,
		Efficiency:  math.NaN(),
	}

	if oosSummary.TotalTrades < MinOOSTrades {
		log.Printf("Walk-forward: insufficient OOS trades (%d < %d) for %s, skipping overfitting detection",
			oosSummary.TotalTrades, MinOOSTrades, strat.Name())
		result.Skipped = true
		return result, nil
	}

	efficiency := math.NaN()
	if isSummary.WinRate > 0 {
		efficiency = oosSummary.WinRate / isSummary.WinRate
	}
	if isSummary.ProfitFactor > 0 {
		pfRatio := oosSummary.ProfitFactor / isSummary.ProfitFactor
		if math.IsNaN(efficiency) || pfRatio < efficiency {
			efficiency = pfRatio
		}
	}

	result.Efficiency = efficiency
	if !math.IsNaN(efficiency) && efficiency < DegradationThreshold {
		result.IsOverfitted = true
		log.Printf("Walk-forward: strategy %s shows overfitting (efficiency %.3f < %.2f)",
			strat.Name(), efficiency, DegradationThreshold)
	}
	return result, nil
}
