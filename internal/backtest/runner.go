// Package backtest evaluates strategies on historical candles using the
// same analysis and simulation code paths as live signal generation.
package backtest

import (
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalworks/signal-engine/internal/metrics"
	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/simulator"
	"github.com/signalworks/signal-engine/internal/spread"
	"github.com/signalworks/signal-engine/internal/strategy"
)

const barsPerDay = 24 // H1

// Runner slides an analysis window across H1 candle data, calls
// strategy.Analyze on each window and simulates the resulting signals
// against bars after the window to prevent look-ahead bias.
type Runner struct {
	spreads *spread.Model
}

// NewRunner creates a backtest runner
func NewRunner() *Runner {
	return &Runner{spreads: spread.New()}
}

// RunRolling runs a strategy on rolling windows and collects simulated
// trades. stepDays advances the window between iterations.
func (r *Runner) RunRolling(strat strategy.Strategy, bars []models.Bar, windowDays, stepDays int) ([]metrics.TradeResult, error) {
	windowBars := windowDays * barsPerDay
	stepBars := stepDays * barsPerDay

	// Too little history is an empty result, not an error: walk-forward
	// validation runs this on a 20% slice that may not cover a full window.
	minRequired := windowBars + simulator.MaxBarsForward
	if len(bars) < minRequired {
		log.Printf("Backtest: insufficient candles for rolling backtest: have %d, need %d (window=%dd + %d bars forward)",
			len(bars), minRequired, windowDays, simulator.MaxBarsForward)
		return nil, nil
	}

	var trades []metrics.TradeResult
	for start := 0; start <= len(bars)-windowBars-simulator.MaxBarsForward; start += stepBars {
		end := start + windowBars
		window := bars[start:end]

		signals, err := strat.Analyze(window)
		if err != nil {
			if errors.Is(err, strategy.ErrInsufficientData) {
				continue
			}
			log.Printf("Backtest: strategy %s failed at window %d: %v", strat.Name(), start, err)
			continue
		}

		forward := bars[end:]
		for _, sig := range signals {
			trades = append(trades, r.simulate(sig, forward))
		}
	}
	return trades, nil
}

// simulate resolves one candidate signal against the bars that follow its
// analysis window
func (r *Runner) simulate(sig strategy.CandidateSignal, forward []models.Bar) metrics.TradeResult {
	sp := r.spreads.Spread(sig.Timestamp)
	trade := simulator.Trade{
		Direction:   sig.Direction,
		Entry:       sig.Entry,
		StopLoss:    sig.StopLoss,
		TakeProfit1: sig.TakeProfit1,
		TakeProfit2: sig.TakeProfit2,
		OpenedAt:    sig.Timestamp,
	}

	ev := simulator.EvaluateBars(trade, forward, sp)

	closedAt := sig.Timestamp
	if ev.BarsHeld > 0 && ev.BarsHeld <= len(forward) {
		closedAt = forward[ev.BarsHeld-1].Timestamp
	}

	return metrics.TradeResult{
		Result:   ev.Result,
		PnlPips:  simulator.PnlPips(trade, ev.ExitPrice, sp),
		ClosedAt: closedAt,
	}
}

// RunFull runs a rolling backtest and computes aggregate metrics
func (r *Runner) RunFull(strat strategy.Strategy, bars []models.Bar, windowDays, stepDays int) (metrics.Summary, []metrics.TradeResult, error) {
	trades, err := r.RunRolling(strat, bars, windowDays, stepDays)
	if err != nil {
		return metrics.Summary{}, nil, err
	}

	summary := metrics.Compute(trades)
	log.Printf("Backtest complete: strategy=%s window=%dd trades=%d win_rate=%.4f profit_factor=%.4f",
		strat.Name(), windowDays, summary.TotalTrades, summary.WinRate, summary.ProfitFactor)
	return summary, trades, nil
}

// BuildResult converts a backtest summary into its persistence row
func BuildResult(strat strategy.Strategy, windowDays int, bars []models.Bar, summary metrics.Summary) *models.BacktestResult {
	var start, end time.Time
	if len(bars) > 0 {
		start = bars[0].Timestamp
		end = bars[len(bars)-1].Timestamp
	}

	return &models.BacktestResult{
		Strategy:     strat.Name(),
		Timeframe:    strat.Timeframe(),
		WindowDays:   windowDays,
		StartDate:    start,
		EndDate:      end,
		WinRate:      decimal.NewFromFloat(summary.WinRate).Round(4),
		ProfitFactor: decimal.NewFromFloat(summary.ProfitFactor).Round(4),
		SharpeRatio:  decimal.NewFromFloat(summary.SharpeRatio).Round(4),
		MaxDrawdown:  decimal.NewFromFloat(summary.MaxDrawdown).Round(2),
		Expectancy:   decimal.NewFromFloat(summary.Expectancy).Round(4),
		TotalTrades:  summary.TotalTrades,
		CreatedAt:    time.Now().UTC(),
	}
}
