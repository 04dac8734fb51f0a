// Package pipeline orchestrates one full signal generation pass and the
// daily backtest batch, wiring the selector, generator and risk manager
// into a sequential flow.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalworks/signal-engine/internal/backtest"
	"github.com/signalworks/signal-engine/internal/config"
	"github.com/signalworks/signal-engine/internal/metrics"
	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/risk"
	"github.com/signalworks/signal-engine/internal/selector"
	"github.com/signalworks/signal-engine/internal/simulator"
	"github.com/signalworks/signal-engine/internal/strategy"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

const (
	// ATR position-sizing inputs: current ATR(14) against the mean of the
	// last atrBaselineWindow values, from atrHistoryCandles H1 bars.
	atrLength         = 14
	atrBaselineWindow = 50
	atrHistoryCandles = 100

	// Backtest batch parameters. The candle limit is a year of H1 bars so
	// the 20% out-of-sample slice of the walk-forward split still covers a
	// full analysis window plus the forward simulation horizon.
	backtestCandles  = 365 * 24
	backtestStepDays = 1
	wfWindowDays     = 30
)

// backtestWindows are the standard rolling windows persisted per strategy.
var backtestWindows = []int{30, 60}

// Store is the persistence surface the pipeline needs, satisfied by
// *database.DB.
type Store interface {
	ExpireStaleSignals(now time.Time) (int, error)
	GetActiveSignals() ([]*models.Signal, error)
	GetRecentCandles(symbol, timeframe string, limit int) ([]*models.Candle, error)
	SaveBacktestResult(result *models.BacktestResult) error
}

// BestSelector picks the strategy to generate from, satisfied by
// *selector.Selector.
type BestSelector interface {
	SelectBest() (*selector.Score, error)
}

// Generator produces, filters and persists candidate signals, satisfied by
// *signalgen.Generator.
type Generator interface {
	Generate(strategyName string) ([]strategy.CandidateSignal, error)
	Validate(candidates []strategy.CandidateSignal) ([]strategy.CandidateSignal, error)
	Persist(ctx context.Context, candidate strategy.CandidateSignal) (*models.Signal, error)
}

// RiskChecker runs capital protection rules, satisfied by *risk.Manager.
type RiskChecker interface {
	Check(candidates []strategy.CandidateSignal, currentATR, baselineATR float64) ([]risk.CheckResult, error)
}

// Backtester runs a complete rolling backtest, satisfied by
// *backtest.Runner.
type Backtester interface {
	RunFull(strat strategy.Strategy, bars []models.Bar, windowDays, stepDays int) (metrics.Summary, []metrics.TradeResult, error)
}

// WalkForwardRunner detects overfitting, satisfied by
// *backtest.WalkForwardValidator.
type WalkForwardRunner interface {
	Validate(strat strategy.Strategy, bars []models.Bar, windowDays int) (backtest.WalkForwardResult, error)
}

// Pipeline runs the signal cycle (expire stale, select, generate, validate,
// risk check, persist) and the backtest batch.
type Pipeline struct {
	store     Store
	selector  BestSelector
	generator Generator
	risk      RiskChecker
	runner    Backtester
	validator WalkForwardRunner
	metrics   *telemetry.Metrics
	cfg       config.TradingConfig
}

// New creates a pipeline
func New(store Store, sel BestSelector, gen Generator, riskMgr RiskChecker,
	runner Backtester, validator WalkForwardRunner, m *telemetry.Metrics, cfg config.TradingConfig) *Pipeline {
	return &Pipeline{
		store:     store,
		selector:  sel,
		generator: gen,
		risk:      riskMgr,
		runner:    runner,
		validator: validator,
		metrics:   m,
		cfg:       cfg,
	}
}

// RunSignalCycle executes one full pass and returns the persisted signal,
// or nil when the cycle produced nothing. At most one signal is created per
// cycle: the highest-confidence validated candidate.
func (p *Pipeline) RunSignalCycle(ctx context.Context) (*models.Signal, error) {
	now := time.Now().UTC()

	expired, err := p.store.ExpireStaleSignals(now)
	if err != nil {
		log.Printf("Pipeline: failed to expire stale signals: %v", err)
	} else if expired > 0 {
		log.Printf("Pipeline: expired %d stale signal(s)", expired)
	}

	best, err := p.selector.SelectBest()
	if err != nil {
		return nil, fmt.Errorf("strategy selection failed: %w", err)
	}
	if best == nil {
		log.Printf("Pipeline: no strategy qualifies, skipping cycle")
		return nil, nil
	}
	log.Printf("Pipeline: selected strategy %s (composite=%.4f, regime=%s)",
		best.Strategy, best.Composite, best.Regime)

	candidates, err := p.generator.Generate(best.Strategy)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	validated, err := p.generator.Validate(candidates)
	if err != nil {
		return nil, err
	}
	if len(validated) == 0 {
		return nil, nil
	}

	// Keep only the highest-confidence candidate so one cycle can never
	// emit conflicting BUY and SELL signals.
	sort.SliceStable(validated, func(i, j int) bool {
		return validated[i].Confidence > validated[j].Confidence
	})
	picked := validated[0]

	blocked, err := p.blocksOppositeDirection(picked)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, nil
	}

	currentATR, baselineATR, err := p.computeATR()
	if err != nil {
		return nil, err
	}

	results, err := p.risk.Check([]strategy.CandidateSignal{picked}, currentATR, baselineATR)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || !results[0].Approved {
		reason := "no risk result"
		if len(results) > 0 {
			reason = results[0].RejectionReason
		}
		log.Printf("Pipeline: candidate rejected by risk check: %s", reason)
		return nil, nil
	}

	picked.Reasoning += fmt.Sprintf(" [Position size: %s]", results[0].PositionSize)
	return p.generator.Persist(ctx, picked)
}

// blocksOppositeDirection reports whether an active signal in the other
// direction already exists. Same-direction duplicates are handled by the
// generator's dedup filter.
func (p *Pipeline) blocksOppositeDirection(candidate strategy.CandidateSignal) (bool, error) {
	active, err := p.store.GetActiveSignals()
	if err != nil {
		return false, fmt.Errorf("failed to load active signals: %w", err)
	}
	for _, sig := range active {
		if sig.Direction != candidate.Direction {
			log.Printf("Pipeline: blocking %s signal, active %s signal %d already open",
				candidate.Direction, sig.Direction, sig.ID)
			return true, nil
		}
	}
	return false, nil
}

// computeATR derives the current ATR(14) and the mean of the last 50 ATR
// values from recent H1 candles. Insufficient history falls back to a
// neutral (1.0, 1.0) so position sizing degrades to the unadjusted formula.
func (p *Pipeline) computeATR() (float64, float64, error) {
	candles, err := p.store.GetRecentCandles(p.cfg.Symbol, "H1", atrHistoryCandles)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load candles for ATR: %w", err)
	}
	if len(candles) < atrLength+2 {
		log.Printf("Pipeline: insufficient candles for ATR (%d), using neutral sizing", len(candles))
		return 1.0, 1.0, nil
	}

	bars := models.CandlesToBars(candles)
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
	}

	atr := strategy.ATR(highs, lows, closes, atrLength)
	var valid []float64
	for _, v := range atr {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return 1.0, 1.0, nil
	}

	current := valid[len(valid)-1]

	window := valid
	if len(window) > atrBaselineWindow {
		window = window[len(window)-atrBaselineWindow:]
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	baseline := sum / float64(len(window))

	return current, baseline, nil
}

// RunBacktestCycle runs the standard rolling windows plus walk-forward
// validation for every registered strategy and persists the results. One
// strategy failing never aborts the batch. Returns how many result rows
// were saved.
func (p *Pipeline) RunBacktestCycle(ctx context.Context) (int, error) {
	candles, err := p.store.GetRecentCandles(p.cfg.Symbol, "H1", backtestCandles)
	if err != nil {
		return 0, fmt.Errorf("failed to load candles for backtest batch: %w", err)
	}

	minRequired := backtestWindows[0]*24 + simulator.MaxBarsForward
	if len(candles) < minRequired {
		log.Printf("Backtest batch: insufficient candles (have %d, need %d), skipping",
			len(candles), minRequired)
		return 0, nil
	}

	bars := models.CandlesToBars(candles)
	saved := 0

	for _, strat := range strategy.All() {
		if ctx.Err() != nil {
			return saved, ctx.Err()
		}
		saved += p.backtestStrategy(strat, bars)
	}

	log.Printf("Backtest batch complete: strategies=%d results=%d", len(strategy.All()), saved)
	return saved, nil
}

// backtestStrategy runs every window plus walk-forward for one strategy.
func (p *Pipeline) backtestStrategy(strat strategy.Strategy, bars []models.Bar) int {
	saved := 0

	for _, windowDays := range backtestWindows {
		start := time.Now()
		summary, _, err := p.runner.RunFull(strat, bars, windowDays, backtestStepDays)
		p.metrics.BacktestDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			log.Printf("Backtest batch: %s window=%dd failed: %v", strat.Name(), windowDays, err)
			p.metrics.BacktestRuns.WithLabelValues(strat.Name(), "error").Inc()
			continue
		}
		if summary.TotalTrades == 0 {
			log.Printf("Backtest batch: 0 trades for %s window=%dd, skipping persist",
				strat.Name(), windowDays)
			continue
		}

		result := backtest.BuildResult(strat, windowDays, bars, summary)
		if err := p.store.SaveBacktestResult(result); err != nil {
			log.Printf("Backtest batch: failed to save result for %s window=%dd: %v",
				strat.Name(), windowDays, err)
			p.metrics.BacktestRuns.WithLabelValues(strat.Name(), "error").Inc()
			continue
		}
		p.metrics.BacktestRuns.WithLabelValues(strat.Name(), "success").Inc()
		saved++
	}

	if n, err := p.walkForward(strat, bars); err != nil {
		log.Printf("Backtest batch: walk-forward failed for %s: %v", strat.Name(), err)
		p.metrics.BacktestRuns.WithLabelValues(strat.Name(), "error").Inc()
	} else {
		saved += n
	}
	return saved
}

// walkForward validates one strategy out-of-sample and persists the OOS
// metrics as a walk-forward result row.
func (p *Pipeline) walkForward(strat strategy.Strategy, bars []models.Bar) (int, error) {
	wf, err := p.validator.Validate(strat, bars, wfWindowDays)
	if err != nil {
		return 0, err
	}
	if wf.Skipped || wf.OutOfSample.TotalTrades == 0 {
		log.Printf("Backtest batch: walk-forward skipped for %s (OOS trades=%d)",
			strat.Name(), wf.OutOfSample.TotalTrades)
		return 0, nil
	}

	result := backtest.BuildResult(strat, wfWindowDays, bars, wf.OutOfSample)
	result.IsWalkForward = true
	result.IsOverfitted = wf.IsOverfitted
	if !math.IsNaN(wf.Efficiency) {
		result.WalkForwardEfficiency = decimal.NewFromFloat(wf.Efficiency).Round(4)
	}

	if err := p.store.SaveBacktestResult(result); err != nil {
		return 0, fmt.Errorf("failed to save walk-forward result: %w", err)
	}
	p.metrics.BacktestRuns.WithLabelValues(strat.Name(), "success").Inc()
	return 1, nil
}
