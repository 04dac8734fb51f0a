// Package selector ranks registered strategies by a weighted composite of
// their backtest metrics, adjusted for the current volatility regime and
// blended with live performance once enough live signals exist.
package selector

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/signalworks/signal-engine/internal/config"
	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/strategy"
)

// Regime classifies market volatility by ATR percentile.
type Regime string

const (
	RegimeLow    Regime = "low"
	RegimeMedium Regime = "medium"
	RegimeHigh   Regime = "high"
)

// Composite score weights. They sum to 1.0; max drawdown is inverted so
// that lower drawdown scores higher.
const (
	weightWinRate      = 0.30
	weightProfitFactor = 0.25
	weightSharpe       = 0.15
	weightExpectancy   = 0.15
	weightMaxDrawdown  = 0.15
)

const (
	// regimeModifier is the multiplicative penalty applied to a strategy
	// that is poorly suited to the detected regime.
	regimeModifier = 0.90

	regimeCandles    = 720 // ~30 days of H1
	regimeATRLength  = 14
	regimeMinCandles = 30
	lowPercentile    = 25.0
	highPercentile   = 75.0

	// Live blending: once a strategy has minLiveSignals resolved signals
	// over the 30d period, its score becomes 70% backtest, 30% live.
	liveBlendWeight = 0.30
	minLiveSignals  = 5
	livePeriod      = "30d"

	liveWeightWinRate      = 0.40
	liveWeightProfitFactor = 0.35
	liveWeightAvgRR        = 0.25
	livePFCap              = 3.0
	liveRRCap              = 5.0

	// winRateDropThreshold is the absolute win-rate drop versus the oldest
	// baseline backtest that flags a strategy as degraded.
	winRateDropThreshold = 0.15

	// degradationPenalty halves the composite of a degraded strategy on top
	// of ranking it behind every healthy one.
	degradationPenalty = 0.5

	confluenceCandles = 200
)

// Store is the persistence surface the selector needs, satisfied by
// *database.DB.
type Store interface {
	GetLatestBacktest(strategy, timeframe string, windowDays int) (*models.BacktestResult, error)
	GetOldestBacktest(strategy, timeframe string) (*models.BacktestResult, error)
	GetStrategyPerformance(strategy, period string) (*models.StrategyPerformance, error)
	GetRecentCandles(symbol, timeframe string, limit int) ([]*models.Candle, error)
}

// Score is the ranking result for one strategy.
type Score struct {
	Strategy          string  `json:"strategy"`
	Composite         float64 `json:"composite_score"`
	WinRate           float64 `json:"win_rate"`
	ProfitFactor      float64 `json:"profit_factor"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	Expectancy        float64 `json:"expectancy"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	TotalTrades       int     `json:"total_trades"`
	Regime            Regime  `json:"regime"`
	IsDegraded        bool    `json:"is_degraded"`
	DegradationReason string  `json:"degradation_reason,omitempty"`
}

// Selector ranks strategies and picks the best candidate for signal
// generation.
type Selector struct {
	store     Store
	symbol    string
	minTrades int
}

// New creates a selector backed by the given store
func New(store Store, cfg config.TradingConfig) *Selector {
	return &Selector{
		store:     store,
		symbol:    cfg.Symbol,
		minTrades: cfg.MinBacktestTrades,
	}
}

// SelectBest returns the highest-ranked strategy, or nil when no strategy
// qualifies.
func (s *Selector) SelectBest() (*Score, error) {
	ranked, err := s.RankAll()
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return ranked[0], nil
}

// RankAll scores every registered strategy that has a qualifying backtest.
// Non-degraded strategies rank ahead of degraded ones regardless of score.
func (s *Selector) RankAll() ([]*Score, error) {
	var results []*models.BacktestResult
	for _, strat := range strategy.All() {
		bt, err := s.latestBacktest(strat)
		if err != nil {
			return nil, err
		}
		if bt == nil {
			log.Printf("Selector: no backtest results for strategy %s, skipping", strat.Name())
			continue
		}
		if bt.TotalTrades < s.minTrades {
			log.Printf("Selector: strategy %s excluded, only %d trades (min %d)",
				strat.Name(), bt.TotalTrades, s.minTrades)
			continue
		}
		results = append(results, bt)
	}

	if len(results) == 0 {
		log.Printf("Selector: no qualifying backtest results, skipping selection")
		return nil, nil
	}

	scores := computeScores(results)

	regime, err := s.DetectRegime()
	if err != nil {
		return nil, err
	}
	log.Printf("Selector: current volatility regime is %s", regime)

	for _, sc := range scores {
		sc.Regime = regime
	}
	applyRegimeModifier(scores, regime)

	if err := s.blendLivePerformance(scores); err != nil {
		return nil, err
	}

	for i, sc := range scores {
		degraded, reason, err := s.checkDegradation(results[i])
		if err != nil {
			return nil, err
		}
		sc.IsDegraded = degraded
		sc.DegradationReason = reason
		if degraded {
			sc.Composite *= degradationPenalty
			log.Printf("Selector: strategy %s is degraded: %s", sc.Strategy, reason)
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].IsDegraded != scores[j].IsDegraded {
			return !scores[i].IsDegraded
		}
		return scores[i].Composite > scores[j].Composite
	})
	return scores, nil
}

// latestBacktest fetches the most recent non-walk-forward result,
// preferring the 60-day window, then 30 days, then any window.
func (s *Selector) latestBacktest(strat strategy.Strategy) (*models.BacktestResult, error) {
	for _, window := range []int{60, 30, 0} {
		bt, err := s.store.GetLatestBacktest(strat.Name(), strat.Timeframe(), window)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return bt, nil
	}
	return nil, nil
}

// computeScores min-max normalizes each metric across the candidates and
// combines them with the composite weights. With a single candidate every
// normalized value defaults to 0.5.
func computeScores(results []*models.BacktestResult) []*Score {
	n := len(results)

	raw := map[string][]float64{
		"win_rate":      make([]float64, n),
		"profit_factor": make([]float64, n),
		"sharpe_ratio":  make([]float64, n),
		"expectancy":    make([]float64, n),
		"max_drawdown":  make([]float64, n),
	}
	for i, r := range results {
		raw["win_rate"][i] = r.WinRate.InexactFloat64()
		raw["profit_factor"][i] = r.ProfitFactor.InexactFloat64()
		raw["sharpe_ratio"][i] = r.SharpeRatio.InexactFloat64()
		raw["expectancy"][i] = r.Expectancy.InexactFloat64()
		raw["max_drawdown"][i] = r.MaxDrawdown.InexactFloat64()
	}

	normalized := make(map[string][]float64, len(raw))
	for metric, values := range raw {
		normalized[metric] = normalize(values)
	}

	scores := make([]*Score, n)
	for i, r := range results {
		composite := weightWinRate*normalized["win_rate"][i] +
			weightProfitFactor*normalized["profit_factor"][i] +
			weightSharpe*normalized["sharpe_ratio"][i] +
			weightExpectancy*normalized["expectancy"][i] +
			weightMaxDrawdown*(1.0-normalized["max_drawdown"][i])

		scores[i] = &Score{
			Strategy:     r.Strategy,
			Composite:    composite,
			WinRate:      raw["win_rate"][i],
			ProfitFactor: raw["profit_factor"][i],
			SharpeRatio:  raw["sharpe_ratio"][i],
			Expectancy:   raw["expectancy"][i],
			MaxDrawdown:  raw["max_drawdown"][i],
			TotalTrades:  r.TotalTrades,
			Regime:       RegimeMedium,
		}
	}
	return scores
}

// normalize maps values to [0, 1] via min-max scaling. Degenerate inputs
// (one value, or zero range) map everything to 0.5.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 1 {
		out[0] = 0.5
		return out
	}

	mn, mx := values[0], values[0]
	for _, v := range values[1:] {
		mn = math.Min(mn, v)
		mx = math.Max(mx, v)
	}
	rng := mx - mn
	for i, v := range values {
		if rng == 0 {
			out[i] = 0.5
		} else {
			out[i] = (v - mn) / rng
		}
	}
	return out
}

// DetectRegime classifies current volatility by ranking the latest ATR(14)
// value against the last ~30 days of H1 ATR values. Falls back to MEDIUM
// when there is too little history.
func (s *Selector) DetectRegime() (Regime, error) {
	candles, err := s.store.GetRecentCandles(s.symbol, "H1", regimeCandles)
	if err != nil {
		return RegimeMedium, fmt.Errorf("failed to load candles for regime detection: %w", err)
	}
	if len(candles) < regimeMinCandles {
		log.Printf("Selector: insufficient H1 candles for regime detection (%d/%d), defaulting to medium",
			len(candles), regimeCandles)
		return RegimeMedium, nil
	}

	bars := models.CandlesToBars(candles)
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
	}

	atr := strategy.ATR(highs, lows, closes, regimeATRLength)
	var valid []float64
	for _, v := range atr {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) < 2 {
		return RegimeMedium, nil
	}

	current := valid[len(valid)-1]
	below := 0
	for _, v := range valid {
		if v < current {
			below++
		}
	}
	percentile := float64(below) / float64(len(valid)) * 100

	switch {
	case percentile <= lowPercentile:
		return RegimeLow, nil
	case percentile >= highPercentile:
		return RegimeHigh, nil
	default:
		return RegimeMedium, nil
	}
}

// applyRegimeModifier penalizes strategies poorly suited to the regime.
// Breakout entries suffer in already-extended high volatility; trend
// continuation stalls when volatility dries up.
func applyRegimeModifier(scores []*Score, regime Regime) {
	for _, sc := range scores {
		penalize := (regime == RegimeHigh && sc.Strategy == "breakout_expansion") ||
			(regime == RegimeLow && sc.Strategy == "trend_continuation")
		if penalize {
			original := sc.Composite
			sc.Composite *= regimeModifier
			log.Printf("Selector: regime modifier for %s: %.4f -> %.4f (%s volatility)",
				sc.Strategy, original, sc.Composite, regime)
		}
	}
}

// blendLivePerformance mixes each strategy's 30d live score into its
// composite once enough live signals have resolved.
func (s *Selector) blendLivePerformance(scores []*Score) error {
	for _, sc := range scores {
		perf, err := s.store.GetStrategyPerformance(sc.Strategy, livePeriod)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if perf.TotalSignals < minLiveSignals {
			continue
		}

		live := scoreLiveMetrics(perf)
		original := sc.Composite
		sc.Composite = (1.0-liveBlendWeight)*sc.Composite + liveBlendWeight*live
		log.Printf("Selector: live blend for %s: %.4f -> %.4f (live=%.4f, n=%d)",
			sc.Strategy, original, sc.Composite, live, perf.TotalSignals)
	}
	return nil
}

// scoreLiveMetrics reduces a live performance row to a 0-1 score. Profit
// factor and average R:R are capped before normalization so one outlier
// cannot dominate.
func scoreLiveMetrics(perf *models.StrategyPerformance) float64 {
	wr := perf.WinRate.InexactFloat64()
	pf := math.Min(perf.ProfitFactor.InexactFloat64(), livePFCap) / livePFCap
	rr := math.Min(perf.AvgRR.InexactFloat64(), liveRRCap) / liveRRCap

	return liveWeightWinRate*wr + liveWeightProfitFactor*pf + liveWeightAvgRR*rr
}

// checkDegradation compares the current backtest against the oldest
// baseline. A strategy is degraded when its profit factor falls below 1.0
// or its win rate drops by more than the threshold.
func (s *Selector) checkDegradation(current *models.BacktestResult) (bool, string, error) {
	var reasons []string

	currentPF := current.ProfitFactor.InexactFloat64()
	currentWR := current.WinRate.InexactFloat64()

	if currentPF < 1.0 {
		reasons = append(reasons, fmt.Sprintf("profit factor %.4f below 1.0", currentPF))
	}

	baseline, err := s.store.GetOldestBacktest(current.Strategy, current.Timeframe)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, "", err
	}
	if baseline != nil && baseline.ID != current.ID {
		drop := baseline.WinRate.InexactFloat64() - currentWR
		if drop > winRateDropThreshold {
			reasons = append(reasons, fmt.Sprintf("win rate dropped %.4f (from %.4f to %.4f)",
				drop, baseline.WinRate.InexactFloat64(), currentWR))
		}
	}

	if len(reasons) > 0 {
		return true, strings.Join(reasons, "; "), nil
	}
	return false, "", nil
}

// CheckH4Confluence reports whether the H4 EMA trend agrees with the
// proposed direction: EMA-50 above EMA-200 for BUY, below for SELL.
// Returns false on insufficient data.
func (s *Selector) CheckH4Confluence(direction models.Direction) (bool, error) {
	candles, err := s.store.GetRecentCandles(s.symbol, "H4", confluenceCandles)
	if err != nil {
		return false, fmt.Errorf("failed to load H4 candles for confluence check: %w", err)
	}
	if len(candles) < confluenceCandles {
		log.Printf("Selector: H4 confluence check has insufficient candles (%d/%d)",
			len(candles), confluenceCandles)
		return false, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}

	ema50 := strategy.EMA(closes, 50)
	ema200 := strategy.EMA(closes, 200)
	fast := ema50[len(ema50)-1]
	slow := ema200[len(ema200)-1]
	if math.IsNaN(fast) || math.IsNaN(slow) {
		return false, nil
	}

	switch direction {
	case models.DirectionBuy:
		return fast > slow, nil
	case models.DirectionSell:
		return fast < slow, nil
	default:
		return false, fmt.Errorf("invalid direction %q", direction)
	}
}
