package selector

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/signal-engine/internal/config"
	"github.com/signalworks/signal-engine/internal/models"
)

// ---------------------------------------------------------------------------
// Mock store
// ---------------------------------------------------------------------------

type mockStore struct {
	mu        sync.Mutex
	backtests map[string]map[int]*models.BacktestResult // strategy -> window
	oldest    map[string]*models.BacktestResult
	perf      map[string]*models.StrategyPerformance
	candles   map[string][]*models.Candle // timeframe -> candles
}

func newMockStore() *mockStore {
	return &mockStore{
		backtests: make(map[string]map[int]*models.BacktestResult),
		oldest:    make(map[string]*models.BacktestResult),
		perf:      make(map[string]*models.StrategyPerformance),
		candles:   make(map[string][]*models.Candle),
	}
}

func (m *mockStore) addBacktest(windowDays int, bt *models.BacktestResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backtests[bt.Strategy] == nil {
		m.backtests[bt.Strategy] = make(map[int]*models.BacktestResult)
	}
	m.backtests[bt.Strategy][windowDays] = bt
}

func (m *mockStore) GetLatestBacktest(strategy, _ string, windowDays int) (*models.BacktestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byWindow, ok := m.backtests[strategy]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if windowDays == 0 {
		for _, bt := range byWindow {
			return bt, nil
		}
		return nil, sql.ErrNoRows
	}
	bt, ok := byWindow[windowDays]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return bt, nil
}

func (m *mockStore) GetOldestBacktest(strategy, _ string) (*models.BacktestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bt, ok := m.oldest[strategy]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return bt, nil
}

func (m *mockStore) GetStrategyPerformance(strategy, period string) (*models.StrategyPerformance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perf[strategy]
	if !ok || p.Period != period {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (m *mockStore) GetRecentCandles(_, timeframe string, limit int) ([]*models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.candles[timeframe]
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func backtest(strategy string, winRate, profitFactor, sharpe, expectancy, drawdown float64, trades int) *models.BacktestResult {
	return &models.BacktestResult{
		ID:           1,
		Strategy:     strategy,
		Timeframe:    "H1",
		WinRate:      decimal.NewFromFloat(winRate),
		ProfitFactor: decimal.NewFromFloat(profitFactor),
		SharpeRatio:  decimal.NewFromFloat(sharpe),
		Expectancy:   decimal.NewFromFloat(expectancy),
		MaxDrawdown:  decimal.NewFromFloat(drawdown),
		TotalTrades:  trades,
	}
}

// rangeCandles appends n candles with the given high-low range so that the
// true range, and eventually the ATR, converges toward it.
func rangeCandles(candles []*models.Candle, timeframe string, n int, rng float64) []*models.Candle {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(candles)) * time.Hour)
	for i := 0; i < n; i++ {
		candles = append(candles, &models.Candle{
			Symbol:    "XAUUSD",
			Timeframe: timeframe,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(2650),
			High:      decimal.NewFromFloat(2650 + rng/2),
			Low:       decimal.NewFromFloat(2650 - rng/2),
			Close:     decimal.NewFromFloat(2650),
		})
	}
	return candles
}

func testSelector(store Store) *Selector {
	return New(store, config.TradingConfig{Symbol: "XAUUSD", MinBacktestTrades: 30})
}

// ---------------------------------------------------------------------------
// Ranking
// ---------------------------------------------------------------------------

func TestRankAll_OrdersByCompositeScore(t *testing.T) {
	store := newMockStore()
	store.addBacktest(60, backtest("breakout_expansion", 0.65, 2.0, 1.0, 5, 50, 40))
	store.addBacktest(60, backtest("trend_continuation", 0.45, 1.2, 0.5, 2, 100, 40))

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	assert.Equal(t, "breakout_expansion", ranked[0].Strategy)
	// Best on every metric and lowest drawdown: 0.30+0.25+0.15+0.15+0.15.
	assert.InDelta(t, 0.85, ranked[0].Composite, 1e-9)
	assert.InDelta(t, 0.15, ranked[1].Composite, 1e-9)
}

func TestRankAll_ExcludesLowTradeCounts(t *testing.T) {
	store := newMockStore()
	store.addBacktest(60, backtest("breakout_expansion", 0.65, 2.0, 1.0, 5, 50, 10))

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	assert.Empty(t, ranked)

	best, err := testSelector(store).SelectBest()
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestRankAll_FallsBackToShorterWindow(t *testing.T) {
	store := newMockStore()
	// Only a 30-day window exists; the 60-day lookup misses.
	store.addBacktest(30, backtest("liquidity_sweep", 0.55, 1.5, 0.8, 3, 60, 35))

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "liquidity_sweep", ranked[0].Strategy)
	// Single candidate: every metric normalizes to 0.5.
	assert.InDelta(t, 0.5, ranked[0].Composite, 1e-9)
}

func TestRankAll_DegradedStrategiesRankLast(t *testing.T) {
	store := newMockStore()
	// Breakout scores higher but its profit factor is below 1.0.
	store.addBacktest(60, backtest("breakout_expansion", 0.65, 0.8, 1.0, 5, 50, 40))
	store.addBacktest(60, backtest("trend_continuation", 0.45, 1.2, 0.5, 2, 100, 40))

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	require.Len(t, ranked, 2)

	assert.Equal(t, "trend_continuation", ranked[0].Strategy)
	assert.False(t, ranked[0].IsDegraded)
	assert.True(t, ranked[1].IsDegraded)
	assert.Contains(t, ranked[1].DegradationReason, "profit factor")
}

func TestRankAll_FlagsWinRateDropFromBaseline(t *testing.T) {
	store := newMockStore()
	current := backtest("trend_continuation", 0.40, 1.5, 0.5, 2, 100, 40)
	current.ID = 9
	store.addBacktest(60, current)

	baseline := backtest("trend_continuation", 0.60, 1.8, 0.7, 3, 80, 40)
	baseline.ID = 1
	store.oldest["trend_continuation"] = baseline

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.True(t, ranked[0].IsDegraded)
	assert.Contains(t, ranked[0].DegradationReason, "win rate dropped")
}

func TestRankAll_BaselineIsCurrentRowNotDegraded(t *testing.T) {
	store := newMockStore()
	current := backtest("trend_continuation", 0.40, 1.5, 0.5, 2, 100, 40)
	current.ID = 1
	store.addBacktest(60, current)
	store.oldest["trend_continuation"] = current

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.False(t, ranked[0].IsDegraded)
}

func TestRankAll_BlendsLivePerformance(t *testing.T) {
	store := newMockStore()
	store.addBacktest(60, backtest("liquidity_sweep", 0.55, 1.5, 0.8, 3, 60, 35))
	store.perf["liquidity_sweep"] = &models.StrategyPerformance{
		Strategy:     "liquidity_sweep",
		Period:       "30d",
		WinRate:      decimal.NewFromFloat(0.8),
		ProfitFactor: decimal.NewFromFloat(3.0),
		AvgRR:        decimal.NewFromFloat(2.5),
		TotalSignals: 10,
	}

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	require.Len(t, ranked, 1)

	// live = 0.40*0.8 + 0.35*1.0 + 0.25*0.5 = 0.795
	// blended = 0.7*0.5 + 0.3*0.795
	assert.InDelta(t, 0.5885, ranked[0].Composite, 1e-9)
}

func TestRankAll_SkipsLiveBlendBelowMinSignals(t *testing.T) {
	store := newMockStore()
	store.addBacktest(60, backtest("liquidity_sweep", 0.55, 1.5, 0.8, 3, 60, 35))
	store.perf["liquidity_sweep"] = &models.StrategyPerformance{
		Strategy:     "liquidity_sweep",
		Period:       "30d",
		WinRate:      decimal.NewFromFloat(0.9),
		TotalSignals: 3,
	}

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 0.5, ranked[0].Composite, 1e-9)
}

// ---------------------------------------------------------------------------
// Volatility regime
// ---------------------------------------------------------------------------

func TestDetectRegime_DefaultsToMediumWithoutHistory(t *testing.T) {
	regime, err := testSelector(newMockStore()).DetectRegime()
	require.NoError(t, err)
	assert.Equal(t, RegimeMedium, regime)
}

func TestDetectRegime_HighVolatility(t *testing.T) {
	store := newMockStore()
	candles := rangeCandles(nil, "H1", 80, 1.0)
	candles = rangeCandles(candles, "H1", 20, 3.0)
	store.candles["H1"] = candles

	regime, err := testSelector(store).DetectRegime()
	require.NoError(t, err)
	assert.Equal(t, RegimeHigh, regime)
}

func TestDetectRegime_LowVolatility(t *testing.T) {
	store := newMockStore()
	candles := rangeCandles(nil, "H1", 80, 1.0)
	candles = rangeCandles(candles, "H1", 20, 0.1)
	store.candles["H1"] = candles

	regime, err := testSelector(store).DetectRegime()
	require.NoError(t, err)
	assert.Equal(t, RegimeLow, regime)
}

func TestRankAll_HighVolatilityPenalizesBreakout(t *testing.T) {
	store := newMockStore()
	store.addBacktest(60, backtest("breakout_expansion", 0.55, 1.5, 0.8, 3, 60, 35))
	candles := rangeCandles(nil, "H1", 80, 1.0)
	store.candles["H1"] = rangeCandles(candles, "H1", 20, 3.0)

	ranked, err := testSelector(store).RankAll()
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, RegimeHigh, ranked[0].Regime)
	assert.InDelta(t, 0.45, ranked[0].Composite, 1e-9) // 0.5 * 0.90
}

// ---------------------------------------------------------------------------
// H4 confluence
// ---------------------------------------------------------------------------

func TestCheckH4Confluence(t *testing.T) {
	store := newMockStore()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		price := 2000.0 + float64(i)
		store.candles["H4"] = append(store.candles["H4"], &models.Candle{
			Symbol:    "XAUUSD",
			Timeframe: "H4",
			Timestamp: start.Add(time.Duration(i*4) * time.Hour),
			Open:      decimal.NewFromFloat(price),
			High:      decimal.NewFromFloat(price + 1),
			Low:       decimal.NewFromFloat(price - 1),
			Close:     decimal.NewFromFloat(price),
		})
	}

	sel := testSelector(store)

	agree, err := sel.CheckH4Confluence(models.DirectionBuy)
	require.NoError(t, err)
	assert.True(t, agree, "rising H4 trend should confirm BUY")

	agree, err = sel.CheckH4Confluence(models.DirectionSell)
	require.NoError(t, err)
	assert.False(t, agree)
}

func TestCheckH4Confluence_InsufficientData(t *testing.T) {
	store := newMockStore()
	store.candles["H4"] = rangeCandles(nil, "H4", 50, 1.0)

	agree, err := testSelector(store).CheckH4Confluence(models.DirectionBuy)
	require.NoError(t, err)
	assert.False(t, agree)
}
