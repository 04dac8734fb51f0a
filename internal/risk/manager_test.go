package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/signal-engine/internal/config"
	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/strategy"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

var testMetrics = telemetry.NewMetrics("risk_test")

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockStore struct {
	mu          sync.Mutex
	dailyPnl    decimal.Decimal
	activeCount int
	pnlSeries   []decimal.Decimal
}

func (m *mockStore) SumPnlPipsSince(_ time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnl, nil
}

func (m *mockStore) CountActiveSignals() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCount, nil
}

func (m *mockStore) GetOutcomePnlSeries() ([]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pnlSeries, nil
}

type mockBreaker struct {
	active bool
}

func (m *mockBreaker) Active() bool { return m.active }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testCfg() config.TradingConfig {
	return config.TradingConfig{
		Symbol:            "XAUUSD",
		PipValue:          0.10,
		AccountBalance:    10000,
		RiskPerTradePct:   1.0,
		DailyLossLimitPct: 2.0,
		MaxConcurrent:     2,
	}
}

func candidate() strategy.CandidateSignal {
	return strategy.CandidateSignal{
		Strategy:  "trend_continuation",
		Symbol:    "XAUUSD",
		Direction: models.DirectionBuy,
		Entry:     2650.00,
		StopLoss:  2645.00,
	}
}

// ---------------------------------------------------------------------------
// Check pipeline
// ---------------------------------------------------------------------------

func TestCheck_ApprovesWithinLimits(t *testing.T) {
	m := New(&mockStore{}, &mockBreaker{}, testMetrics, testCfg())

	results, err := m.Check([]strategy.CandidateSignal{candidate()}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Approved)
	assert.InDelta(t, 100.0, results[0].RiskAmount, 1e-9) // 1% of 10k
	// $100 risk over a 5.00 SL distance at neutral volatility.
	assert.Equal(t, "20", results[0].PositionSize.String())
}

func TestCheck_CircuitBreakerRejectsEverything(t *testing.T) {
	m := New(&mockStore{}, &mockBreaker{active: true}, testMetrics, testCfg())

	results, err := m.Check([]strategy.CandidateSignal{candidate(), candidate()}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Approved)
		assert.Contains(t, r.RejectionReason, "circuit breaker")
	}
}

func TestCheck_DailyLossLimitRejectsEverything(t *testing.T) {
	// -2000 pips * $0.10 = -$200 = -2% of the account, at the limit.
	store := &mockStore{dailyPnl: decimal.NewFromInt(-2000)}
	m := New(store, &mockBreaker{}, testMetrics, testCfg())

	results, err := m.Check([]strategy.CandidateSignal{candidate()}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Approved)
	assert.Contains(t, results[0].RejectionReason, "daily loss limit")
	assert.InDelta(t, -2000, results[0].DailyPnlPips, 1e-9)
}

func TestCheck_SmallLossDoesNotTripLimit(t *testing.T) {
	store := &mockStore{dailyPnl: decimal.NewFromInt(-500)} // -0.5%
	m := New(store, &mockBreaker{}, testMetrics, testCfg())

	results, err := m.Check([]strategy.CandidateSignal{candidate()}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Approved)
}

func TestCheck_ConcurrentLimit(t *testing.T) {
	store := &mockStore{activeCount: 2}
	m := New(store, &mockBreaker{}, testMetrics, testCfg())

	results, err := m.Check([]strategy.CandidateSignal{candidate()}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Approved)
	assert.Contains(t, results[0].RejectionReason, "concurrent signal limit")
}

func TestCheck_NilBreaker(t *testing.T) {
	m := New(&mockStore{}, nil, testMetrics, testCfg())

	results, err := m.Check([]strategy.CandidateSignal{candidate()}, 1.0, 1.0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Approved)
}

// ---------------------------------------------------------------------------
// Position sizing
// ---------------------------------------------------------------------------

func TestPositionSize_VolatilityAdjustment(t *testing.T) {
	m := New(&mockStore{}, nil, testMetrics, testCfg())

	// Neutral volatility: 100 / 5 = 20.
	assert.Equal(t, "20", m.PositionSize(5, 1.0, 1.0).String())

	// High volatility halves the size, clamped at the 0.5 floor.
	assert.Equal(t, "10", m.PositionSize(5, 4.0, 1.0).String())

	// Low volatility scales up, clamped at the 1.5 cap.
	assert.Equal(t, "30", m.PositionSize(5, 0.25, 1.0).String())
}

func TestPositionSize_InvalidInputs(t *testing.T) {
	m := New(&mockStore{}, nil, testMetrics, testCfg())

	assert.Equal(t, "0.01", m.PositionSize(0, 1.0, 1.0).String())
	assert.Equal(t, "0.01", m.PositionSize(5, 0, 1.0).String())
	assert.Equal(t, "0.01", m.PositionSize(5, 1.0, -1).String())
}

// ---------------------------------------------------------------------------
// Drawdown
// ---------------------------------------------------------------------------

func TestDrawdown(t *testing.T) {
	store := &mockStore{pnlSeries: []decimal.Decimal{
		decimal.NewFromInt(50),
		decimal.NewFromInt(30),
		decimal.NewFromInt(-60),
		decimal.NewFromInt(-30),
		decimal.NewFromInt(40),
	}}
	m := New(store, nil, testMetrics, testCfg())

	dd, err := m.Drawdown()
	require.NoError(t, err)

	assert.InDelta(t, 80, dd.PeakPnl, 1e-9)
	assert.InDelta(t, 30, dd.RunningPnl, 1e-9)
	assert.InDelta(t, 90, dd.MaxDrawdown, 1e-9)     // 80 -> -10
	assert.InDelta(t, 50, dd.RunningDrawdown, 1e-9) // 80 -> 30
}

func TestDrawdown_NoOutcomes(t *testing.T) {
	m := New(&mockStore{}, nil, testMetrics, testCfg())

	dd, err := m.Drawdown()
	require.NoError(t, err)
	assert.Zero(t, dd.MaxDrawdown)
	assert.Zero(t, dd.RunningDrawdown)
}
