package feedback

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/risk"
	"github.com/signalworks/signal-engine/internal/strategy"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

var testMetrics = telemetry.NewMetrics("feedback_test")

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type markCall struct {
	strategy string
	degraded bool
}

type mockStore struct {
	mu      sync.Mutex
	perf    map[string]*models.StrategyPerformance // strategy + "/" + period
	oldest  map[string]*models.BacktestResult
	results []models.SignalStatus
	marked  []markCall
}

func newMockStore() *mockStore {
	return &mockStore{
		perf:   make(map[string]*models.StrategyPerformance),
		oldest: make(map[string]*models.BacktestResult),
	}
}

func (m *mockStore) GetStrategyPerformance(strategy, period string) (*models.StrategyPerformance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perf[strategy+"/"+period]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
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

func (m *mockStore) MarkDegraded(strategy string, degraded bool, degradedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, markCall{strategy: strategy, degraded: degraded})
	for key, p := range m.perf {
		if p.Strategy == strategy {
			p.IsDegraded = degraded
			p.DegradedAt = degradedAt
			m.perf[key] = p
		}
	}
	return nil
}

func (m *mockStore) GetRecentOutcomeResults(_ int) ([]models.SignalStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results, nil
}

type mockDrawdown struct {
	dd risk.DrawdownMetrics
}

func (m *mockDrawdown) Drawdown() (risk.DrawdownMetrics, error) { return m.dd, nil }

type mockPublisher struct {
	mu          sync.Mutex
	breaker     []bool
	degradation []markCall
}

func (m *mockPublisher) PublishCircuitBreakerChanged(_ context.Context, tripped bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaker = append(m.breaker, tripped)
	return nil
}

func (m *mockPublisher) PublishDegradationChanged(_ context.Context, strategy string, degraded bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degradation = append(m.degradation, markCall{strategy: strategy, degraded: degraded})
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func losses(n int) []models.SignalStatus {
	out := make([]models.SignalStatus, n)
	for i := range out {
		out[i] = models.StatusSLHit
	}
	return out
}

func perf(strategyName, period string, winRate, profitFactor float64) *models.StrategyPerformance {
	return &models.StrategyPerformance{
		Strategy:     strategyName,
		Period:       period,
		WinRate:      decimal.NewFromFloat(winRate),
		ProfitFactor: decimal.NewFromFloat(profitFactor),
	}
}

func baseline(strategyName string, winRate float64) *models.BacktestResult {
	return &models.BacktestResult{
		Strategy: strategyName,
		WinRate:  decimal.NewFromFloat(winRate),
	}
}

func trendStrategy(t *testing.T) strategy.Strategy {
	t.Helper()
	strat, err := strategy.Get("trend_continuation")
	require.NoError(t, err)
	return strat
}

// ---------------------------------------------------------------------------
// Circuit breaker
// ---------------------------------------------------------------------------

func TestCircuitBreaker_TripsOnConsecutiveLosses(t *testing.T) {
	store := newMockStore()
	store.results = losses(5)
	publisher := &mockPublisher{}
	c := New(store, &mockDrawdown{}, publisher, testMetrics, 24*time.Hour)

	active, err := c.CheckCircuitBreaker(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
	assert.True(t, c.Active())
	require.Len(t, publisher.breaker, 1)
	assert.True(t, publisher.breaker[0])
}

func TestCircuitBreaker_WinBreaksStreak(t *testing.T) {
	store := newMockStore()
	store.results = append([]models.SignalStatus{
		models.StatusSLHit, models.StatusExpired, models.StatusTP1Hit,
	}, losses(5)...)
	c := New(store, &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	active, err := c.CheckCircuitBreaker(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCircuitBreaker_TripsOnExcessiveDrawdown(t *testing.T) {
	dd := &mockDrawdown{dd: risk.DrawdownMetrics{RunningDrawdown: 250, MaxDrawdown: 100}}
	c := New(newMockStore(), dd, nil, testMetrics, 24*time.Hour)

	active, err := c.CheckCircuitBreaker(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCircuitBreaker_NoBaselineDrawdownNeverTrips(t *testing.T) {
	dd := &mockDrawdown{dd: risk.DrawdownMetrics{RunningDrawdown: 500, MaxDrawdown: 0}}
	c := New(newMockStore(), dd, nil, testMetrics, 24*time.Hour)

	active, err := c.CheckCircuitBreaker(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCircuitBreaker_CooldownResets(t *testing.T) {
	c := New(newMockStore(), &mockDrawdown{}, nil, testMetrics, 24*time.Hour)
	c.tripped = true
	c.trippedAt = time.Now().UTC().Add(-25 * time.Hour)

	active, err := c.CheckCircuitBreaker(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
	assert.False(t, c.Active())
}

func TestCircuitBreaker_ClearedConditionsReset(t *testing.T) {
	c := New(newMockStore(), &mockDrawdown{}, nil, testMetrics, 24*time.Hour)
	c.tripped = true
	c.trippedAt = time.Now().UTC()

	active, err := c.CheckCircuitBreaker(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

// reentrantPublisher reads breaker state from inside the publish call, the
// way a slow or instrumented producer might. It only completes when the
// controller publishes without holding its state mutex.
type reentrantPublisher struct {
	controller *Controller
	observed   []bool
}

func (p *reentrantPublisher) PublishCircuitBreakerChanged(context.Context, bool, string) error {
	p.observed = append(p.observed, p.controller.Active())
	return nil
}

func (p *reentrantPublisher) PublishDegradationChanged(context.Context, string, bool, string) error {
	return nil
}

func TestCircuitBreaker_PublishesOutsideStateLock(t *testing.T) {
	store := newMockStore()
	store.results = losses(5)
	publisher := &reentrantPublisher{}
	c := New(store, &mockDrawdown{}, publisher, testMetrics, 24*time.Hour)
	publisher.controller = c

	active, err := c.CheckCircuitBreaker(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
	require.Len(t, publisher.observed, 1)
	assert.True(t, publisher.observed[0])
}

// ---------------------------------------------------------------------------
// Degradation
// ---------------------------------------------------------------------------

func TestCheckDegradation_LowProfitFactor(t *testing.T) {
	store := newMockStore()
	store.perf["trend_continuation/30d"] = perf("trend_continuation", "30d", 0.55, 0.8)
	publisher := &mockPublisher{}
	c := New(store, &mockDrawdown{}, publisher, testMetrics, 24*time.Hour)

	degraded, reason, err := c.CheckDegradation(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Contains(t, reason, "profit factor")

	require.Len(t, store.marked, 1)
	assert.True(t, store.marked[0].degraded)
	require.Len(t, publisher.degradation, 1)
}

func TestCheckDegradation_WinRateDrop(t *testing.T) {
	store := newMockStore()
	store.perf["trend_continuation/30d"] = perf("trend_continuation", "30d", 0.40, 1.5)
	store.oldest["trend_continuation"] = baseline("trend_continuation", 0.60)
	c := New(store, &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	degraded, reason, err := c.CheckDegradation(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Contains(t, reason, "win rate dropped")
}

func TestCheckDegradation_HealthyStrategy(t *testing.T) {
	store := newMockStore()
	store.perf["trend_continuation/30d"] = perf("trend_continuation", "30d", 0.58, 1.6)
	store.oldest["trend_continuation"] = baseline("trend_continuation", 0.60)
	c := New(store, &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	degraded, _, err := c.CheckDegradation(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Empty(t, store.marked)
}

func TestCheckDegradation_NoPerformanceRow(t *testing.T) {
	c := New(newMockStore(), &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	degraded, _, err := c.CheckDegradation(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.False(t, degraded)
}

func TestCheckDegradation_DoesNotClearExistingFlag(t *testing.T) {
	store := newMockStore()
	p := perf("trend_continuation", "30d", 0.58, 1.6)
	p.IsDegraded = true
	store.perf["trend_continuation/30d"] = p
	c := New(store, &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	degraded, _, err := c.CheckDegradation(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	// Still reported degraded; only CheckRecovery clears the flag.
	assert.True(t, degraded)
	assert.Empty(t, store.marked)
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

func degradedStore(degradedFor time.Duration, wr7, pf7 float64) *mockStore {
	store := newMockStore()
	p30 := perf("trend_continuation", "30d", 0.40, 0.9)
	p30.IsDegraded = true
	at := time.Now().UTC().Add(-degradedFor)
	p30.DegradedAt = &at
	store.perf["trend_continuation/30d"] = p30
	store.perf["trend_continuation/7d"] = perf("trend_continuation", "7d", wr7, pf7)
	store.oldest["trend_continuation"] = baseline("trend_continuation", 0.60)
	return store
}

func TestCheckRecovery_Recovers(t *testing.T) {
	store := degradedStore(8*24*time.Hour, 0.57, 1.2)
	publisher := &mockPublisher{}
	c := New(store, &mockDrawdown{}, publisher, testMetrics, 24*time.Hour)

	recovered, err := c.CheckRecovery(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.True(t, recovered)

	require.Len(t, store.marked, 1)
	assert.False(t, store.marked[0].degraded)
	require.Len(t, publisher.degradation, 1)
	assert.False(t, publisher.degradation[0].degraded)
}

func TestCheckRecovery_TooEarly(t *testing.T) {
	store := degradedStore(3*24*time.Hour, 0.57, 1.2)
	c := New(store, &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	recovered, err := c.CheckRecovery(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.False(t, recovered)
	assert.Empty(t, store.marked)
}

func TestCheckRecovery_WeakRecentPerformance(t *testing.T) {
	store := degradedStore(8*24*time.Hour, 0.45, 1.2) // wr below baseline - 0.05
	c := New(store, &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	recovered, err := c.CheckRecovery(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.False(t, recovered)

	store = degradedStore(8*24*time.Hour, 0.57, 0.9) // pf below 1.0
	c = New(store, &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	recovered, err = c.CheckRecovery(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.False(t, recovered)
}

func TestCheckRecovery_NotDegraded(t *testing.T) {
	store := newMockStore()
	store.perf["trend_continuation/30d"] = perf("trend_continuation", "30d", 0.55, 1.5)
	c := New(store, &mockDrawdown{}, nil, testMetrics, 24*time.Hour)

	recovered, err := c.CheckRecovery(context.Background(), trendStrategy(t))
	require.NoError(t, err)
	assert.False(t, recovered)
}
