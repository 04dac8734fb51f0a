package outcome

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

var testMetrics = telemetry.NewMetrics("outcome_test")

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockStore struct {
	mu        sync.Mutex
	active    []*models.Signal
	updates   map[int64]models.SignalStatus
	updateErr error
	outcomes  []*models.Outcome
}

func newMockStore(signals ...*models.Signal) *mockStore {
	return &mockStore{active: signals, updates: make(map[int64]models.SignalStatus)}
}

func (m *mockStore) GetActiveSignals() ([]*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, nil
}

func (m *mockStore) UpdateSignalStatus(id int64, status models.SignalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updates[id] = status
	return nil
}

func (m *mockStore) SaveOutcome(outcome *models.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome.ID = int64(len(m.outcomes) + 1)
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

type mockPrices struct {
	price float64
	err   error
}

func (m *mockPrices) CurrentPrice(_ context.Context, _ string) (float64, error) {
	return m.price, m.err
}

type mockPublisher struct {
	mu        sync.Mutex
	published []*models.Outcome
}

func (m *mockPublisher) PublishOutcomeRecorded(_ context.Context, outcome *models.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, outcome)
	return nil
}

type mockTracker struct {
	mu           sync.Mutex
	recalculated []string
}

func (m *mockTracker) Recalculate(strategy string) ([]*models.StrategyPerformance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recalculated = append(m.recalculated, strategy)
	return nil, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func buySignal(id int64) *models.Signal {
	return &models.Signal{
		ID:          id,
		Strategy:    "trend_continuation",
		Symbol:      "XAUUSD",
		Timeframe:   "H1",
		Direction:   models.DirectionBuy,
		EntryPrice:  decimal.NewFromFloat(2650.00),
		StopLoss:    decimal.NewFromFloat(2645.00),
		TakeProfit1: decimal.NewFromFloat(2660.00),
		TakeProfit2: decimal.NewFromFloat(2665.00),
		Status:      models.StatusActive,
		CreatedAt:   time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt:   time.Now().UTC().Add(6 * time.Hour),
	}
}

func newDetector(store *mockStore, prices *mockPrices, publisher *mockPublisher, tracker *mockTracker) *Detector {
	return New(store, prices, publisher, tracker, testMetrics, "XAUUSD")
}

// ---------------------------------------------------------------------------
// Cycle behavior
// ---------------------------------------------------------------------------

func TestRunCycle_ResolvesTakeProfit(t *testing.T) {
	store := newMockStore(buySignal(1))
	publisher := &mockPublisher{}
	tracker := &mockTracker{}
	d := newDetector(store, &mockPrices{price: 2666.00}, publisher, tracker)

	resolved, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	assert.Equal(t, models.StatusTP2Hit, store.updates[1])
	require.Len(t, store.outcomes, 1)

	outcome := store.outcomes[0]
	assert.Equal(t, models.StatusTP2Hit, outcome.Result)
	assert.Equal(t, "2665", outcome.ExitPrice.String())
	assert.Equal(t, "150", outcome.PnlPips.String()) // (2665 - 2650) / 0.10
	assert.InDelta(t, 120, outcome.DurationMinutes, 1)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, []string{"trend_continuation"}, tracker.recalculated)
}

func TestRunCycle_ResolvesStopLoss(t *testing.T) {
	store := newMockStore(buySignal(1))
	d := newDetector(store, &mockPrices{price: 2644.00}, nil, nil)

	resolved, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	assert.Equal(t, models.StatusSLHit, store.updates[1])
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, "2645", store.outcomes[0].ExitPrice.String())
	assert.Equal(t, "-50", store.outcomes[0].PnlPips.String())
}

func TestRunCycle_LeavesOpenSignalsAlone(t *testing.T) {
	store := newMockStore(buySignal(1))
	d := newDetector(store, &mockPrices{price: 2652.00}, nil, nil)

	resolved, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Empty(t, store.updates)
	assert.Empty(t, store.outcomes)
}

func TestRunCycle_ExpiresPastExpiry(t *testing.T) {
	sig := buySignal(1)
	sig.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	store := newMockStore(sig)
	d := newDetector(store, &mockPrices{price: 2652.00}, nil, nil)

	resolved, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	assert.Equal(t, models.StatusExpired, store.updates[1])
	require.Len(t, store.outcomes, 1)
	// Expiry exits at the latest available price.
	assert.Equal(t, "2652", store.outcomes[0].ExitPrice.String())
	assert.Equal(t, "20", store.outcomes[0].PnlPips.String())
}

func TestRunCycle_PriceFetchFailureSkipsCycle(t *testing.T) {
	store := newMockStore(buySignal(1))
	d := newDetector(store, &mockPrices{err: errors.New("feed down")}, nil, nil)

	_, err := d.RunCycle(context.Background())
	assert.Error(t, err)
	assert.Empty(t, store.updates)
	assert.Empty(t, store.outcomes)
}

func TestRunCycle_LostStatusRaceSkipsOutcome(t *testing.T) {
	store := newMockStore(buySignal(1))
	store.updateErr = errors.New("signal 1 is not active")
	d := newDetector(store, &mockPrices{price: 2666.00}, nil, nil)

	resolved, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Empty(t, store.outcomes)
}

func TestRunCycle_NoActiveSignals(t *testing.T) {
	d := newDetector(newMockStore(), &mockPrices{price: 2650}, nil, nil)

	resolved, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

func TestRunCycle_ShortSignal(t *testing.T) {
	sig := buySignal(1)
	sig.Direction = models.DirectionSell
	sig.EntryPrice = decimal.NewFromFloat(2650.00)
	sig.StopLoss = decimal.NewFromFloat(2655.00)
	sig.TakeProfit1 = decimal.NewFromFloat(2640.00)
	sig.TakeProfit2 = decimal.NewFromFloat(2635.00)
	store := newMockStore(sig)
	d := newDetector(store, &mockPrices{price: 2639.00}, nil, nil)

	resolved, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	assert.Equal(t, models.StatusTP1Hit, store.updates[1])
	assert.Equal(t, "2640", store.outcomes[0].ExitPrice.String())
	assert.Equal(t, "100", store.outcomes[0].PnlPips.String()) // (2650 - 2640) / 0.10
}