package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalworks/signal-engine/internal/database"
	"github.com/signalworks/signal-engine/internal/selector"
)

func newTestHandler(t *testing.T, ranker Ranker) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewHandler(database.NewWithConn(conn), nil, nil, ranker), mock
}

var signalColumns = []string{
	"id", "strategy", "symbol", "timeframe", "direction",
	"entry_price", "stop_loss", "take_profit_1", "take_profit_2",
	"risk_reward", "confidence", "reasoning", "status",
	"created_at", "expires_at",
}

func signalRow(rows *sqlmock.Rows, id int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return rows.AddRow(
		id, "trend_continuation", "XAUUSD", "H1", "BUY",
		"2650.00", "2645.00", "2660.00", "2665.00",
		"2.00", "72.5", "EMA stack aligned", "active",
		now, now.Add(8*time.Hour),
	)
}

type stubRanker struct {
	scores []*selector.Score
	err    error
}

func (s *stubRanker) RankAll() ([]*selector.Score, error) {
	return s.scores, s.err
}

func TestGetRecentSignals(t *testing.T) {
	handler, mock := newTestHandler(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM signals")).
		WillReturnRows(signalRow(signalRow(sqlmock.NewRows(signalColumns), 2), 1))

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/signals", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "trend_continuation", body[0]["strategy"])
}

func TestGetSignal_NotFound(t *testing.T) {
	handler, mock := newTestHandler(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM signals")).
		WillReturnRows(sqlmock.NewRows(signalColumns))

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/signals/99", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSignal_InvalidID(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/signals/abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetActiveSignals(t *testing.T) {
	handler, mock := newTestHandler(t, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM signals")).
		WithArgs("active").
		WillReturnRows(signalRow(sqlmock.NewRows(signalColumns), 1))

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/signals/active", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "active", body[0]["status"])
}

func TestGetPerformance(t *testing.T) {
	handler, mock := newTestHandler(t, nil)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM strategy_performance")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "strategy", "period", "win_rate", "profit_factor", "avg_rr",
			"total_signals", "is_degraded", "degraded_at", "calculated_at",
		}).AddRow(1, "liquidity_sweep", "30d", "0.5500", "1.8000", "2.1000", 20, false, nil, now))

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/performance", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "liquidity_sweep", body[0]["strategy"])
	assert.Equal(t, "30d", body[0]["period"])
}

func TestGetBacktests_RespectsLimit(t *testing.T) {
	handler, mock := newTestHandler(t, nil)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM backtest_results")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "strategy", "timeframe", "window_days", "start_date", "end_date",
			"win_rate", "profit_factor", "sharpe_ratio", "max_drawdown", "expectancy",
			"total_trades", "is_walk_forward", "is_overfitted", "walk_forward_efficiency",
			"created_at",
		}).AddRow(1, "breakout_expansion", "H1", 30, now.AddDate(0, -1, 0), now,
			"0.6000", "1.9000", "1.2000", "35.00", "4.1000", 40, false, false, "0", now))

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backtests?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRanking(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRanker{scores: []*selector.Score{
		{Strategy: "trend_continuation", Composite: 0.71, Regime: selector.RegimeMedium},
		{Strategy: "breakout_expansion", Composite: 0.44, Regime: selector.RegimeMedium},
	}})

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/strategies/ranking", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "trend_continuation", body[0]["strategy"])
}

func TestGetRanking_Error(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRanker{err: errors.New("no backtests yet")})

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/strategies/ranking", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	rec := httptest.NewRecorder()
	SetupRoutes(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	services := body["services"].(map[string]interface{})
	assert.Equal(t, "healthy", services["postgres"])
	assert.Equal(t, "not configured", services["redis"])
}

func TestListLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, listLimit(httptest.NewRequest("GET", "/api/v1/signals", nil)))
	assert.Equal(t, 25, listLimit(httptest.NewRequest("GET", "/api/v1/signals?limit=25", nil)))
	assert.Equal(t, defaultListLimit, listLimit(httptest.NewRequest("GET", "/api/v1/signals?limit=-1", nil)))
	assert.Equal(t, maxListLimit, listLimit(httptest.NewRequest("GET", "/api/v1/signals?limit=9000", nil)))
}
