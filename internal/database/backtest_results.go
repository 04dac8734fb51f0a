package database

import (
	"database/sql"
	"fmt"

	"github.com/signalworks/signal-engine/internal/models"
)

// SaveBacktestResult appends one backtest evaluation. Results are never
// updated; each run inserts a fresh row.
func (db *DB) SaveBacktestResult(result *models.BacktestResult) error {
	query := `
		INSERT INTO backtest_results (
			strategy, timeframe, window_days, start_date, end_date,
			win_rate, profit_factor, sharpe_ratio, max_drawdown, expectancy,
			total_trades, is_walk_forward, is_overfitted, walk_forward_efficiency,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		RETURNING id
	`

	err := db.conn.QueryRow(query,
		result.Strategy, result.Timeframe, result.WindowDays, result.StartDate, result.EndDate,
		result.WinRate, result.ProfitFactor, result.SharpeRatio, result.MaxDrawdown, result.Expectancy,
		result.TotalTrades, result.IsWalkForward, result.IsOverfitted, result.WalkForwardEfficiency,
		result.CreatedAt,
	).Scan(&result.ID)

	if err != nil {
		return fmt.Errorf("failed to save backtest result for %s: %w", result.Strategy, err)
	}
	return nil
}

// GetLatestBacktest retrieves the most recent non-walk-forward backtest for
// a strategy. A windowDays of 0 matches any window.
func (db *DB) GetLatestBacktest(strategy, timeframe string, windowDays int) (*models.BacktestResult, error) {
	query := backtestSelect + `
		WHERE strategy = $1 AND timeframe = $2 AND is_walk_forward = FALSE
		  AND ($3 = 0 OR window_days = $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	result, err := scanBacktest(db.conn.QueryRow(query, strategy, timeframe, windowDays))
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest backtest for %s: %w", strategy, err)
	}
	return result, nil
}

// GetOldestBacktest retrieves the earliest non-walk-forward backtest for a
// strategy, used as the degradation baseline
func (db *DB) GetOldestBacktest(strategy, timeframe string) (*models.BacktestResult, error) {
	query := backtestSelect + `
		WHERE strategy = $1 AND timeframe = $2 AND is_walk_forward = FALSE
		ORDER BY created_at ASC
		LIMIT 1
	`

	result, err := scanBacktest(db.conn.QueryRow(query, strategy, timeframe))
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest backtest for %s: %w", strategy, err)
	}
	return result, nil
}

// GetRecentBacktests retrieves the most recent backtest rows, newest first
func (db *DB) GetRecentBacktests(limit int) ([]*models.BacktestResult, error) {
	query := backtestSelect + ` ORDER BY created_at DESC LIMIT $1`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent backtests: %w", err)
	}
	defer rows.Close()

	var out []*models.BacktestResult
	for rows.Next() {
		r, err := scanBacktest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const backtestSelect = `
	SELECT id, strategy, timeframe, window_days, start_date, end_date,
	       win_rate, profit_factor, sharpe_ratio, max_drawdown, expectancy,
	       total_trades, is_walk_forward, is_overfitted, walk_forward_efficiency,
	       created_at
	FROM backtest_results`

func scanBacktest(row rowScanner) (*models.BacktestResult, error) {
	var r models.BacktestResult
	err := row.Scan(
		&r.ID, &r.Strategy, &r.Timeframe, &r.WindowDays, &r.StartDate, &r.EndDate,
		&r.WinRate, &r.ProfitFactor, &r.SharpeRatio, &r.MaxDrawdown, &r.Expectancy,
		&r.TotalTrades, &r.IsWalkForward, &r.IsOverfitted, &r.WalkForwardEfficiency,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
