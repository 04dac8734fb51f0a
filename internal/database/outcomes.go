package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalworks/signal-engine/internal/models"
)

// SaveOutcome records how a signal resolved. A unique constraint on
// signal_id makes this idempotent: when an outcome already exists the insert
// is a no-op and the existing row stands (first terminal event wins).
func (db *DB) SaveOutcome(outcome *models.Outcome) error {
	query := `
		INSERT INTO outcomes (
			signal_id, result, exit_price, pnl_pips, duration_minutes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signal_id) DO NOTHING
		RETURNING id
	`

	err := db.conn.QueryRow(query,
		outcome.SignalID, outcome.Result, outcome.ExitPrice,
		outcome.PnlPips, outcome.DurationMinutes, outcome.CreatedAt,
	).Scan(&outcome.ID)

	if err == sql.ErrNoRows {
		// Outcome already recorded for this signal
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save outcome for signal %d: %w", outcome.SignalID, err)
	}
	return nil
}

// GetOutcome retrieves the outcome for a signal
func (db *DB) GetOutcome(signalID int64) (*models.Outcome, error) {
	query := `
		SELECT id, signal_id, result, exit_price, pnl_pips, duration_minutes, created_at
		FROM outcomes
		WHERE signal_id = $1
	`

	var o models.Outcome
	err := db.conn.QueryRow(query, signalID).Scan(
		&o.ID, &o.SignalID, &o.Result, &o.ExitPrice,
		&o.PnlPips, &o.DurationMinutes, &o.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no outcome for signal %d", signalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome for signal %d: %w", signalID, err)
	}
	return &o, nil
}

// StrategyOutcome is an outcome joined with its signal's risk/reward, used
// by the performance tracker and strategy selector
type StrategyOutcome struct {
	Result     models.SignalStatus
	PnlPips    decimal.Decimal
	RiskReward decimal.Decimal
	CreatedAt  time.Time
}

// GetStrategyOutcomes retrieves outcomes for one strategy recorded after the
// given time, oldest first
func (db *DB) GetStrategyOutcomes(strategy string, since time.Time) ([]StrategyOutcome, error) {
	query := `
		SELECT o.result, o.pnl_pips, s.risk_reward, o.created_at
		FROM outcomes o
		JOIN signals s ON s.id = o.signal_id
		WHERE s.strategy = $1 AND o.created_at >= $2
		ORDER BY o.created_at ASC
	`

	rows, err := db.conn.Query(query, strategy, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcomes for %s: %w", strategy, err)
	}
	defer rows.Close()

	var out []StrategyOutcome
	for rows.Next() {
		var so StrategyOutcome
		if err := rows.Scan(&so.Result, &so.PnlPips, &so.RiskReward, &so.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		out = append(out, so)
	}
	return out, rows.Err()
}

// GetRecentOutcomeResults returns the results of the most recent outcomes,
// newest first, for consecutive-loss counting
func (db *DB) GetRecentOutcomeResults(limit int) ([]models.SignalStatus, error) {
	rows, err := db.conn.Query(`
		SELECT result FROM outcomes ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent outcome results: %w", err)
	}
	defer rows.Close()

	var out []models.SignalStatus
	for rows.Next() {
		var r models.SignalStatus
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan outcome result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetOutcomePnlSeries returns the pnl_pips of every outcome in
// chronological order, for drawdown bookkeeping
func (db *DB) GetOutcomePnlSeries() ([]decimal.Decimal, error) {
	rows, err := db.conn.Query(`
		SELECT pnl_pips FROM outcomes ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome pnl series: %w", err)
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var pnl decimal.Decimal
		if err := rows.Scan(&pnl); err != nil {
			return nil, fmt.Errorf("failed to scan pnl: %w", err)
		}
		out = append(out, pnl)
	}
	return out, rows.Err()
}

// SumPnlPipsSince returns the total realized P&L in pips across all
// strategies since the given time, for the daily loss limit check
func (db *DB) SumPnlPipsSince(since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := db.conn.QueryRow(`
		SELECT COALESCE(SUM(pnl_pips), 0) FROM outcomes WHERE created_at >= $1`,
		since,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum pnl pips: %w", err)
	}
	return sum, nil
}
