package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/signalworks/signal-engine/internal/models"
)

// UpsertStrategyPerformance inserts or atomically replaces the performance
// row for a (strategy, period) pair
func (db *DB) UpsertStrategyPerformance(perf *models.StrategyPerformance) error {
	query := `
		INSERT INTO strategy_performance (
			strategy, period, win_rate, profit_factor, avg_rr,
			total_signals, is_degraded, degraded_at, calculated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (strategy, period)
		DO UPDATE SET
			win_rate = EXCLUDED.win_rate,
			profit_factor = EXCLUDED.profit_factor,
			avg_rr = EXCLUDED.avg_rr,
			total_signals = EXCLUDED.total_signals,
			is_degraded = EXCLUDED.is_degraded,
			degraded_at = EXCLUDED.degraded_at,
			calculated_at = EXCLUDED.calculated_at
		RETURNING id
	`

	err := db.conn.QueryRow(query,
		perf.Strategy, perf.Period, perf.WinRate, perf.ProfitFactor, perf.AvgRR,
		perf.TotalSignals, perf.IsDegraded, perf.DegradedAt, perf.CalculatedAt,
	).Scan(&perf.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert performance for %s/%s: %w", perf.Strategy, perf.Period, err)
	}
	return nil
}

// GetStrategyPerformance retrieves the performance row for one strategy and
// period
func (db *DB) GetStrategyPerformance(strategy, period string) (*models.StrategyPerformance, error) {
	query := performanceSelect + ` WHERE strategy = $1 AND period = $2`

	perf, err := scanPerformance(db.conn.QueryRow(query, strategy, period))
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get performance for %s/%s: %w", strategy, period, err)
	}
	return perf, nil
}

// GetAllPerformance retrieves every performance row
func (db *DB) GetAllPerformance() ([]*models.StrategyPerformance, error) {
	query := performanceSelect + ` ORDER BY strategy, period`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy performance: %w", err)
	}
	defer rows.Close()

	var out []*models.StrategyPerformance
	for rows.Next() {
		p, err := scanPerformance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan performance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkDegraded sets the degradation flag on all performance rows for a
// strategy. degradedAt is nil when recovering.
func (db *DB) MarkDegraded(strategy string, degraded bool, degradedAt *time.Time) error {
	_, err := db.conn.Exec(`
		UPDATE strategy_performance
		SET is_degraded = $2, degraded_at = $3
		WHERE strategy = $1`,
		strategy, degraded, degradedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s degraded=%v: %w", strategy, degraded, err)
	}
	return nil
}

const performanceSelect = `
	SELECT id, strategy, period, win_rate, profit_factor, avg_rr,
	       total_signals, is_degraded, degraded_at, calculated_at
	FROM strategy_performance`

func scanPerformance(row rowScanner) (*models.StrategyPerformance, error) {
	var p models.StrategyPerformance
	err := row.Scan(
		&p.ID, &p.Strategy, &p.Period, &p.WinRate, &p.ProfitFactor, &p.AvgRR,
		&p.TotalSignals, &p.IsDegraded, &p.DegradedAt, &p.CalculatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
