package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/signalworks/signal-engine/internal/models"
)

// SaveSignal inserts a new signal and sets its generated ID
func (db *DB) SaveSignal(signal *models.Signal) error {
	query := `
		INSERT INTO signals (
			strategy, symbol, timeframe, direction,
			entry_price, stop_loss, take_profit_1, take_profit_2,
			risk_reward, confidence, reasoning, status,
			created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING id
	`

	err := db.conn.QueryRow(query,
		signal.Strategy, signal.Symbol, signal.Timeframe, signal.Direction,
		signal.EntryPrice, signal.StopLoss, signal.TakeProfit1, signal.TakeProfit2,
		signal.RiskReward, signal.Confidence, signal.Reasoning, signal.Status,
		signal.CreatedAt, signal.ExpiresAt,
	).Scan(&signal.ID)

	if err != nil {
		return fmt.Errorf("failed to save signal for %s: %w", signal.Strategy, err)
	}

	return nil
}

// GetSignal retrieves a signal by ID
func (db *DB) GetSignal(id int64) (*models.Signal, error) {
	query := signalSelect + ` WHERE id = $1`

	signal, err := scanSignal(db.conn.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("signal not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal %d: %w", id, err)
	}
	return signal, nil
}

// GetActiveSignals retrieves all signals still awaiting an outcome
func (db *DB) GetActiveSignals() ([]*models.Signal, error) {
	query := signalSelect + ` WHERE status = $1 ORDER BY created_at ASC`

	rows, err := db.conn.Query(query, models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to get active signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// CountActiveSignals returns the number of signals currently active
func (db *DB) CountActiveSignals() (int, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM signals WHERE status = $1`, models.StatusActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active signals: %w", err)
	}
	return count, nil
}

// HasActiveSignal reports whether an active signal exists for the same
// symbol and direction created after the given time (deduplication check)
func (db *DB) HasActiveSignal(symbol string, direction models.Direction, since time.Time) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM signals
			WHERE symbol = $1 AND direction = $2 AND status = $3 AND created_at > $4
		)`, symbol, direction, models.StatusActive, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate signal: %w", err)
	}
	return exists, nil
}

// UpdateSignalStatus moves a signal to a new status. Only rows still active
// are updated, so the first terminal transition wins.
func (db *DB) UpdateSignalStatus(id int64, status models.SignalStatus) error {
	result, err := db.conn.Exec(`
		UPDATE signals SET status = $1 WHERE id = $2 AND status = $3`,
		status, id, models.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update signal %d status: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check signal %d update: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("signal %d is not active", id)
	}
	return nil
}

// ExpireStaleSignals marks active signals past their expiry as expired and
// returns how many rows changed. Safety net for signals the outcome detector
// could not resolve, for example during a price feed outage.
func (db *DB) ExpireStaleSignals(now time.Time) (int, error) {
	result, err := db.conn.Exec(`
		UPDATE signals SET status = $1 WHERE status = $2 AND expires_at <= $3`,
		models.StatusExpired, models.StatusActive, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale signals: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired signals: %w", err)
	}
	return int(affected), nil
}

// GetRecentSignals retrieves the most recent signals, newest first
func (db *DB) GetRecentSignals(limit int) ([]*models.Signal, error) {
	query := signalSelect + ` ORDER BY created_at DESC LIMIT $1`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent signals: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// GetRecentDirections returns the directions of the most recent signals for
// a symbol, newest first, for directional bias checks
func (db *DB) GetRecentDirections(symbol string, limit int) ([]models.Direction, error) {
	rows, err := db.conn.Query(`
		SELECT direction FROM signals
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`, symbol, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent directions: %w", err)
	}
	defer rows.Close()

	var out []models.Direction
	for rows.Next() {
		var d models.Direction
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan direction: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const signalSelect = `
	SELECT id, strategy, symbol, timeframe, direction,
	       entry_price, stop_loss, take_profit_1, take_profit_2,
	       risk_reward, confidence, reasoning, status,
	       created_at, expires_at
	FROM signals`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (*models.Signal, error) {
	var s models.Signal
	err := row.Scan(
		&s.ID, &s.Strategy, &s.Symbol, &s.Timeframe, &s.Direction,
		&s.EntryPrice, &s.StopLoss, &s.TakeProfit1, &s.TakeProfit2,
		&s.RiskReward, &s.Confidence, &s.Reasoning, &s.Status,
		&s.CreatedAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSignals(rows *sql.Rows) ([]*models.Signal, error) {
	var out []*models.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
