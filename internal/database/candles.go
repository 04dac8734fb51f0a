package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/signalworks/signal-engine/internal/models"
)

// SaveCandle stores one OHLC bar. Candles are immutable: re-delivery of the
// same bar is a no-op.
func (db *DB) SaveCandle(candle *models.Candle) error {
	query := `
		INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, timeframe, timestamp) DO NOTHING
	`

	_, err := db.conn.Exec(query,
		candle.Symbol, candle.Timeframe, candle.Timestamp,
		candle.Open, candle.High, candle.Low, candle.Close,
	)
	if err != nil {
		return fmt.Errorf("failed to save candle %s %s: %w", candle.Symbol, candle.Timeframe, err)
	}
	return nil
}

// GetCandles retrieves candles in a time range, oldest first
func (db *DB) GetCandles(symbol, timeframe string, from, to time.Time) ([]*models.Candle, error) {
	query := candleSelect + `
		WHERE symbol = $1 AND timeframe = $2 AND timestamp >= $3 AND timestamp < $4
		ORDER BY timestamp ASC
	`

	rows, err := db.conn.Query(query, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles for %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetRecentCandles retrieves the latest N candles, returned oldest first
func (db *DB) GetRecentCandles(symbol, timeframe string, limit int) ([]*models.Candle, error) {
	query := `
		SELECT id, symbol, timeframe, timestamp, open, high, low, close FROM (` +
		candleSelect + `
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY timestamp DESC
			LIMIT $3
		) recent
		ORDER BY timestamp ASC
	`

	rows, err := db.conn.Query(query, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent candles for %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLatestCandle retrieves the most recent candle for a symbol/timeframe
func (db *DB) GetLatestCandle(symbol, timeframe string) (*models.Candle, error) {
	query := candleSelect + `
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var c models.Candle
	err := db.conn.QueryRow(query, symbol, timeframe).Scan(
		&c.ID, &c.Symbol, &c.Timeframe, &c.Timestamp,
		&c.Open, &c.High, &c.Low, &c.Close,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no candles for %s %s", symbol, timeframe)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest candle for %s %s: %w", symbol, timeframe, err)
	}
	return &c, nil
}

const candleSelect = `
	SELECT id, symbol, timeframe, timestamp, open, high, low, close
	FROM candles`

func scanCandles(rows *sql.Rows) ([]*models.Candle, error) {
	var out []*models.Candle
	for rows.Next() {
		var c models.Candle
		err := rows.Scan(
			&c.ID, &c.Symbol, &c.Timeframe, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
