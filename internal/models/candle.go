package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLC bar as stored in the candles table. Candles are
// immutable once stored.
type Candle struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
}

// Bar is the float form of a candle used by strategies, the simulator and
// the backtester, where decimal precision is not needed until the
// persistence boundary.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
}

// Bar converts a stored candle into its float form
func (c *Candle) Bar() Bar {
	return Bar{
		Timestamp: c.Timestamp,
		Open:      c.Open.InexactFloat64(),
		High:      c.High.InexactFloat64(),
		Low:       c.Low.InexactFloat64(),
		Close:     c.Close.InexactFloat64(),
	}
}

// CandlesToBars converts a slice of candles into bars, preserving order
func CandlesToBars(candles []*Candle) []Bar {
	bars := make([]Bar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, c.Bar())
	}
	return bars
}
