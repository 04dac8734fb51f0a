package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome records how a signal resolved. Exactly one outcome exists per
// signal (enforced by a unique constraint) and rows are immutable once
// written.
type Outcome struct {
	ID              int64           `json:"id"`
	SignalID        int64           `json:"signal_id"`
	Result          SignalStatus    `json:"result"`
	ExitPrice       decimal.Decimal `json:"exit_price"`
	PnlPips         decimal.Decimal `json:"pnl_pips"`
	DurationMinutes int             `json:"duration_minutes"`
	CreatedAt       time.Time       `json:"created_at"`
}
