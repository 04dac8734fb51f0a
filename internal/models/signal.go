package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the trade direction of a signal
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// SignalStatus tracks the lifecycle of a signal. A signal starts active and
// moves exactly once to one of the terminal states.
type SignalStatus string

const (
	StatusActive  SignalStatus = "active"
	StatusTP1Hit  SignalStatus = "tp1_hit"
	StatusTP2Hit  SignalStatus = "tp2_hit"
	StatusSLHit   SignalStatus = "sl_hit"
	StatusExpired SignalStatus = "expired"
)

// IsTerminal reports whether the status is one of the final outcomes
func (s SignalStatus) IsTerminal() bool {
	return s == StatusTP1Hit || s == StatusTP2Hit || s == StatusSLHit || s == StatusExpired
}

// IsWin reports whether the status counts as a winning outcome
func (s SignalStatus) IsWin() bool {
	return s == StatusTP1Hit || s == StatusTP2Hit
}

// Signal represents a persisted trade recommendation. Price levels are locked
// at creation and never recalculated; only the Status field changes afterward,
// and only the outcome detector changes it.
type Signal struct {
	ID          int64           `json:"id"`
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Timeframe   string          `json:"timeframe"`
	Direction   Direction       `json:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	TakeProfit1 decimal.Decimal `json:"take_profit_1"`
	TakeProfit2 decimal.Decimal `json:"take_profit_2"`
	RiskReward  decimal.Decimal `json:"risk_reward"`
	Confidence  decimal.Decimal `json:"confidence"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Status      SignalStatus    `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}
