package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestResult is one evaluation of a strategy over a historical window.
// Rows are append-only: a new run inserts a new row, nothing is updated.
type BacktestResult struct {
	ID           int64           `json:"id"`
	Strategy     string          `json:"strategy"`
	Timeframe    string          `json:"timeframe"`
	WindowDays   int             `json:"window_days"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	WinRate      decimal.Decimal `json:"win_rate"`
	ProfitFactor decimal.Decimal `json:"profit_factor"`
	SharpeRatio  decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`
	Expectancy   decimal.Decimal `json:"expectancy"`
	TotalTrades  int             `json:"total_trades"`

	// Walk-forward validation fields. WalkForwardEfficiency is the worse of
	// the win-rate and profit-factor OOS/IS ratios.
	IsWalkForward         bool            `json:"is_walk_forward"`
	IsOverfitted          bool            `json:"is_overfitted"`
	WalkForwardEfficiency decimal.Decimal `json:"walk_forward_efficiency,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
