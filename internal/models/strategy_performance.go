package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyPerformance is the rolling live performance of a strategy over a
// fixed period ("7d" or "30d"). There is exactly one row per
// (strategy, period); recomputation upserts in place.
type StrategyPerformance struct {
	ID           int64           `json:"id"`
	Strategy     string          `json:"strategy"`
	Period       string          `json:"period"`
	WinRate      decimal.Decimal `json:"win_rate"`
	ProfitFactor decimal.Decimal `json:"profit_factor"`
	AvgRR        decimal.Decimal `json:"avg_rr"`
	TotalSignals int             `json:"total_signals"`
	IsDegraded   bool            `json:"is_degraded"`
	DegradedAt   *time.Time      `json:"degraded_at,omitempty"`
	CalculatedAt time.Time       `json:"calculated_at"`
}
