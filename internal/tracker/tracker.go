// Package tracker recomputes rolling live performance metrics per strategy
// after each recorded outcome, feeding the selector's live blending.
package tracker

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalworks/signal-engine/internal/database"
	"github.com/signalworks/signal-engine/internal/metrics"
	"github.com/signalworks/signal-engine/internal/models"
)

// periods are the rolling windows tracked per strategy.
var periods = []struct {
	label string
	days  int
}{
	{"7d", 7},
	{"30d", 30},
}

// Store is the persistence surface the tracker needs, satisfied by
// *database.DB.
type Store interface {
	GetStrategyOutcomes(strategy string, since time.Time) ([]database.StrategyOutcome, error)
	GetStrategyPerformance(strategy, period string) (*models.StrategyPerformance, error)
	UpsertStrategyPerformance(perf *models.StrategyPerformance) error
}

// Tracker recalculates win rate, profit factor and average risk:reward over
// the rolling windows and upserts one row per (strategy, period).
type Tracker struct {
	store Store
}

// New creates a performance tracker
func New(store Store) *Tracker {
	return &Tracker{store: store}
}

// Recalculate recomputes every rolling window for one strategy. The
// degradation flag on an existing row is carried over untouched; only the
// feedback controller changes it.
func (t *Tracker) Recalculate(strategyName string) ([]*models.StrategyPerformance, error) {
	now := time.Now().UTC()

	out := make([]*models.StrategyPerformance, 0, len(periods))
	for _, period := range periods {
		since := now.Add(-time.Duration(period.days) * 24 * time.Hour)
		outcomes, err := t.store.GetStrategyOutcomes(strategyName, since)
		if err != nil {
			return nil, fmt.Errorf("failed to load outcomes for %s/%s: %w", strategyName, period.label, err)
		}

		perf := compute(strategyName, period.label, outcomes)
		perf.CalculatedAt = now

		existing, err := t.store.GetStrategyPerformance(strategyName, period.label)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if existing != nil {
			perf.IsDegraded = existing.IsDegraded
			perf.DegradedAt = existing.DegradedAt
		}

		if err := t.store.UpsertStrategyPerformance(perf); err != nil {
			return nil, err
		}
		out = append(out, perf)

		log.Printf("Performance tracker: %s/%s win_rate=%s pf=%s avg_rr=%s n=%d",
			strategyName, period.label, perf.WinRate, perf.ProfitFactor, perf.AvgRR, perf.TotalSignals)
	}
	return out, nil
}

// compute derives the rolling metrics from a window of outcomes. An empty
// window yields an all-zero row.
func compute(strategyName, period string, outcomes []database.StrategyOutcome) *models.StrategyPerformance {
	perf := &models.StrategyPerformance{
		Strategy: strategyName,
		Period:   period,
	}
	if len(outcomes) == 0 {
		return perf
	}

	wins := 0
	var grossProfit, grossLoss, rrSum float64
	for _, o := range outcomes {
		if o.Result.IsWin() {
			wins++
		}
		pnl := o.PnlPips.InexactFloat64()
		if pnl > 0 {
			grossProfit += pnl
		} else if pnl < 0 {
			grossLoss += -pnl
		}
		rrSum += o.RiskReward.InexactFloat64()
	}

	total := float64(len(outcomes))

	var pf float64
	switch {
	case grossLoss == 0 && grossProfit > 0:
		pf = metrics.MaxProfitFactor
	case grossLoss == 0:
		pf = 0
	default:
		pf = grossProfit / grossLoss
		if pf > metrics.MaxProfitFactor {
			pf = metrics.MaxProfitFactor
		}
	}

	perf.WinRate = decimal.NewFromFloat(float64(wins) / total).Round(4)
	perf.ProfitFactor = decimal.NewFromFloat(pf).Round(4)
	perf.AvgRR = decimal.NewFromFloat(rrSum / total).Round(4)
	perf.TotalSignals = len(outcomes)
	return perf
}
