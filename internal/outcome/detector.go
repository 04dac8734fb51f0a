// Package outcome resolves active signals against the current market price
// and records how each one closed.
package outcome

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/simulator"
	"github.com/signalworks/signal-engine/internal/spread"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

// Store is the persistence surface the detector needs, satisfied by
// *database.DB.
type Store interface {
	GetActiveSignals() ([]*models.Signal, error)
	UpdateSignalStatus(id int64, status models.SignalStatus) error
	SaveOutcome(outcome *models.Outcome) error
}

// PriceSource supplies the current market price, satisfied by
// *marketdata.Client.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Publisher emits outcome events.
type Publisher interface {
	PublishOutcomeRecorded(ctx context.Context, outcome *models.Outcome) error
}

// PerformanceTracker recomputes rolling metrics after a new outcome,
// satisfied by *tracker.Tracker.
type PerformanceTracker interface {
	Recalculate(strategy string) ([]*models.StrategyPerformance, error)
}

// Detector periodically checks every active signal against the latest price
// using the same evaluation rules as the backtester's bar walker.
type Detector struct {
	store     Store
	prices    PriceSource
	publisher Publisher
	tracker   PerformanceTracker
	spreads   *spread.Model
	metrics   *telemetry.Metrics
	symbol    string
}

// New creates an outcome detector
func New(store Store, prices PriceSource, publisher Publisher, tracker PerformanceTracker, metrics *telemetry.Metrics, symbol string) *Detector {
	return &Detector{
		store:     store,
		prices:    prices,
		publisher: publisher,
		tracker:   tracker,
		spreads:   spread.New(),
		metrics:   metrics,
		symbol:    symbol,
	}
}

// RunCycle evaluates all active signals once and returns how many resolved.
// A price fetch failure skips the whole cycle; signals stay active and are
// re-evaluated next cycle.
func (d *Detector) RunCycle(ctx context.Context) (int, error) {
	signals, err := d.store.GetActiveSignals()
	if err != nil {
		return 0, err
	}
	if len(signals) == 0 {
		d.metrics.ActiveSignals.Set(0)
		return 0, nil
	}

	price, err := d.prices.CurrentPrice(ctx, d.symbol)
	if err != nil {
		return 0, fmt.Errorf("price fetch failed, skipping outcome cycle: %w", err)
	}

	now := time.Now().UTC()
	sp := d.spreads.Spread(now)

	resolved := 0
	for _, signal := range signals {
		trade := simulator.Trade{
			Direction:   signal.Direction,
			Entry:       signal.EntryPrice.InexactFloat64(),
			StopLoss:    signal.StopLoss.InexactFloat64(),
			TakeProfit1: signal.TakeProfit1.InexactFloat64(),
			TakeProfit2: signal.TakeProfit2.InexactFloat64(),
			OpenedAt:    signal.CreatedAt,
			ExpiresAt:   signal.ExpiresAt,
		}

		ev := simulator.EvaluateTick(trade, price, sp, now)
		if ev.Result == simulator.ResultNone {
			continue
		}

		if d.resolve(ctx, signal, ev, now) {
			resolved++
		}
	}

	d.metrics.ActiveSignals.Set(float64(len(signals) - resolved))
	if resolved > 0 {
		log.Printf("Outcome detector: resolved %d/%d active signal(s) at price %.2f", resolved, len(signals), price)
	}
	return resolved, nil
}

// resolve transitions the signal to its terminal status and records the
// outcome. The status update is guarded so the first terminal transition
// wins; a lost race skips the outcome entirely.
func (d *Detector) resolve(ctx context.Context, signal *models.Signal, ev simulator.Evaluation, now time.Time) bool {
	if err := d.store.UpdateSignalStatus(signal.ID, ev.Result); err != nil {
		log.Printf("Outcome detector: skipping signal %d: %v", signal.ID, err)
		return false
	}

	outcome := &models.Outcome{
		SignalID:        signal.ID,
		Result:          ev.Result,
		ExitPrice:       decimal.NewFromFloat(ev.ExitPrice).Round(2),
		PnlPips:         decimal.NewFromFloat(pnlPips(signal, ev.ExitPrice)).Round(2),
		DurationMinutes: int(now.Sub(signal.CreatedAt).Minutes()),
		CreatedAt:       now,
	}

	if err := d.store.SaveOutcome(outcome); err != nil {
		log.Printf("Outcome detector: failed to save outcome for signal %d: %v", signal.ID, err)
		return false
	}
	d.metrics.OutcomesTotal.WithLabelValues(string(ev.Result)).Inc()

	if d.publisher != nil {
		if err := d.publisher.PublishOutcomeRecorded(ctx, outcome); err != nil {
			log.Printf("Outcome detector: failed to publish outcome for signal %d: %v", signal.ID, err)
		}
	}

	if d.tracker != nil {
		if _, err := d.tracker.Recalculate(signal.Strategy); err != nil {
			log.Printf("Outcome detector: failed to recalculate performance for %s: %v", signal.Strategy, err)
		}
	}

	log.Printf("Outcome detector: signal %d resolved as %s (exit=%s pnl=%s pips after %dm)",
		signal.ID, outcome.Result, outcome.ExitPrice, outcome.PnlPips, outcome.DurationMinutes)
	return true
}

// pnlPips converts the exit into pips relative to the nominal entry price,
// inverted for shorts. Live outcomes use the recommendation's published
// entry, not the spread-adjusted fill the backtester assumes.
func pnlPips(signal *models.Signal, exitPrice float64) float64 {
	entry := signal.EntryPrice.InexactFloat64()
	if signal.Direction == models.DirectionBuy {
		return (exitPrice - entry) / simulator.PipValue
	}
	return (entry - exitPrice) / simulator.PipValue
}
