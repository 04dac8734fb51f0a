// Package feedback closes the self-improvement loop: it flags degrading
// strategies, recovers them after sustained improvement, and trips a
// process-wide circuit breaker on losing streaks or runaway drawdown.
package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/risk"
	"github.com/signalworks/signal-engine/internal/strategy"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

const (
	// consecutiveLossLimit trips the circuit breaker. Losses are sl_hit and
	// expired outcomes; any win resets the streak.
	consecutiveLossLimit = 5

	// drawdownMultiplier trips the breaker when the running drawdown
	// exceeds this multiple of the historical maximum.
	drawdownMultiplier = 2.0

	lossLookback = 50

	winRateDropThreshold = 0.15
	recoveryWinRateSlack = 0.05
	recoveryMinDays      = 7
)

// Store is the persistence surface the controller needs, satisfied by
// *database.DB.
type Store interface {
	GetStrategyPerformance(strategy, period string) (*models.StrategyPerformance, error)
	GetOldestBacktest(strategy, timeframe string) (*models.BacktestResult, error)
	MarkDegraded(strategy string, degraded bool, degradedAt *time.Time) error
	GetRecentOutcomeResults(limit int) ([]models.SignalStatus, error)
}

// DrawdownSource supplies cumulative drawdown bookkeeping, satisfied by
// *risk.Manager.
type DrawdownSource interface {
	Drawdown() (risk.DrawdownMetrics, error)
}

// Publisher emits strategy health events.
type Publisher interface {
	PublishDegradationChanged(ctx context.Context, strategy string, degraded bool, reason string) error
	PublishCircuitBreakerChanged(ctx context.Context, tripped bool, reason string) error
}

// Controller holds the circuit breaker state in memory. The state resets on
// restart; the breaker re-trips on the next check because loss streaks and
// drawdown are recomputed from persisted outcomes.
type Controller struct {
	store     Store
	drawdown  DrawdownSource
	publisher Publisher
	metrics   *telemetry.Metrics
	cooldown  time.Duration

	mu        sync.Mutex
	tripped   bool
	trippedAt time.Time
	degraded  map[string]bool
}

// New creates a feedback controller
func New(store Store, drawdown DrawdownSource, publisher Publisher, metrics *telemetry.Metrics, cooldown time.Duration) *Controller {
	return &Controller{
		store:     store,
		drawdown:  drawdown,
		publisher: publisher,
		metrics:   metrics,
		cooldown:  cooldown,
		degraded:  make(map[string]bool),
	}
}

// Active reports the current circuit breaker state without re-evaluating
// trigger conditions.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped
}

// CheckCircuitBreaker re-evaluates the breaker: resets after the cooldown,
// then trips on a loss streak or on running drawdown beyond twice the
// historical maximum. Returns whether the breaker is active.
func (c *Controller) CheckCircuitBreaker(ctx context.Context) (bool, error) {
	now := time.Now().UTC()

	c.mu.Lock()
	expired := c.tripped && now.Sub(c.trippedAt) >= c.cooldown
	if expired {
		log.Printf("Feedback: circuit breaker cooldown expired after %s, resetting", c.cooldown)
		c.setTrippedLocked(false)
	}
	c.mu.Unlock()
	if expired {
		c.publishBreakerChange(ctx, false, "cooldown expired")
	}

	results, err := c.store.GetRecentOutcomeResults(lossLookback)
	if err != nil {
		return c.Active(), err
	}
	losses := consecutiveLosses(results)
	if losses >= consecutiveLossLimit {
		c.trip(ctx, now, fmt.Sprintf("%d consecutive losses", losses))
		return true, nil
	}

	dd, err := c.drawdown.Drawdown()
	if err != nil {
		return c.Active(), err
	}
	if dd.MaxDrawdown > 0 && dd.RunningDrawdown > drawdownMultiplier*dd.MaxDrawdown {
		c.trip(ctx, now, fmt.Sprintf("running drawdown %.2f pips exceeds %.1fx historical max %.2f",
			dd.RunningDrawdown, drawdownMultiplier, dd.MaxDrawdown))
		return true, nil
	}

	c.mu.Lock()
	cleared := c.tripped
	if cleared {
		log.Printf("Feedback: circuit breaker conditions cleared, resetting")
		c.setTrippedLocked(false)
	}
	c.mu.Unlock()
	if cleared {
		c.publishBreakerChange(ctx, false, "conditions cleared")
	}
	return false, nil
}

func (c *Controller) trip(ctx context.Context, now time.Time, reason string) {
	c.mu.Lock()
	if c.tripped {
		c.mu.Unlock()
		return
	}
	log.Printf("Feedback: circuit breaker ACTIVATED: %s", reason)
	c.trippedAt = now
	c.setTrippedLocked(true)
	c.mu.Unlock()

	c.publishBreakerChange(ctx, true, reason)
}

// setTrippedLocked updates the breaker state and gauge. Callers hold mu.
func (c *Controller) setTrippedLocked(tripped bool) {
	c.tripped = tripped
	if !tripped {
		c.trippedAt = time.Time{}
	}

	value := 0.0
	if tripped {
		value = 1.0
	}
	c.metrics.CircuitBreakerTripped.Set(value)
}

// publishBreakerChange emits the state-change event. Always called without
// holding mu so a slow broker cannot stall concurrent risk checks.
func (c *Controller) publishBreakerChange(ctx context.Context, tripped bool, reason string) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishCircuitBreakerChanged(ctx, tripped, reason); err != nil {
		log.Printf("Feedback: failed to publish circuit breaker change: %v", err)
	}
}

// consecutiveLosses counts losses from the most recent outcome backwards
// until the first win.
func consecutiveLosses(results []models.SignalStatus) int {
	count := 0
	for _, r := range results {
		if r == models.StatusSLHit || r == models.StatusExpired {
			count++
			continue
		}
		break
	}
	return count
}

// CheckDegradation compares a strategy's live 30d performance against its
// oldest backtest baseline and persists flag changes. Returns the degraded
// state and the reason when degraded.
func (c *Controller) CheckDegradation(ctx context.Context, strat strategy.Strategy) (bool, string, error) {
	name := strat.Name()

	perf, err := c.store.GetStrategyPerformance(name, "30d")
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	var reasons []string

	livePF := perf.ProfitFactor.InexactFloat64()
	liveWR := perf.WinRate.InexactFloat64()
	if livePF < 1.0 {
		reasons = append(reasons, fmt.Sprintf("profit factor %.4f below 1.0", livePF))
	}

	baseline, err := c.store.GetOldestBacktest(name, strat.Timeframe())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, "", err
	}
	if baseline != nil {
		drop := baseline.WinRate.InexactFloat64() - liveWR
		if drop > winRateDropThreshold {
			reasons = append(reasons, fmt.Sprintf("win rate dropped %.4f (from %.4f to %.4f)",
				drop, baseline.WinRate.InexactFloat64(), liveWR))
		}
	}

	degraded := len(reasons) > 0
	reason := strings.Join(reasons, "; ")

	// Only set the flag here. Clearing goes through CheckRecovery so a
	// degraded strategy sits out for at least the recovery period.
	if degraded && !perf.IsDegraded {
		now := time.Now().UTC()
		if err := c.store.MarkDegraded(name, true, &now); err != nil {
			return degraded, reason, err
		}
		c.recordDegradation(ctx, name, true, reason)
	}
	return degraded || perf.IsDegraded, reason, nil
}

// CheckRecovery clears the degradation flag once a strategy has been
// degraded for at least 7 days and its 7d window shows win rate within 0.05
// of baseline with profit factor at or above 1.0.
func (c *Controller) CheckRecovery(ctx context.Context, strat strategy.Strategy) (bool, error) {
	name := strat.Name()

	perf30, err := c.store.GetStrategyPerformance(name, "30d")
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !perf30.IsDegraded || perf30.DegradedAt == nil {
		return false, nil
	}

	if time.Since(*perf30.DegradedAt) < recoveryMinDays*24*time.Hour {
		return false, nil
	}

	perf7, err := c.store.GetStrategyPerformance(name, "7d")
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	baseline, err := c.store.GetOldestBacktest(name, strat.Timeframe())
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	wrRecovered := perf7.WinRate.InexactFloat64() >= baseline.WinRate.InexactFloat64()-recoveryWinRateSlack
	pfRecovered := perf7.ProfitFactor.InexactFloat64() >= 1.0
	if !wrRecovered || !pfRecovered {
		return false, nil
	}

	if err := c.store.MarkDegraded(name, false, nil); err != nil {
		return false, err
	}
	log.Printf("Feedback: strategy %s has recovered (7d win_rate=%s baseline=%s 7d pf=%s)",
		name, perf7.WinRate, baseline.WinRate, perf7.ProfitFactor)
	c.recordDegradation(ctx, name, false, "recovered")
	return true, nil
}

func (c *Controller) recordDegradation(ctx context.Context, name string, degraded bool, reason string) {
	c.mu.Lock()
	if degraded {
		c.degraded[name] = true
	} else {
		delete(c.degraded, name)
	}
	c.metrics.DegradedStrategies.Set(float64(len(c.degraded)))
	c.mu.Unlock()

	if c.publisher != nil {
		if err := c.publisher.PublishDegradationChanged(ctx, name, degraded, reason); err != nil {
			log.Printf("Feedback: failed to publish degradation change for %s: %v", name, err)
		}
	}
}

// RunChecks runs the circuit breaker and the per-strategy degradation and
// recovery checks. Called after each outcome detection cycle.
func (c *Controller) RunChecks(ctx context.Context) error {
	if _, err := c.CheckCircuitBreaker(ctx); err != nil {
		return fmt.Errorf("circuit breaker check failed: %w", err)
	}

	for _, strat := range strategy.All() {
		degraded, _, err := c.CheckDegradation(ctx, strat)
		if err != nil {
			return fmt.Errorf("degradation check failed for %s: %w", strat.Name(), err)
		}
		if degraded {
			if _, err := c.CheckRecovery(ctx, strat); err != nil {
				return fmt.Errorf("recovery check failed for %s: %w", strat.Name(), err)
			}
		}
	}
	return nil
}
