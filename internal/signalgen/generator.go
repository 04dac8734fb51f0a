// Package signalgen turns strategy analysis into validated, de-duplicated,
// persisted trade signals.
package signalgen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalworks/signal-engine/internal/config"
	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/strategy"
	"github.com/signalworks/signal-engine/internal/telemetry"
)

const (
	// candleBuffer is extra history fetched beyond a strategy's minimum so
	// indicators have warmup room.
	candleBuffer = 50

	biasWindowSignals = 20
	biasSkewThreshold = 0.75

	// confluenceBonus is added to confidence when the H4 trend agrees with
	// the signal direction. Applied before the confidence filter.
	confluenceBonus = 5.0

	defaultExpiryHours = 8
)

// expiryHours maps a signal's timeframe to how long it stays actionable.
var expiryHours = map[string]int{
	"M15": 4,
	"H1":  8,
	"H4":  24,
	"D1":  48,
}

// Store is the persistence surface the generator needs, satisfied by
// *database.DB.
type Store interface {
	GetRecentCandles(symbol, timeframe string, limit int) ([]*models.Candle, error)
	HasActiveSignal(symbol string, direction models.Direction, since time.Time) (bool, error)
	GetRecentDirections(symbol string, limit int) ([]models.Direction, error)
	SaveSignal(signal *models.Signal) error
}

// Publisher emits signal lifecycle events.
type Publisher interface {
	PublishSignalCreated(ctx context.Context, signal *models.Signal) error
}

// ConfluenceChecker reports higher-timeframe agreement with a direction,
// satisfied by *selector.Selector.
type ConfluenceChecker interface {
	CheckH4Confluence(direction models.Direction) (bool, error)
}

// Generator runs a strategy against recent candles and filters the
// resulting candidates down to persistable signals.
type Generator struct {
	store      Store
	publisher  Publisher
	confluence ConfluenceChecker
	metrics    *telemetry.Metrics
	cfg        config.TradingConfig
}

// New creates a signal generator
func New(store Store, publisher Publisher, confluence ConfluenceChecker, metrics *telemetry.Metrics, cfg config.TradingConfig) *Generator {
	return &Generator{
		store:      store,
		publisher:  publisher,
		confluence: confluence,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// Generate runs the named strategy on the latest candle history and returns
// its candidate signals. A strategy reporting insufficient data yields no
// candidates and no error.
func (g *Generator) Generate(strategyName string) ([]strategy.CandidateSignal, error) {
	strat, err := strategy.Get(strategyName)
	if err != nil {
		return nil, err
	}

	limit := strat.MinBars() + candleBuffer
	candles, err := g.store.GetRecentCandles(g.cfg.Symbol, strat.Timeframe(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s: %w", strategyName, err)
	}
	if len(candles) == 0 {
		log.Printf("Signal generator: no candles for %s %s, cannot generate",
			g.cfg.Symbol, strat.Timeframe())
		return nil, nil
	}

	candidates, err := strat.Analyze(models.CandlesToBars(candles))
	if err != nil {
		if errors.Is(err, strategy.ErrInsufficientData) {
			log.Printf("Signal generator: insufficient data for strategy %s: %v", strategyName, err)
			return nil, nil
		}
		return nil, fmt.Errorf("strategy %s analysis failed: %w", strategyName, err)
	}

	log.Printf("Signal generator: strategy %s produced %d candidate(s)", strategyName, len(candidates))
	return candidates, nil
}

// Validate applies the acceptance filters in order: risk:reward threshold,
// confidence threshold, same-direction dedup. An H4 confluence bonus is
// applied to confidence first, and a directional bias warning is appended to
// the reasoning without rejecting.
func (g *Generator) Validate(candidates []strategy.CandidateSignal) ([]strategy.CandidateSignal, error) {
	var validated []strategy.CandidateSignal

	for _, candidate := range candidates {
		if g.confluence != nil {
			agree, err := g.confluence.CheckH4Confluence(candidate.Direction)
			if err != nil {
				log.Printf("Signal generator: confluence check failed: %v", err)
			} else if agree {
				candidate.Confidence = math.Min(candidate.Confidence+confluenceBonus, 100)
				candidate.Reasoning += " [H4 trend confluence]"
			}
		}

		if rr := candidate.RiskReward(); rr < g.cfg.MinRiskReward {
			log.Printf("Signal generator: rejected %s signal, R:R %.2f below minimum %.2f",
				candidate.Strategy, rr, g.cfg.MinRiskReward)
			g.metrics.SignalsRejected.WithLabelValues("risk_reward").Inc()
			continue
		}

		if candidate.Confidence < g.cfg.MinConfidence {
			log.Printf("Signal generator: rejected %s signal, confidence %.1f below minimum %.1f",
				candidate.Strategy, candidate.Confidence, g.cfg.MinConfidence)
			g.metrics.SignalsRejected.WithLabelValues("confidence").Inc()
			continue
		}

		duplicate, err := g.isDuplicate(candidate)
		if err != nil {
			return nil, err
		}
		if duplicate {
			log.Printf("Signal generator: suppressed duplicate %s %s signal within %s window",
				candidate.Direction, candidate.Symbol, g.cfg.DedupWindow)
			g.metrics.SignalsRejected.WithLabelValues("duplicate").Inc()
			continue
		}

		biased, err := g.hasDirectionalBias(candidate)
		if err != nil {
			return nil, err
		}
		if biased {
			log.Printf("Signal generator: directional bias, over %d%% of last %d signals are %s",
				int(biasSkewThreshold*100), biasWindowSignals, candidate.Direction)
			candidate.Reasoning += fmt.Sprintf(
				" [NOTE: directional bias, over %d%% of last %d signals are %s]",
				int(biasSkewThreshold*100), biasWindowSignals, candidate.Direction)
		}

		validated = append(validated, candidate)
	}

	log.Printf("Signal generator: %d/%d candidate(s) passed validation", len(validated), len(candidates))
	return validated, nil
}

// isDuplicate reports whether an active same-direction signal already exists
// within the dedup window.
func (g *Generator) isDuplicate(candidate strategy.CandidateSignal) (bool, error) {
	since := time.Now().UTC().Add(-g.cfg.DedupWindow)
	return g.store.HasActiveSignal(candidate.Symbol, candidate.Direction, since)
}

// hasDirectionalBias reports whether recent signal generation is skewed
// toward the candidate's direction. Fewer signals than the window is never
// biased.
func (g *Generator) hasDirectionalBias(candidate strategy.CandidateSignal) (bool, error) {
	directions, err := g.store.GetRecentDirections(candidate.Symbol, biasWindowSignals)
	if err != nil {
		return false, err
	}
	if len(directions) < biasWindowSignals {
		return false, nil
	}

	same := 0
	for _, d := range directions {
		if d == candidate.Direction {
			same++
		}
	}
	return float64(same)/float64(len(directions)) > biasSkewThreshold, nil
}

// Persist stores a validated candidate as an active signal and publishes
// its creation event. Prices are rounded to 2 decimal places at this
// boundary; publish failures are logged but do not fail the save.
func (g *Generator) Persist(ctx context.Context, candidate strategy.CandidateSignal) (*models.Signal, error) {
	now := time.Now().UTC()

	signal := &models.Signal{
		Strategy:    candidate.Strategy,
		Symbol:      candidate.Symbol,
		Timeframe:   candidate.Timeframe,
		Direction:   candidate.Direction,
		EntryPrice:  decimal.NewFromFloat(candidate.Entry).Round(2),
		StopLoss:    decimal.NewFromFloat(candidate.StopLoss).Round(2),
		TakeProfit1: decimal.NewFromFloat(candidate.TakeProfit1).Round(2),
		TakeProfit2: decimal.NewFromFloat(candidate.TakeProfit2).Round(2),
		RiskReward:  decimal.NewFromFloat(candidate.RiskReward()).Round(2),
		Confidence:  decimal.NewFromFloat(candidate.Confidence).Round(1),
		Reasoning:   candidate.Reasoning,
		Status:      models.StatusActive,
		CreatedAt:   now,
		ExpiresAt:   computeExpiry(candidate, now),
	}

	if err := g.store.SaveSignal(signal); err != nil {
		return nil, err
	}
	g.metrics.SignalsCreated.WithLabelValues(signal.Strategy).Inc()

	if g.publisher != nil {
		if err := g.publisher.PublishSignalCreated(ctx, signal); err != nil {
			log.Printf("Signal generator: failed to publish signal %d: %v", signal.ID, err)
		}
	}

	log.Printf("Signal generator: created %s %s signal %d (entry=%s sl=%s tp1=%s tp2=%s rr=%s conf=%s)",
		signal.Direction, signal.Strategy, signal.ID,
		signal.EntryPrice, signal.StopLoss, signal.TakeProfit1, signal.TakeProfit2,
		signal.RiskReward, signal.Confidence)
	return signal, nil
}

// computeExpiry derives the expiry from the candidate's timeframe, anchored
// at the candidate's bar time when present.
func computeExpiry(candidate strategy.CandidateSignal, now time.Time) time.Time {
	hours, ok := expiryHours[candidate.Timeframe]
	if !ok {
		hours = defaultExpiryHours
	}

	anchor := candidate.Timestamp
	if anchor.IsZero() {
		anchor = now
	}
	return anchor.Add(time.Duration(hours) * time.Hour)
}
