// Package strategy contains the signal-producing trading strategies and the
// registry they publish themselves into.
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalworks/signal-engine/internal/models"
)

// ErrInsufficientData is returned by Analyze when the bar count is below the
// strategy's minimum requirement.
var ErrInsufficientData = errors.New("insufficient candle data")

// CandidateSignal is a raw trade setup produced by a strategy before
// validation and risk checks.
type CandidateSignal struct {
	Strategy    string
	Symbol      string
	Timeframe   string
	Direction   models.Direction
	Entry       float64
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
	Confidence  float64
	Reasoning   string
	Timestamp   time.Time // candle timestamp that triggered the setup
	Session     string
}

// RiskReward returns the ratio of the TP1 distance to the SL distance.
func (s CandidateSignal) RiskReward() float64 {
	risk := s.Entry - s.StopLoss
	reward := s.TakeProfit1 - s.Entry
	if s.Direction == models.DirectionSell {
		risk = s.StopLoss - s.Entry
		reward = s.Entry - s.TakeProfit1
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// Strategy analyzes a bar series and emits candidate signals.
type Strategy interface {
	Name() string
	Timeframe() string
	MinBars() int
	Analyze(bars []models.Bar) ([]CandidateSignal, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Strategy)
)

// Register adds a strategy to the registry. Called from package init funcs;
// duplicate names panic since that is a programming error.
func Register(s Strategy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[s.Name()]; ok {
		panic(fmt.Sprintf("strategy %q registered twice", s.Name()))
	}
	registry[s.Name()] = s
}

// Get returns a registered strategy by name.
func Get(name string) (Strategy, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q not found", name)
	}
	return s, nil
}

// All returns every registered strategy, sorted by name for deterministic
// iteration order.
func All() []Strategy {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Strategy, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func validateBars(name string, bars []models.Bar, min int) error {
	if len(bars) < min {
		return fmt.Errorf("strategy %s needs at least %d bars, got %d: %w",
			name, min, len(bars), ErrInsufficientData)
	}
	return nil
}
