// Package simulator deterministically resolves a trade against price data.
//
// The same evaluation core is used in two modes: walking a bounded sequence of
// historical bars (backtesting) and checking a single current price (live
// outcome detection). Both modes apply identical rules, so historical and
// live evaluation cannot drift apart:
//
//  1. Expiry is checked first.
//  2. Stop-loss takes priority over take-profit when both could trigger in
//     the same evaluation unit (conservative bias).
//  3. Spread adjustment is direction-aware: longs enter at the ask and have
//     their stop checked against the bid; shorts enter at the bid and have
//     their stop checked against the ask (price + spread).
//  4. TP2 is checked before TP1 so a move that clears both resolves to TP2.
package simulator

import (
	"time"

	"github.com/signalworks/signal-engine/internal/models"
)

const (
	// MaxBarsForward bounds how long a simulated trade is held before
	// expiring (72 = 3 days of H1 bars).
	MaxBarsForward = 72

	// PipValue is the price movement per pip for XAUUSD.
	PipValue = 0.10
)

// ResultNone means no outcome yet; the trade is still open.
const ResultNone models.SignalStatus = ""

// Trade is the definition evaluated by the simulator.
type Trade struct {
	Direction   models.Direction
	Entry       float64
	StopLoss    float64
	TakeProfit1 float64
	TakeProfit2 float64
	OpenedAt    time.Time
	ExpiresAt   time.Time // zero value means no explicit expiry
}

// Evaluation is the outcome of running a trade against price data.
type Evaluation struct {
	Result    models.SignalStatus
	ExitPrice float64
	BarsHeld  int
}

// EffectiveEntry returns the spread-adjusted entry price: longs buy at the
// ask (entry + spread), shorts sell at the bid.
func EffectiveEntry(t Trade, spread float64) float64 {
	if t.Direction == models.DirectionBuy {
		return t.Entry + spread
	}
	return t.Entry
}

// PnlPips converts an exit price into pips relative to the spread-adjusted
// entry, inverted for shorts.
func PnlPips(t Trade, exitPrice, spread float64) float64 {
	entry := EffectiveEntry(t, spread)
	if t.Direction == models.DirectionBuy {
		return (exitPrice - entry) / PipValue
	}
	return (entry - exitPrice) / PipValue
}

// classify applies the SL > TP2 > TP1 priority rules against one evaluation
// unit described by its bid price range [low, high]. For a single live tick
// low == high. Returns ResultNone when nothing triggered.
func classify(t Trade, low, high, spread float64) (models.SignalStatus, float64) {
	isBuy := t.Direction == models.DirectionBuy

	// SL first: conservative bias when SL and TP are both reachable.
	var slHit bool
	if isBuy {
		// Long stop is hit on the bid side.
		slHit = low <= t.StopLoss
	} else {
		// Short stop is hit on the ask side (bid + spread).
		slHit = high+spread >= t.StopLoss
	}
	if slHit {
		return models.StatusSLHit, t.StopLoss
	}

	// TP2 before TP1 so a single large move resolves to the farther target.
	if isBuy {
		if high >= t.TakeProfit2 {
			return models.StatusTP2Hit, t.TakeProfit2
		}
		if high >= t.TakeProfit1 {
			return models.StatusTP1Hit, t.TakeProfit1
		}
	} else {
		if low <= t.TakeProfit2 {
			return models.StatusTP2Hit, t.TakeProfit2
		}
		if low <= t.TakeProfit1 {
			return models.StatusTP1Hit, t.TakeProfit1
		}
	}

	return ResultNone, 0
}

// EvaluateBars walks the trade forward through the given bars (which must
// start at the bar after the one that opened the trade) and returns the
// first terminal event. If no level is reached within MaxBarsForward bars
// (or the bar sequence ends), the trade expires at the last available close.
func EvaluateBars(t Trade, bars []models.Bar, spread float64) Evaluation {
	limit := len(bars)
	if limit > MaxBarsForward {
		limit = MaxBarsForward
	}

	for i := 0; i < limit; i++ {
		bar := bars[i]

		if !t.ExpiresAt.IsZero() && !bar.Timestamp.Before(t.ExpiresAt) {
			return Evaluation{Result: models.StatusExpired, ExitPrice: bar.Open, BarsHeld: i + 1}
		}

		result, exit := classify(t, bar.Low, bar.High, spread)
		if result != ResultNone {
			return Evaluation{Result: result, ExitPrice: exit, BarsHeld: i + 1}
		}
	}

	if limit == 0 {
		// No bars after the signal bar: expire at the effective entry.
		return Evaluation{Result: models.StatusExpired, ExitPrice: EffectiveEntry(t, spread), BarsHeld: 0}
	}

	last := bars[limit-1]
	return Evaluation{Result: models.StatusExpired, ExitPrice: last.Close, BarsHeld: limit}
}

// EvaluateTick checks the trade against a single current bid price. It
// returns ResultNone when the trade remains open. Expiry uses the trade's
// explicit expiry timestamp and exits at the evaluation-time price.
func EvaluateTick(t Trade, price float64, spread float64, now time.Time) Evaluation {
	if !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt) {
		return Evaluation{Result: models.StatusExpired, ExitPrice: price}
	}

	result, exit := classify(t, price, price, spread)
	if result == ResultNone {
		return Evaluation{Result: ResultNone}
	}
	return Evaluation{Result: result, ExitPrice: exit}
}
