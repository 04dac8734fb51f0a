package strategy

import (
	"fmt"
	"math"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/spread"
)

func init() {
	Register(&LiquiditySweep{})
}

// LiquiditySweep detects stop hunts beyond key swing levels on XAUUSD H1:
// a candle wicks through a recent swing low (or high), closes back inside,
// and a following candle confirms the structure shift.
type LiquiditySweep struct{}

const (
	lsSwingOrder     = 5
	lsATRLength      = 14
	lsLookback       = 50
	lsConfirmBars    = 3
	lsSLATRMult      = 0.5
	lsTP1RR          = 1.5
	lsTP2RR          = 3.0
	lsBaseConfidence = 50.0
)

func (s *LiquiditySweep) Name() string      { return "liquidity_sweep" }
func (s *LiquiditySweep) Timeframe() string { return "H1" }
func (s *LiquiditySweep) MinBars() int      { return 100 }

func (s *LiquiditySweep) Analyze(bars []models.Bar) ([]CandidateSignal, error) {
	if err := validateBars(s.Name(), bars, s.MinBars()); err != nil {
		return nil, err
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}

	atr := ATR(highs, lows, closes, lsATRLength)
	swingHighs := SwingHighs(highs, lsSwingOrder)
	swingLows := SwingLows(lows, lsSwingOrder)

	var out []CandidateSignal
	for i := s.MinBars(); i < len(bars); i++ {
		atrVal := atr[i]
		if math.IsNaN(atrVal) || atrVal <= 0 {
			continue
		}

		ts := bars[i].Timestamp
		if !spread.InSession(ts, "london") && !spread.InSession(ts, "new_york") {
			continue
		}

		if sig, ok := s.checkSweep(bars, i, atrVal, swingLows, models.DirectionBuy); ok {
			out = append(out, sig)
			continue // one signal per bar
		}
		if sig, ok := s.checkSweep(bars, i, atrVal, swingHighs, models.DirectionSell); ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (s *LiquiditySweep) checkSweep(
	bars []models.Bar, i int, atrVal float64, swings []int, dir models.Direction,
) (CandidateSignal, bool) {
	isBuy := dir == models.DirectionBuy

	// Swing levels swept by this bar: wick through, close back inside.
	var swept []float64
	for _, idx := range swings {
		if idx < i-lsLookback || idx >= i {
			continue
		}
		if isBuy {
			level := bars[idx].Low
			if bars[i].Low < level && level <= bars[i].Close {
				swept = append(swept, level)
			}
		} else {
			level := bars[idx].High
			if bars[i].High > level && level >= bars[i].Close {
				swept = append(swept, level)
			}
		}
	}
	if len(swept) == 0 {
		return CandidateSignal{}, false
	}

	sweepLevel := swept[0]
	for _, v := range swept[1:] {
		if (isBuy && v < sweepLevel) || (!isBuy && v > sweepLevel) {
			sweepLevel = v
		}
	}

	// Structure shift: a following candle closes beyond the sweep bar.
	confirmIdx := -1
	for j := i + 1; j < len(bars) && j <= i+lsConfirmBars; j++ {
		if isBuy && bars[j].Close > bars[i].High {
			confirmIdx = j
			break
		}
		if !isBuy && bars[j].Close < bars[i].Low {
			confirmIdx = j
			break
		}
	}
	if confirmIdx < 0 {
		return CandidateSignal{}, false
	}

	confirm := bars[confirmIdx]
	entry := confirm.Close

	var sl, tp1, tp2, wick float64
	if isBuy {
		sl = bars[i].Low - lsSLATRMult*atrVal
		wick = math.Abs(bars[i].Low - sweepLevel)
	} else {
		sl = bars[i].High + lsSLATRMult*atrVal
		wick = math.Abs(bars[i].High - sweepLevel)
	}
	risk := math.Abs(entry - sl)
	if risk == 0 {
		return CandidateSignal{}, false
	}
	if isBuy {
		tp1 = entry + lsTP1RR*risk
		tp2 = entry + lsTP2RR*risk
	} else {
		tp1 = entry - lsTP1RR*risk
		tp2 = entry - lsTP2RR*risk
	}

	conf := lsBaseConfidence
	if wick > atrVal {
		conf += 10 // deep sweep beyond the level
	}
	if r := confirm.High - confirm.Low; r > 0 {
		ratio := (confirm.Close - confirm.Low) / r
		if !isBuy {
			ratio = (confirm.High - confirm.Close) / r
		}
		if ratio > 0.7 {
			conf += 10 // confirmation closes near its extreme
		}
	}
	if spread.InSession(bars[i].Timestamp, "overlap") {
		conf += 10
	}
	if len(swept) >= 2 {
		conf += 10 // multiple levels, larger liquidity pool
	}
	if conf > 100 {
		conf = 100
	}

	side, prep := "Bullish", "below swing low"
	slPrep := "below sweep wick"
	if !isBuy {
		side, prep = "Bearish", "above swing high"
		slPrep = "above sweep wick"
	}
	reasoning := fmt.Sprintf(
		"%s liquidity sweep %s at %.2f, confirmed by structure shift. Entry at %.2f, SL %s at %.2f.",
		side, prep, sweepLevel, entry, slPrep, sl)

	sessions := spread.New().ActiveSessions(confirm.Timestamp)
	session := ""
	if len(sessions) > 0 {
		session = sessions[0]
	}

	return CandidateSignal{
		Strategy:    s.Name(),
		Symbol:      "XAUUSD",
		Timeframe:   s.Timeframe(),
		Direction:   dir,
		Entry:       round2(entry),
		StopLoss:    round2(sl),
		TakeProfit1: round2(tp1),
		TakeProfit2: round2(tp2),
		Confidence:  conf,
		Reasoning:   reasoning,
		Timestamp:   confirm.Timestamp,
		Session:     session,
	}, true
}
