package strategy

import (
	"fmt"
	"math"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/simulator"
	"github.com/signalworks/signal-engine/internal/spread"
)

func init() {
	Register(&EMAMomentum{})
}

// EMAMomentum detects strong EMA-aligned momentum moves on XAUUSD H1.
//
// A setup occurs when the EMAs are stacked in trend order (21 over 50 over
// 200 for longs, reversed for shorts), the fast and mid EMAs are both
// sloping with the trend, and a strong candle closes beyond the fast EMA.
// No pullback is required, so this fires in trending markets where the
// pullback strategies stay quiet.
type EMAMomentum struct{}

const (
	emEMAFast        = 21
	emEMAMid         = 50
	emEMASlow        = 200
	emATRLength      = 14
	emBodyATRMult    = 0.6
	emSLATRMult      = 1.0
	emTP1RR          = 1.5
	emTP2RR          = 3.0
	emSlopeBars      = 5
	emSwingOrder     = 5
	emSwingLookback  = 20
	emBaseConfidence = 50.0
	emMaxSLPips      = 150.0
)

func (s *EMAMomentum) Name() string      { return "ema_momentum" }
func (s *EMAMomentum) Timeframe() string { return "H1" }
func (s *EMAMomentum) MinBars() int      { return 200 }

func (s *EMAMomentum) Analyze(bars []models.Bar) ([]CandidateSignal, error) {
	if err := validateBars(s.Name(), bars, s.MinBars()); err != nil {
		return nil, err
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	emaFast := EMA(closes, emEMAFast)
	emaMid := EMA(closes, emEMAMid)
	emaSlow := EMA(closes, emEMASlow)
	atr := ATR(highs, lows, closes, emATRLength)
	swingHighs := SwingHighs(highs, emSwingOrder)
	swingLows := SwingLows(lows, emSwingOrder)

	var out []CandidateSignal
	for i := s.MinBars(); i < len(bars); i++ {
		atrVal := atr[i]
		if math.IsNaN(atrVal) || atrVal <= 0 {
			continue
		}
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaMid[i]) || math.IsNaN(emaSlow[i]) {
			continue
		}

		ts := bars[i].Timestamp
		if !spread.InSession(ts, "london") && !spread.InSession(ts, "new_york") {
			continue
		}

		body := math.Abs(bars[i].Close - bars[i].Open)
		if body < emBodyATRMult*atrVal {
			continue
		}

		prevFast := emaFast[i-emSlopeBars]
		prevMid := emaMid[i-emSlopeBars]
		if math.IsNaN(prevFast) || math.IsNaN(prevMid) {
			continue
		}

		bullish := emaFast[i] > emaMid[i] && emaMid[i] > emaSlow[i] &&
			emaFast[i] > prevFast && emaMid[i] > prevMid &&
			bars[i].Close > bars[i].Open && bars[i].Close > emaFast[i]
		bearish := emaFast[i] < emaMid[i] && emaMid[i] < emaSlow[i] &&
			emaFast[i] < prevFast && emaMid[i] < prevMid &&
			bars[i].Close < bars[i].Open && bars[i].Close < emaFast[i]

		if bullish {
			if sig, ok := s.buildSignal(bars, i, emaFast[i], emaMid[i], emaSlow[i], atrVal, swingLows, models.DirectionBuy); ok {
				out = append(out, sig)
			}
		} else if bearish {
			if sig, ok := s.buildSignal(bars, i, emaFast[i], emaMid[i], emaSlow[i], atrVal, swingHighs, models.DirectionSell); ok {
				out = append(out, sig)
			}
		}
	}
	return out, nil
}

func (s *EMAMomentum) buildSignal(
	bars []models.Bar, i int, emaF, emaM, emaS, atrVal float64,
	swings []int, dir models.Direction,
) (CandidateSignal, bool) {
	isBuy := dir == models.DirectionBuy
	entry := bars[i].Close

	// Stop beyond the most protective recent swing, padded by ATR and
	// capped at a maximum pip distance.
	sl, found := swingStop(bars, i, swings, isBuy)
	if !found {
		sl = extremeInLookback(bars, i, isBuy)
	}
	if isBuy {
		sl -= emSLATRMult * atrVal
	} else {
		sl += emSLATRMult * atrVal
	}

	maxDist := emMaxSLPips * simulator.PipValue
	if math.Abs(entry-sl) > maxDist {
		if isBuy {
			sl = entry - maxDist
		} else {
			sl = entry + maxDist
		}
	}

	risk := math.Abs(entry - sl)
	if risk <= 0 {
		return CandidateSignal{}, false
	}

	var tp1, tp2 float64
	if isBuy {
		tp1 = entry + emTP1RR*risk
		tp2 = entry + emTP2RR*risk
	} else {
		tp1 = entry - emTP1RR*risk
		tp2 = entry - emTP2RR*risk
	}

	ts := bars[i].Timestamp
	conf := emBaseConfidence
	if math.Abs(emaF-emaM) > 1.0*atrVal {
		conf += 10 // strong fast/mid separation
	}
	if math.Abs(entry-emaF) > 0.3*atrVal {
		conf += 10 // price well clear of the fast EMA
	}
	if spread.InSession(ts, "overlap") {
		conf += 10
	}
	if math.Abs(emaM-emaS) > 2.0*atrVal {
		conf += 10 // all three EMAs strongly aligned
	}
	if conf > 100 {
		conf = 100
	}

	side, rel, candle := "Bullish", ">", "bullish"
	if !isBuy {
		side, rel, candle = "Bearish", "<", "bearish"
	}
	reasoning := fmt.Sprintf(
		"%s EMA momentum: EMA-21 (%.2f) %s EMA-50 (%.2f) %s EMA-200 (%.2f), all moving with the trend. "+
			"Strong %s candle at %.2f. SL at %.2f, TP1 at %.2f.",
		side, emaF, rel, emaM, rel, emaS, candle, entry, sl, tp1)

	sessions := spread.New().ActiveSessions(ts)
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
		Timestamp:   ts,
		Session:     session,
	}, true
}

// swingStop returns the most protective swing level within the lookback
// before bar i: the lowest swing low for longs, the highest swing high for
// shorts.
func swingStop(bars []models.Bar, i int, swings []int, isBuy bool) (float64, bool) {
	start := i - emSwingLookback
	if start < 0 {
		start = 0
	}
	best := 0.0
	found := false
	for _, idx := range swings {
		if idx < start || idx >= i {
			continue
		}
		v := bars[idx].Low
		if !isBuy {
			v = bars[idx].High
		}
		if !found || (isBuy && v < best) || (!isBuy && v > best) {
			best = v
			found = true
		}
	}
	return best, found
}

// extremeInLookback is the stop fallback when no swing exists: the lowest
// low (longs) or highest high (shorts) over the lookback including bar i.
func extremeInLookback(bars []models.Bar, i int, isBuy bool) float64 {
	start := i - emSwingLookback
	if start < 0 {
		start = 0
	}
	best := bars[start].Low
	if !isBuy {
		best = bars[start].High
	}
	for j := start; j <= i; j++ {
		if isBuy && bars[j].Low < best {
			best = bars[j].Low
		}
		if !isBuy && bars[j].High > best {
			best = bars[j].High
		}
	}
	return best
}
