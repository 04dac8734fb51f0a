package strategy

import (
	"fmt"
	"math"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/spread"
)

func init() {
	Register(&TrendContinuation{})
}

// TrendContinuation detects EMA-trend pullback continuations on XAUUSD H1.
//
// A setup occurs when a clear trend is established (EMA-50 vs EMA-200),
// price pulls back to the EMA-50 zone, and a momentum candle closes back in
// the trend direction beyond the previous bar's extreme.
type TrendContinuation struct{}

const (
	tcEMAFast         = 50
	tcEMASlow         = 200
	tcATRLength       = 14
	tcPullbackATRMult = 1.0
	tcSLATRMult       = 1.5
	tcTP1RR           = 2.0
	tcTP2RR           = 3.0
	tcLookbackBars    = 5
	tcSwingOrder      = 5
	tcBaseConfidence  = 50.0
)

func (s *TrendContinuation) Name() string      { return "trend_continuation" }
func (s *TrendContinuation) Timeframe() string { return "H1" }
func (s *TrendContinuation) MinBars() int      { return 200 }

func (s *TrendContinuation) Analyze(bars []models.Bar) ([]CandidateSignal, error) {
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

	ema50 := EMA(closes, tcEMAFast)
	ema200 := EMA(closes, tcEMASlow)
	atr := ATR(highs, lows, closes, tcATRLength)
	swingHighs := SwingHighs(highs, tcSwingOrder)
	swingLows := SwingLows(lows, tcSwingOrder)

	var out []CandidateSignal
	for i := s.MinBars(); i < len(bars)-1; i++ {
		atrVal := atr[i]
		if math.IsNaN(atrVal) || atrVal <= 0 {
			continue
		}
		if math.IsNaN(ema50[i]) || math.IsNaN(ema200[i]) {
			continue
		}

		ts := bars[i].Timestamp
		if !spread.InSession(ts, "london") && !spread.InSession(ts, "new_york") {
			continue
		}

		// No clear trend when the EMAs are too close together.
		if math.Abs(ema50[i]-ema200[i]) < 0.5*atrVal {
			continue
		}

		if ema50[i] > ema200[i] {
			if sig, ok := s.checkContinuation(bars, i, ema50, ema200, atrVal, swingHighs, models.DirectionBuy); ok {
				out = append(out, sig)
			}
		} else {
			if sig, ok := s.checkContinuation(bars, i, ema50, ema200, atrVal, swingLows, models.DirectionSell); ok {
				out = append(out, sig)
			}
		}
	}
	return out, nil
}

func (s *TrendContinuation) checkContinuation(
	bars []models.Bar, i int, ema50, ema200 []float64, atrVal float64,
	swings []int, dir models.Direction,
) (CandidateSignal, bool) {
	isBuy := dir == models.DirectionBuy
	zone := tcPullbackATRMult * atrVal
	lookStart := i - tcLookbackBars
	if lookStart < 0 {
		lookStart = 0
	}

	// Price must have been clearly on the trend side of EMA-50 recently.
	trended := false
	for j := lookStart; j < i; j++ {
		if isBuy && bars[j].Close > ema50[i]+zone {
			trended = true
			break
		}
		if !isBuy && bars[j].Close < ema50[i]-zone {
			trended = true
			break
		}
	}
	if !trended {
		return CandidateSignal{}, false
	}

	// Current bar closes inside the pullback zone around EMA-50.
	if bars[i].Close < ema50[i]-zone || bars[i].Close > ema50[i]+zone {
		return CandidateSignal{}, false
	}

	// Momentum confirmation on the next bar.
	confirm := bars[i+1]
	if isBuy {
		if !(confirm.Close > confirm.Open && confirm.Close > bars[i].High) {
			return CandidateSignal{}, false
		}
	} else {
		if !(confirm.Close < confirm.Open && confirm.Close < bars[i].Low) {
			return CandidateSignal{}, false
		}
	}

	entry := confirm.Close

	// Stop beyond the pullback extreme with a minimum ATR distance.
	var sl float64
	if isBuy {
		pullLow := bars[lookStart].Low
		for j := lookStart; j <= i; j++ {
			if bars[j].Low < pullLow {
				pullLow = bars[j].Low
			}
		}
		sl = pullLow - tcSLATRMult*atrVal
		if entry-sl < tcSLATRMult*atrVal {
			sl = entry - tcSLATRMult*atrVal
		}
	} else {
		pullHigh := bars[lookStart].High
		for j := lookStart; j <= i; j++ {
			if bars[j].High > pullHigh {
				pullHigh = bars[j].High
			}
		}
		sl = pullHigh + tcSLATRMult*atrVal
		if sl-entry < tcSLATRMult*atrVal {
			sl = entry + tcSLATRMult*atrVal
		}
	}

	risk := math.Abs(entry - sl)
	if risk == 0 {
		return CandidateSignal{}, false
	}

	var tp1, tp2 float64
	if isBuy {
		tp1 = entry + tcTP1RR*risk
		tp2, _ = nearestSwingAbove(entry, swings, bars, i)
		if tp2 <= tp1 {
			tp2 = entry + tcTP2RR*risk
		}
	} else {
		tp1 = entry - tcTP1RR*risk
		tp2, _ = nearestSwingBelow(entry, swings, bars, i)
		if tp2 == 0 || tp2 >= tp1 {
			tp2 = entry - tcTP2RR*risk
		}
	}

	conf := tcBaseConfidence
	if math.Abs(bars[i].Close-ema50[i]) < 0.5*atrVal {
		conf += 10 // shallow pullback
	}
	if spread.InSession(bars[i].Timestamp, "overlap") {
		conf += 10
	}
	if i >= 10 && !math.IsNaN(ema50[i-10]) && !math.IsNaN(ema200[i-10]) &&
		math.Abs(ema50[i]-ema200[i]) > math.Abs(ema50[i-10]-ema200[i-10]) {
		conf += 10 // trend strengthening
	}
	if conf > 100 {
		conf = 100
	}

	side, prep := "Bullish", "below pullback low"
	if !isBuy {
		side, prep = "Bearish", "above pullback high"
	}
	reasoning := fmt.Sprintf(
		"%s trend continuation: EMA-50 (%.2f) vs EMA-200 (%.2f), pullback to EMA-50 zone, "+
			"momentum confirmation candle. Entry at %.2f, SL %s at %.2f.",
		side, ema50[i], ema200[i], entry, prep, sl)

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

// nearestSwingAbove returns the lowest swing high above entry among swings
// before the current bar, or 0 when none exists.
func nearestSwingAbove(entry float64, swings []int, bars []models.Bar, current int) (float64, bool) {
	best := 0.0
	found := false
	for _, idx := range swings {
		if idx >= current {
			continue
		}
		v := bars[idx].High
		if v > entry && (!found || v < best) {
			best = v
			found = true
		}
	}
	return best, found
}

// nearestSwingBelow returns the highest swing low below entry among swings
// before the current bar, or 0 when none exists.
func nearestSwingBelow(entry float64, swings []int, bars []models.Bar, current int) (float64, bool) {
	best := 0.0
	found := false
	for _, idx := range swings {
		if idx >= current {
			continue
		}
		v := bars[idx].Low
		if v < entry && (!found || v > best) {
			best = v
			found = true
		}
	}
	return best, found
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
