package strategy

import (
	"fmt"
	"math"

	"github.com/signalworks/signal-engine/internal/models"
	"github.com/signalworks/signal-engine/internal/spread"
)

func init() {
	Register(&BreakoutExpansion{})
}

// BreakoutExpansion detects consolidation-range breakouts on XAUUSD H1:
// ATR compression for a minimum number of bars establishes a range, and a
// decisive close beyond that range triggers a signal.
type BreakoutExpansion struct{}

const (
	beATRLength        = 14
	beATRMALength      = 50
	beATRCompression   = 0.5
	beMinConsolBars    = 10
	beWideRangeATRMult = 3.0
	beBreakoutBodyATR  = 1.5
	beBaseConfidence   = 50.0
	beLondonOpenStart  = 7
	beLondonOpenEnd    = 9
)

func (s *BreakoutExpansion) Name() string      { return "breakout_expansion" }
func (s *BreakoutExpansion) Timeframe() string { return "H1" }
func (s *BreakoutExpansion) MinBars() int      { return 70 }

func (s *BreakoutExpansion) Analyze(bars []models.Bar) ([]CandidateSignal, error) {
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

	atr := ATR(highs, lows, closes, beATRLength)
	atrMA := RollingMean(atr, beATRMALength)

	var out []CandidateSignal
	consolStart := -1
	inConsolidation := false

	for i := s.MinBars(); i < len(bars); i++ {
		atrVal, atrMAVal := atr[i], atrMA[i]
		if math.IsNaN(atrVal) || math.IsNaN(atrMAVal) || atrMAVal <= 0 {
			consolStart = -1
			inConsolidation = false
			continue
		}

		if atrVal < beATRCompression*atrMAVal {
			if consolStart < 0 {
				consolStart = i
			}
			inConsolidation = true
			continue
		}

		// Expansion bar: check whether it breaks a just-ended consolidation.
		if inConsolidation && consolStart >= 0 {
			length := i - consolStart
			if length >= beMinConsolBars {
				if sig, ok := s.checkBreakout(bars, i, consolStart, length, atrVal); ok {
					out = append(out, sig)
				}
			}
		}
		consolStart = -1
		inConsolidation = false
	}
	return out, nil
}

func (s *BreakoutExpansion) checkBreakout(
	bars []models.Bar, i, consolStart, consolLength int, atrVal float64,
) (CandidateSignal, bool) {
	rangeHigh := bars[consolStart].High
	rangeLow := bars[consolStart].Low
	for j := consolStart; j < i; j++ {
		if bars[j].High > rangeHigh {
			rangeHigh = bars[j].High
		}
		if bars[j].Low < rangeLow {
			rangeLow = bars[j].Low
		}
	}
	rangeHeight := rangeHigh - rangeLow
	if rangeHeight <= 0 {
		return CandidateSignal{}, false
	}

	closeVal := bars[i].Close
	var dir models.Direction
	switch {
	case closeVal > rangeHigh:
		dir = models.DirectionBuy
	case closeVal < rangeLow:
		dir = models.DirectionSell
	default:
		return CandidateSignal{}, false
	}

	entry := closeVal

	// Stop at the far side of the range, or the midpoint when the range is
	// too wide to risk in full.
	var sl float64
	if rangeHeight > beWideRangeATRMult*atrVal {
		sl = (rangeHigh + rangeLow) / 2
	} else if dir == models.DirectionBuy {
		sl = rangeLow
	} else {
		sl = rangeHigh
	}

	risk := math.Abs(entry - sl)
	if risk == 0 {
		risk = atrVal
	}

	// Targets are measured-move projections of the range height.
	var tp1, tp2 float64
	if dir == models.DirectionBuy {
		tp1 = entry + rangeHeight
		tp2 = entry + 2*rangeHeight
	} else {
		tp1 = entry - rangeHeight
		tp2 = entry - 2*rangeHeight
	}

	ts := bars[i].Timestamp
	body := math.Abs(bars[i].Close - bars[i].Open)

	conf := beBaseConfidence
	if consolLength > 20 {
		conf += 10 // long consolidation, stronger range
	}
	if body > beBreakoutBodyATR*atrVal {
		conf += 10 // strong momentum candle
	}
	hour := ts.UTC().Hour()
	if hour >= beLondonOpenStart && hour < beLondonOpenEnd {
		conf += 10 // london open expansion window
	}
	if conf > 100 {
		conf = 100
	}

	side := "Bullish"
	if dir == models.DirectionSell {
		side = "Bearish"
	}
	reasoning := fmt.Sprintf(
		"%s breakout from %d-bar consolidation range (%.2f-%.2f). "+
			"ATR expansion confirms volatility breakout. Entry at %.2f, SL at %.2f.",
		side, consolLength, rangeLow, rangeHigh, entry, sl)

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
