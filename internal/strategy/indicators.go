package strategy

import "math"

// EMA computes an exponential moving average seeded with the simple average
// of the first length values. Warmup positions are NaN.
func EMA(values []float64, length int) []float64 {
	out := nanSlice(len(values))
	if length <= 0 || len(values) < length {
		return out
	}

	sum := 0.0
	for i := 0; i < length; i++ {
		sum += values[i]
	}
	prev := sum / float64(length)
	out[length-1] = prev

	alpha := 2.0 / float64(length+1)
	for i := length; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// ATR computes the average true range with Wilder smoothing. Warmup
// positions are NaN; the first valid value is at index length.
func ATR(highs, lows, closes []float64, length int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if length <= 0 || n <= length {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	sum := 0.0
	for i := 1; i <= length; i++ {
		sum += tr[i]
	}
	prev := sum / float64(length)
	out[length] = prev

	for i := length + 1; i < n; i++ {
		prev = (prev*float64(length-1) + tr[i]) / float64(length)
		out[i] = prev
	}
	return out
}

// RSI computes the relative strength index with Wilder smoothing. Warmup
// positions are NaN.
func RSI(values []float64, length int) []float64 {
	n := len(values)
	out := nanSlice(n)
	if length <= 0 || n <= length {
		return out
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= length; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(length)
	avgLoss /= float64(length)
	out[length] = rsiValue(avgGain, avgLoss)

	for i := length + 1; i < n; i++ {
		d := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(length-1) + gain) / float64(length)
		avgLoss = (avgLoss*float64(length-1) + loss) / float64(length)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RollingMean computes a simple moving average; warmup positions are NaN.
// NaN inputs inside a window propagate to its output.
func RollingMean(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 || len(values) < window {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		sum := 0.0
		for j := i - window + 1; j <= i; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(window)
	}
	return out
}

// SwingHighs returns the indices of local maxima: bars whose high is greater
// than or equal to the highs of the surrounding order bars on each side.
func SwingHighs(highs []float64, order int) []int {
	return extrema(highs, order, func(a, b float64) bool { return a >= b })
}

// SwingLows returns the indices of local minima: bars whose low is less than
// or equal to the lows of the surrounding order bars on each side.
func SwingLows(lows []float64, order int) []int {
	return extrema(lows, order, func(a, b float64) bool { return a <= b })
}

func extrema(values []float64, order int, cmp func(a, b float64) bool) []int {
	var out []int
	for i := order; i < len(values)-order; i++ {
		ok := true
		for j := i - order; j <= i+order; j++ {
			if j == i {
				continue
			}
			if !cmp(values[i], values[j]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
