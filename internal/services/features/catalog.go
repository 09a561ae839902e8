package features

import (
	"math"

	"FinTrain/internal/domain/models"
)

// Rolling window sizes for the engineered columns. The warm-up of the
// whole frame is the longest one (ma_50), so every build trims the same
// prefix no matter which columns the schema selects.
const (
	rsiPeriod    = 14
	shortWindow  = 20
	longWindow   = 50
	emaFastSpan  = 12
	emaSlowSpan  = 26
	signalSpan   = 9
	bollingerStd = 2.0
)

// Catalog lists every feature the builder can derive, base columns first.
func Catalog() []string {
	return []string{
		"close", "volume", "high", "low", "open",
		"returns", "volatility", "rsi",
		"ma_20", "ma_50",
		"price_position", "volume_ratio", "high_low_ratio", "close_open_ratio",
		"macd", "macd_signal",
		"bollinger_upper", "bollinger_lower",
		"ema_12", "ema_26",
	}
}

// engineer computes the full catalog over a series. Undefined prefix values
// are NaN; interior values are always finite (ratio columns guard their
// denominators instead of emitting NaN mid-series).
func engineer(s models.MarketSeries) map[string][]float64 {
	n := s.Len()
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range s.Candles {
		open[i] = c.Open
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volume[i] = c.Volume
	}

	returns := pctChange(closes)
	volumeMA := rollingMean(volume, shortWindow)
	ma20 := rollingMean(closes, shortWindow)
	std20 := rollingStd(closes, shortWindow)
	ema12 := ema(closes, emaFastSpan)
	ema26 := ema(closes, emaSlowSpan)
	macd := sub(ema12, ema26)

	cols := map[string][]float64{
		"open":        open,
		"high":        high,
		"low":         low,
		"close":       closes,
		"volume":      volume,
		"returns":     returns,
		"volatility":  rollingStd(returns, shortWindow),
		"rsi":         rsi(closes, rsiPeriod),
		"ma_20":       ma20,
		"ma_50":       rollingMean(closes, longWindow),
		"ema_12":      ema12,
		"ema_26":      ema26,
		"macd":        macd,
		"macd_signal": ema(macd, signalSpan),
	}

	pricePos := make([]float64, n)
	hlRatio := make([]float64, n)
	coRatio := make([]float64, n)
	for i := 0; i < n; i++ {
		spread := high[i] - low[i]
		if spread > 0 {
			pricePos[i] = (closes[i] - low[i]) / spread
		} else {
			pricePos[i] = 0.5
		}
		if low[i] > 0 {
			hlRatio[i] = high[i] / low[i]
		} else {
			hlRatio[i] = 1
		}
		if open[i] > 0 {
			coRatio[i] = closes[i] / open[i]
		} else {
			coRatio[i] = 1
		}
	}
	cols["price_position"] = pricePos
	cols["high_low_ratio"] = hlRatio
	cols["close_open_ratio"] = coRatio

	volRatio := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case math.IsNaN(volumeMA[i]):
			volRatio[i] = math.NaN()
		case volumeMA[i] > 0:
			volRatio[i] = volume[i] / volumeMA[i]
		default:
			volRatio[i] = 1
		}
	}
	cols["volume_ratio"] = volRatio

	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(ma20[i]) || math.IsNaN(std20[i]) {
			upper[i] = math.NaN()
			lower[i] = math.NaN()
			continue
		}
		upper[i] = ma20[i] + bollingerStd*std20[i]
		lower[i] = ma20[i] - bollingerStd*std20[i]
	}
	cols["bollinger_upper"] = upper
	cols["bollinger_lower"] = lower

	return cols
}

// warmUpRows is the first index where every catalog column is defined.
// ma_50 dominates: a 50-bar mean is first complete at index 49.
func warmUpRows() int {
	return longWindow - 1
}

// pctChange computes simple returns r_t = C_t/C_{t-1} - 1. NaN at index 0.
func pctChange(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(xs); i++ {
		if xs[i-1] != 0 {
			out[i] = xs[i]/xs[i-1] - 1
		} else {
			out[i] = 0
		}
	}
	return out
}

// rollingMean computes a w-bar mean; NaN until the window is full or while
// it still contains an undefined input.
func rollingMean(xs []float64, w int) []float64 {
	out := make([]float64, len(xs))
	for i := range out {
		out[i] = math.NaN()
		if i+1 < w {
			continue
		}
		sum := 0.0
		ok := true
		for j := i + 1 - w; j <= i; j++ {
			if math.IsNaN(xs[j]) {
				ok = false
				break
			}
			sum += xs[j]
		}
		if ok {
			out[i] = sum / float64(w)
		}
	}
	return out
}

// rollingStd computes a w-bar sample standard deviation (n-1 divisor).
func rollingStd(xs []float64, w int) []float64 {
	out := make([]float64, len(xs))
	for i := range out {
		out[i] = math.NaN()
		if i+1 < w || w < 2 {
			continue
		}
		sum := 0.0
		ok := true
		for j := i + 1 - w; j <= i; j++ {
			if math.IsNaN(xs[j]) {
				ok = false
				break
			}
			sum += xs[j]
		}
		if !ok {
			continue
		}
		mean := sum / float64(w)
		sum2 := 0.0
		for j := i + 1 - w; j <= i; j++ {
			d := xs[j] - mean
			sum2 += d * d
		}
		out[i] = math.Sqrt(sum2 / float64(w-1))
	}
	return out
}

// rsi computes the relative strength index from rolling mean gain/loss.
// A window with zero losses reads 100; a fully flat window reads 50.
func rsi(closes []float64, period int) []float64 {
	n := len(closes)
	gains := make([]float64, n)
	losses := make([]float64, n)
	gains[0] = math.NaN()
	losses[0] = math.NaN()
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	gainMA := rollingMean(gains, period)
	lossMA := rollingMean(losses, period)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case math.IsNaN(gainMA[i]) || math.IsNaN(lossMA[i]):
			out[i] = math.NaN()
		case lossMA[i] == 0 && gainMA[i] == 0:
			out[i] = 50
		case lossMA[i] == 0:
			out[i] = 100
		default:
			rs := gainMA[i] / lossMA[i]
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// ema computes an exponential moving average with alpha = 2/(span+1),
// seeded on the first value so it is defined from index 0.
func ema(xs []float64, span int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
