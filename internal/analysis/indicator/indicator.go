package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"chorus/internal/market"
)

// ATR returns the latest average true range over the window.
func ATR(candles []market.Candle, period int) (float64, error) {
	if period <= 0 {
		period = 14
	}
	if len(candles) <= period {
		return 0, fmt.Errorf("atr needs more than %d candles, got %d", period, len(candles))
	}
	s := market.ToSeries(candles)
	series := sanitizeSeries(talib.Atr(s.Highs, s.Lows, s.Closes, period))
	if len(series) == 0 {
		return 0, fmt.Errorf("atr series empty")
	}
	return lastValid(series), nil
}

// ROC returns the latest rate of change in percent over the period.
func ROC(closes []float64, period int) float64 {
	if period <= 0 {
		period = 5
	}
	if len(closes) <= period {
		return 0
	}
	return lastValid(sanitizeSeries(talib.Roc(closes, period)))
}

// EMA returns the latest exponential moving average value.
func EMA(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period {
		return 0
	}
	return lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, period))))
}

// LinearTrend fits closing price over bar index by least squares and
// returns the slope together with the fit's R².
func LinearTrend(closes []float64) (slope, r2 float64) {
	n := float64(len(closes))
	if n < 2 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range closes {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, y := range closes {
		fit := intercept + slope*float64(i)
		ssTot += (y - meanY) * (y - meanY)
		ssRes += (y - fit) * (y - fit)
	}
	if ssTot == 0 {
		// Perfectly flat series: no trend, but also no residual.
		return slope, 0
	}
	r2 = 1 - ssRes/ssTot
	if r2 < 0 {
		r2 = 0
	} else if r2 > 1 {
		r2 = 1
	}
	return slope, r2
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// trimLeadingZeros drops TALib's zero-seeded warmup values.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && math.Abs(series[start]) <= 1e-9 {
		start++
	}
	return series[start:]
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}
