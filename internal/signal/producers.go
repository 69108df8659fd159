package signal

import (
	"context"
	"math"

	"chorus/internal/analysis/indicator"
	"chorus/internal/market"
)

// TrendProducer reads the linear fit of the window: slope direction and the
// fit quality become direction and confidence.
type TrendProducer struct {
	SaturationPct float64 // window move that saturates direction to ±1
}

func (TrendProducer) Name() string { return "trend" }

func (p TrendProducer) Estimate(_ context.Context, _ string, window []market.Candle) (*Estimate, error) {
	if len(window) < 10 {
		return nil, nil
	}
	closes := market.ToSeries(window).Closes
	slope, r2 := indicator.LinearTrend(closes)
	meanClose := mean(closes)
	if meanClose <= 0 {
		return nil, nil
	}
	saturation := p.SaturationPct
	if saturation <= 0 {
		saturation = 0.10
	}
	move := slope * float64(len(closes)-1) / meanClose
	direction := clamp(move/saturation, -1, 1)
	if math.Abs(direction) < 0.05 {
		return nil, nil
	}
	e := Estimate{
		Producer:          "trend",
		Direction:         direction,
		Confidence:        r2,
		ExpectedMagnitude: math.Abs(move) / 2,
		Reliability:       0.6,
	}
	e = e.Clamped()
	return &e, nil
}

// MomentumProducer votes with the short-term rate of change confirmed by the
// fast/slow EMA spread.
type MomentumProducer struct {
	ROCPeriod int
	FastEMA   int
	SlowEMA   int
}

func (MomentumProducer) Name() string { return "momentum" }

func (p MomentumProducer) Estimate(_ context.Context, _ string, window []market.Candle) (*Estimate, error) {
	fast, slow := p.FastEMA, p.SlowEMA
	if fast <= 0 {
		fast = 9
	}
	if slow <= 0 {
		slow = 21
	}
	rocPeriod := p.ROCPeriod
	if rocPeriod <= 0 {
		rocPeriod = 5
	}
	if len(window) < slow+1 {
		return nil, nil
	}
	closes := market.ToSeries(window).Closes
	roc := indicator.ROC(closes, rocPeriod)
	fastEMA := indicator.EMA(closes, fast)
	slowEMA := indicator.EMA(closes, slow)
	if fastEMA <= 0 || slowEMA <= 0 {
		return nil, nil
	}

	rocDir := clamp(roc/2.0, -1, 1) // ±2% ROC saturates
	spreadDir := clamp((fastEMA-slowEMA)/slowEMA/0.01, -1, 1)
	if rocDir*spreadDir < 0 {
		// ROC and EMA spread disagree: no opinion this cycle.
		return nil, nil
	}
	direction := (rocDir + spreadDir) / 2
	if math.Abs(direction) < 0.05 {
		return nil, nil
	}
	e := Estimate{
		Producer:          "momentum",
		Direction:         direction,
		Confidence:        math.Abs(direction),
		ExpectedMagnitude: math.Abs(roc) / 100,
		Reliability:       0.55,
	}
	e = e.Clamped()
	return &e, nil
}

// MeanReversionProducer fades stretches: a close far from the window mean,
// expressed in ATR units, argues for a snap back.
type MeanReversionProducer struct {
	ATRPeriod  int
	StretchATR float64 // ATR multiples at which the fade saturates
	MinStretch float64 // ATR multiples below which there is no opinion
}

func (MeanReversionProducer) Name() string { return "meanreversion" }

func (p MeanReversionProducer) Estimate(_ context.Context, _ string, window []market.Candle) (*Estimate, error) {
	period := p.ATRPeriod
	if period <= 0 {
		period = 14
	}
	if len(window) <= period {
		return nil, nil
	}
	atr, err := indicator.ATR(window, period)
	if err != nil || atr <= 0 {
		return nil, nil
	}
	closes := market.ToSeries(window).Closes
	meanClose := mean(closes)
	last := closes[len(closes)-1]

	stretch := (last - meanClose) / atr
	minStretch := p.MinStretch
	if minStretch <= 0 {
		minStretch = 1.5
	}
	saturation := p.StretchATR
	if saturation <= 0 {
		saturation = 3.0
	}
	if math.Abs(stretch) < minStretch {
		return nil, nil
	}
	// Fade the stretch: direction opposes the excursion.
	direction := clamp(-stretch/saturation, -1, 1)
	e := Estimate{
		Producer:          "meanreversion",
		Direction:         direction,
		Confidence:        clamp(math.Abs(stretch)/saturation, 0, 1),
		ExpectedMagnitude: math.Abs(last-meanClose) / last / 2,
		Reliability:       0.5,
	}
	e = e.Clamped()
	return &e, nil
}

// DefaultProducers is the built-in producer set used when no external
// estimates are wired in.
func DefaultProducers() []Producer {
	return []Producer{
		TrendProducer{},
		MomentumProducer{},
		MeanReversionProducer{},
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
