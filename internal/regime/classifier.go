package regime

import (
	"errors"
	"fmt"
	"math"
	"time"

	"chorus/internal/analysis/indicator"
	"chorus/internal/market"
)

// Type labels the coarse market environment.
type Type string

const (
	Bull   Type = "bull"
	Bear   Type = "bear"
	Choppy Type = "choppy"
	Crash  Type = "crash"
)

// MinWindow is the smallest candle history the classifier accepts.
const MinWindow = 20

// ErrInsufficientData signals that the window is too short to classify.
// Callers treat it as "skip this instrument this cycle".
var ErrInsufficientData = errors.New("regime: insufficient candle history")

// Snapshot is one regime classification. The orchestrator holds the latest
// one; only the previous snapshot is kept around for change detection.
type Snapshot struct {
	Type           Type      `json:"type"`
	Confidence     float64   `json:"confidence"`
	TrendStrength  float64   `json:"trend_strength"`
	TrendDirection float64   `json:"trend_direction"`
	VolatilityPct  float64   `json:"volatility_pct"`
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
}

// Classification thresholds. The trend saturation constant maps a 10% move
// across the window to full trend direction ±1.
const (
	crashVolPct       = 5.0
	crashVolCapPct    = 10.0
	strongTrend       = 0.7
	strongDirection   = 0.5
	weakTrend         = 0.4
	quietVolPct       = 1.5
	trendSaturationPct = 0.10
	atrPeriod         = 14
)

// Classify labels the current environment from the trailing candle window.
// minLen below MinWindow is raised to MinWindow; a non-positive minLen is a
// caller bug.
func Classify(candles []market.Candle, minLen int) (*Snapshot, error) {
	if minLen <= 0 {
		return nil, fmt.Errorf("regime: invalid window length %d", minLen)
	}
	if minLen < MinWindow {
		minLen = MinWindow
	}
	if len(candles) < minLen {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(candles), minLen)
	}

	s := market.ToSeries(candles)
	meanClose := mean(s.Closes)
	if meanClose <= 0 {
		return nil, fmt.Errorf("regime: non-positive mean close")
	}

	slope, r2 := indicator.LinearTrend(s.Closes)
	strength := r2
	projected := slope * float64(len(s.Closes)-1) / meanClose
	direction := clamp(projected/trendSaturationPct, -1, 1)

	atr, err := indicator.ATR(candles, atrPeriod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}
	volPct := atr / meanClose * 100

	snap := &Snapshot{
		TrendStrength:  strength,
		TrendDirection: direction,
		VolatilityPct:  volPct,
		Timestamp:      closeTime(candles),
	}

	switch {
	case volPct > crashVolPct:
		snap.Type = Crash
		snap.Confidence = math.Min(1, volPct/crashVolCapPct)
		snap.Reason = fmt.Sprintf("volatility %.1f%% above crash threshold", volPct)
	case strength > strongTrend && direction > strongDirection:
		snap.Type = Bull
		snap.Confidence = strength
		snap.Reason = fmt.Sprintf("strong uptrend (r2=%.2f, dir=%.2f)", strength, direction)
	case strength > strongTrend && direction < -strongDirection:
		snap.Type = Bear
		snap.Confidence = strength
		snap.Reason = fmt.Sprintf("strong downtrend (r2=%.2f, dir=%.2f)", strength, direction)
	case strength < weakTrend || volPct < quietVolPct:
		snap.Type = Choppy
		snap.Confidence = clamp(1-strength, 0, 1)
		snap.Reason = fmt.Sprintf("no directional trend (r2=%.2f, vol=%.1f%%)", strength, volPct)
	default:
		snap.Type = Choppy
		snap.Confidence = 0.5
		snap.Reason = "transitional: trend forming but direction unconfirmed"
	}
	return snap, nil
}

// HasChanged reports whether the new snapshot invalidates judgments made
// under the previous one. This is the single regime-change signal other
// components key off.
func HasChanged(prev, next *Snapshot) bool {
	if prev == nil || next == nil {
		return false
	}
	if next.Type != prev.Type && next.Confidence > 0.6 {
		return true
	}
	flipped := prev.TrendDirection*next.TrendDirection < 0
	return flipped && math.Abs(next.TrendDirection) > 0.5
}

// Opposite reports whether two regime types are direct opposites (bull/bear).
func Opposite(a, b Type) bool {
	return (a == Bull && b == Bear) || (a == Bear && b == Bull)
}

func closeTime(candles []market.Candle) time.Time {
	last := candles[len(candles)-1]
	if last.CloseTime > 0 {
		return time.UnixMilli(last.CloseTime)
	}
	return time.Now()
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

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
