package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/market"
)

func trendCandles(n int, start, step, span float64) []market.Candle {
	out := make([]market.Candle, n)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		out[i] = market.Candle{
			OpenTime:  base + int64(i)*3_600_000,
			CloseTime: base + int64(i+1)*3_600_000,
			Open:      c - step/2,
			High:      c + span,
			Low:       c - span,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func TestClassify(t *testing.T) {
	t.Run("clean uptrend is bull with high confidence", func(t *testing.T) {
		candles := trendCandles(30, 100, 0.5, 0.2)
		snap, err := Classify(candles, MinWindow)
		require.NoError(t, err)
		assert.Equal(t, Bull, snap.Type)
		assert.Greater(t, snap.Confidence, 0.85)
		assert.Greater(t, snap.TrendDirection, strongDirection)
	})

	t.Run("clean downtrend is bear", func(t *testing.T) {
		candles := trendCandles(30, 200, -0.8, 0.3)
		snap, err := Classify(candles, MinWindow)
		require.NoError(t, err)
		assert.Equal(t, Bear, snap.Type)
		assert.Less(t, snap.TrendDirection, -strongDirection)
	})

	t.Run("violent ranges classify as crash regardless of trend", func(t *testing.T) {
		// Span of 7 on a ~100 price puts ATR well above the crash bar.
		candles := trendCandles(30, 100, 0.5, 7)
		snap, err := Classify(candles, MinWindow)
		require.NoError(t, err)
		assert.Equal(t, Crash, snap.Type)
		assert.Greater(t, snap.VolatilityPct, crashVolPct)
	})

	t.Run("flat oscillation is choppy", func(t *testing.T) {
		candles := trendCandles(30, 100, 0, 1.5)
		for i := range candles {
			if i%2 == 0 {
				candles[i].Close += 1.0
			} else {
				candles[i].Close -= 1.0
			}
		}
		snap, err := Classify(candles, MinWindow)
		require.NoError(t, err)
		assert.Equal(t, Choppy, snap.Type)
		assert.Less(t, snap.TrendStrength, weakTrend)
	})

	t.Run("short history is insufficient data", func(t *testing.T) {
		candles := trendCandles(10, 100, 0.5, 0.2)
		_, err := Classify(candles, MinWindow)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("non-positive window length is a caller bug", func(t *testing.T) {
		_, err := Classify(trendCandles(30, 100, 0.5, 0.2), 0)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInsufficientData)
	})
}

func TestHasChanged(t *testing.T) {
	t.Run("type change needs confidence", func(t *testing.T) {
		prev := &Snapshot{Type: Bull, Confidence: 0.9, TrendDirection: 0.8}
		weak := &Snapshot{Type: Choppy, Confidence: 0.4, TrendDirection: 0.2}
		strong := &Snapshot{Type: Bear, Confidence: 0.7, TrendDirection: -0.3}
		assert.False(t, HasChanged(prev, weak))
		assert.True(t, HasChanged(prev, strong))
	})

	t.Run("direction flip triggers even without type change", func(t *testing.T) {
		prev := &Snapshot{Type: Choppy, Confidence: 0.5, TrendDirection: 0.4}
		next := &Snapshot{Type: Choppy, Confidence: 0.5, TrendDirection: -0.6}
		assert.True(t, HasChanged(prev, next))
	})

	t.Run("nil snapshots never change", func(t *testing.T) {
		assert.False(t, HasChanged(nil, &Snapshot{}))
		assert.False(t, HasChanged(&Snapshot{}, nil))
	})
}

func TestOpposite(t *testing.T) {
	assert.True(t, Opposite(Bull, Bear))
	assert.True(t, Opposite(Bear, Bull))
	assert.False(t, Opposite(Bull, Crash))
	assert.False(t, Opposite(Choppy, Choppy))
}
