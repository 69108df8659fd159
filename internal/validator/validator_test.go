package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/market"
)

// flatCandles returns n bars with every OHLC field pinned at price.
func flatCandles(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{Open: price, High: price, Low: price, Close: price, Volume: 1000}
	}
	return out
}

func TestValidateInput(t *testing.T) {
	v := New(DefaultConfig())
	candles := flatCandles(10, 100)

	_, err := v.Validate(Input{Symbol: "BTC/USDT", Direction: 0, CurrentPrice: 100, Candles: candles})
	assert.Error(t, err)

	_, err = v.Validate(Input{Symbol: "BTC/USDT", Direction: 1, CurrentPrice: 0, Candles: candles})
	assert.Error(t, err)

	_, err = v.Validate(Input{Symbol: "BTC/USDT", Direction: 1, CurrentPrice: 100, Candles: candles[:1]})
	assert.Error(t, err)
}

func TestTargets(t *testing.T) {
	t.Run("short history falls back to fixed percentages", func(t *testing.T) {
		v := New(DefaultConfig())
		res, err := v.Validate(Input{
			Symbol:          "BTC/USDT",
			Direction:       1,
			CurrentPrice:    100,
			Candles:         flatCandles(10, 100),
			FusedConfidence: 0.8,
		})
		require.NoError(t, err)
		assert.InDelta(t, 99.0, res.Targets.Stop, 1e-9)
		assert.InDelta(t, 102.5, res.Targets.Target, 1e-9)
		assert.InDelta(t, 2.5, res.Targets.RiskReward, 1e-9)
		assert.Equal(t, PhaseTooEarly, res.Phase)
		assert.Empty(t, res.Blockers)
		assert.True(t, res.ShouldEnter)
	})

	t.Run("short entries mirror the long levels", func(t *testing.T) {
		v := New(DefaultConfig())
		res, err := v.Validate(Input{
			Symbol:       "BTC/USDT",
			Direction:    -1,
			CurrentPrice: 100,
			Candles:      flatCandles(10, 100),
		})
		require.NoError(t, err)
		assert.InDelta(t, 101.0, res.Targets.Stop, 1e-9)
		assert.InDelta(t, 97.5, res.Targets.Target, 1e-9)
		assert.InDelta(t, 2.5, res.Targets.RiskReward, 1e-9)
	})

	t.Run("resistance caps the target", func(t *testing.T) {
		// Constant true range of 2 makes ATR exactly 2: stop 1.5*2 away,
		// raw target 2.5*2 away but capped at the 101 range high.
		candles := make([]market.Candle, 30)
		for i := range candles {
			candles[i] = market.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}
		}
		v := New(DefaultConfig())
		res, err := v.Validate(Input{
			Symbol:         "BTC/USDT",
			Direction:      1,
			CurrentPrice:   100,
			Candles:        candles,
			FusedMagnitude: 0.02,
		})
		require.NoError(t, err)
		assert.InDelta(t, 97.0, res.Targets.Stop, 1e-9)
		assert.InDelta(t, 101.0, res.Targets.Target, 1e-9)
		assert.Less(t, res.Targets.RiskReward, 2.0)
		assert.False(t, res.ShouldEnter)
		require.NotEmpty(t, res.Blockers)
		assert.Contains(t, res.Blockers[0], "risk/reward")
	})

	t.Run("fused magnitude caps the target", func(t *testing.T) {
		// ATR 8 would place the target 20 away; a 1% fused magnitude
		// promises only 1.0, and the smaller distance wins.
		candles := make([]market.Candle, 30)
		for i := range candles {
			candles[i] = market.Candle{Open: 100, High: 104, Low: 96, Close: 100, Volume: 1000}
		}
		v := New(DefaultConfig())
		res, err := v.Validate(Input{
			Symbol:         "BTC/USDT",
			Direction:      1,
			CurrentPrice:   100,
			Candles:        candles,
			FusedMagnitude: 0.01,
		})
		require.NoError(t, err)
		assert.InDelta(t, 88.0, res.Targets.Stop, 1e-9)
		assert.InDelta(t, 101.0, res.Targets.Target, 1e-9)
		assert.False(t, res.ShouldEnter)
	})
}

func TestPhase(t *testing.T) {
	// Five flat bars then five spanning 100-110. The timing window reaches
	// one bar past the last five, so the move is measured from a close of
	// 100 against what is left to the target.
	base := flatCandles(5, 100)
	var ranged []market.Candle
	for i := 0; i < 5; i++ {
		ranged = append(ranged, market.Candle{Open: 103, High: 110, Low: 100, Close: 105, Volume: 1000})
	}
	candles := append(base, ranged...)
	v := New(DefaultConfig())

	t.Run("no movement yet is early", func(t *testing.T) {
		res, err := v.Validate(Input{Symbol: "BTC/USDT", Direction: 1, CurrentPrice: 100, Candles: flatCandles(10, 100)})
		require.NoError(t, err)
		assert.Equal(t, PhaseTooEarly, res.Phase)
	})

	t.Run("a third of the expected move done is optimal", func(t *testing.T) {
		res, err := v.Validate(Input{Symbol: "BTC/USDT", Direction: 1, CurrentPrice: 101, Candles: candles})
		require.NoError(t, err)
		assert.Equal(t, PhaseOptimal, res.Phase)
	})

	t.Run("most of the move done is late", func(t *testing.T) {
		res, err := v.Validate(Input{Symbol: "BTC/USDT", Direction: 1, CurrentPrice: 108, Candles: candles})
		require.NoError(t, err)
		assert.Equal(t, PhaseTooLate, res.Phase)
		assert.False(t, res.ShouldEnter)
		assert.Contains(t, res.Blockers, "move mostly played out")
	})

	t.Run("almost nothing left to the target is a miss", func(t *testing.T) {
		res, err := v.Validate(Input{Symbol: "BTC/USDT", Direction: 1, CurrentPrice: 109.5, Candles: candles})
		require.NoError(t, err)
		assert.Equal(t, PhaseMiss, res.Phase)
		assert.Contains(t, res.Blockers, "move already complete")
	})

	t.Run("shorts measure movement in their own direction", func(t *testing.T) {
		res, err := v.Validate(Input{Symbol: "BTC/USDT", Direction: -1, CurrentPrice: 109.5, Candles: candles})
		require.NoError(t, err)
		assert.Equal(t, PhaseTooEarly, res.Phase)
	})
}

func TestMomentumConflict(t *testing.T) {
	// Strictly falling closes against a long entry.
	candles := make([]market.Candle, 12)
	price := 111.0
	for i := range candles {
		candles[i] = market.Candle{Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: 1000}
		price--
	}
	v := New(DefaultConfig())
	res, err := v.Validate(Input{Symbol: "BTC/USDT", Direction: 1, CurrentPrice: 100, Candles: candles})
	require.NoError(t, err)
	assert.False(t, res.ShouldEnter)
	assert.Contains(t, res.Blockers, "momentum opposes entry direction")
}

func TestScore(t *testing.T) {
	// Flat-series fixture: rrScore 0.625, momentum neutral 0.5, phase
	// too_early. Weighted 35/30/20/15 for momentum/timing/confidence/rr.
	validate := func(t *testing.T, conf float64) *Result {
		t.Helper()
		v := New(DefaultConfig())
		res, err := v.Validate(Input{
			Symbol:          "BTC/USDT",
			Direction:       1,
			CurrentPrice:    100,
			Candles:         flatCandles(10, 100),
			FusedConfidence: conf,
		})
		require.NoError(t, err)
		return res
	}

	t.Run("components carry their assigned weights", func(t *testing.T) {
		res := validate(t, 1.0)
		assert.InDelta(t, 0.35*0.5+0.30*0.6+0.20*1.0+0.15*0.625, res.Score, 1e-9)
		assert.InDelta(t, 0.64875, res.Score, 1e-9)
	})

	t.Run("upstream confidence moves the score by exactly its weight", func(t *testing.T) {
		full := validate(t, 1.0)
		none := validate(t, 0)
		assert.InDelta(t, 0.20, full.Score-none.Score, 1e-9)
	})

	t.Run("a score under the bar blocks without blockers", func(t *testing.T) {
		res := validate(t, 0)
		assert.Empty(t, res.Blockers)
		assert.False(t, res.ShouldEnter)
		assert.Zero(t, res.Confidence)
		assert.InDelta(t, 0.44875, res.Score, 1e-9)
	})
}
