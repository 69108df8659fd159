package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntake(t *testing.T) {
	payload := []byte(`{"producer": "quant-desk", "direction": 0.7, "confidence": 0.8, "reliability": 0.6}`)

	t.Run("posted estimates reach the evaluation cycle", func(t *testing.T) {
		in := NewIntake(time.Hour)
		_, err := in.Submit("BTC/USDT", payload)
		require.NoError(t, err)

		est, err := in.Estimate(context.Background(), "BTC/USDT", nil)
		require.NoError(t, err)
		require.NotNil(t, est)
		assert.Equal(t, "quant-desk", est.Producer)
		assert.InDelta(t, 0.7, est.Direction, 1e-9)
	})

	t.Run("exchange-form symbols map to the internal form", func(t *testing.T) {
		in := NewIntake(time.Hour)
		_, err := in.Submit("BTCUSDT", payload)
		require.NoError(t, err)

		est, err := in.Estimate(context.Background(), "BTC/USDT", nil)
		require.NoError(t, err)
		assert.NotNil(t, est)
	})

	t.Run("stale estimates count as silence", func(t *testing.T) {
		in := NewIntake(time.Hour)
		_, err := in.Submit("BTC/USDT", payload)
		require.NoError(t, err)
		in.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

		est, err := in.Estimate(context.Background(), "BTC/USDT", nil)
		require.NoError(t, err)
		assert.Nil(t, est)
	})

	t.Run("a fresh post replaces the old one", func(t *testing.T) {
		in := NewIntake(time.Hour)
		_, err := in.Submit("BTC/USDT", payload)
		require.NoError(t, err)
		_, err = in.Submit("BTC/USDT", []byte(`{"direction": -0.4, "confidence": 0.5}`))
		require.NoError(t, err)

		est, err := in.Estimate(context.Background(), "BTC/USDT", nil)
		require.NoError(t, err)
		require.NotNil(t, est)
		assert.InDelta(t, -0.4, est.Direction, 1e-9)
		assert.Equal(t, "external", est.Producer)
	})

	t.Run("rejected payloads store nothing", func(t *testing.T) {
		in := NewIntake(time.Hour)
		_, err := in.Submit("BTC/USDT", []byte(`{"direction": 2.0, "confidence": 0.5}`))
		assert.Error(t, err)

		est, err := in.Estimate(context.Background(), "BTC/USDT", nil)
		require.NoError(t, err)
		assert.Nil(t, est)
	})

	t.Run("symbol is required", func(t *testing.T) {
		in := NewIntake(time.Hour)
		_, err := in.Submit("  ", payload)
		assert.Error(t, err)
	})

	t.Run("unknown symbol has no opinion", func(t *testing.T) {
		in := NewIntake(time.Hour)
		est, err := in.Estimate(context.Background(), "ETH/USDT", nil)
		require.NoError(t, err)
		assert.Nil(t, est)
	})
}
