package exclusion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/regime"
)

func bearMarket(conf float64) regime.Snapshot {
	return regime.Snapshot{Type: regime.Bear, Confidence: conf}
}

func bullMarket(conf float64) regime.Snapshot {
	return regime.Snapshot{Type: regime.Bull, Confidence: conf}
}

func exclude(t *testing.T, l *List, symbol string, snap regime.Snapshot) {
	t.Helper()
	added, err := l.Add(context.Background(), symbol, 0.20, 25, snap, "persistent losses")
	require.NoError(t, err)
	require.True(t, added)
}

func TestAdd(t *testing.T) {
	t.Run("evidence floor blocks thin records", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		added, err := l.Add(context.Background(), "BTC/USDT", 0.10, 5, bearMarket(0.9), "losses")
		require.NoError(t, err)
		assert.False(t, added)
	})

	t.Run("accuracy at the bar is not excluded", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		added, err := l.Add(context.Background(), "BTC/USDT", 0.30, 25, bearMarket(0.9), "losses")
		require.NoError(t, err)
		assert.False(t, added)
	})

	t.Run("records the regime and sets a TTL", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		exclude(t, l, "BTC/USDT", bearMarket(0.9))
		excluded, entry := l.IsExcluded("BTC/USDT", bearMarket(0.9))
		require.True(t, excluded)
		assert.Equal(t, regime.Bear, entry.RegimeAtExclusion)
		require.NotNil(t, entry.ExpiresAt)
		assert.Equal(t, 7*24*time.Hour, entry.ExpiresAt.Sub(entry.CreatedAt))
	})
}

func TestIsExcluded(t *testing.T) {
	t.Run("same regime stays barred", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		exclude(t, l, "BTC/USDT", bearMarket(0.9))
		excluded, _ := l.IsExcluded("BTC/USDT", bearMarket(0.95))
		assert.True(t, excluded)
	})

	t.Run("expired entries are released", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		exclude(t, l, "BTC/USDT", bearMarket(0.9))
		l.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
		excluded, _ := l.IsExcluded("BTC/USDT", bearMarket(0.9))
		assert.False(t, excluded)
		assert.Empty(t, l.Entries())
	})

	t.Run("different regime below the bar stays barred", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		exclude(t, l, "BTC/USDT", bearMarket(0.9))
		excluded, _ := l.IsExcluded("BTC/USDT", regime.Snapshot{Type: regime.Choppy, Confidence: 0.5})
		assert.True(t, excluded)
	})

	t.Run("different regime with solid confidence escapes", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		exclude(t, l, "BTC/USDT", bearMarket(0.9))
		excluded, _ := l.IsExcluded("BTC/USDT", regime.Snapshot{Type: regime.Choppy, Confidence: 0.65})
		assert.False(t, excluded)
	})

	t.Run("opposite regime needs strong confidence", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		l.cfg.EscapeConfidence = 0.95 // isolate the flip path
		exclude(t, l, "BTC/USDT", bearMarket(0.9))

		excluded, _ := l.IsExcluded("BTC/USDT", bullMarket(0.65))
		assert.True(t, excluded)

		excluded, _ = l.IsExcluded("BTC/USDT", bullMarket(0.75))
		assert.False(t, excluded)
	})

	t.Run("unknown symbol is never barred", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		excluded, _ := l.IsExcluded("ETH/USDT", bearMarket(0.9))
		assert.False(t, excluded)
	})
}

func TestPruneExpired(t *testing.T) {
	l := New(DefaultConfig(), nil)
	exclude(t, l, "BTC/USDT", bearMarket(0.9))
	exclude(t, l, "ETH/USDT", bearMarket(0.9))
	assert.Zero(t, l.PruneExpired())

	l.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	assert.Equal(t, 2, l.PruneExpired())
	assert.Empty(t, l.Entries())
}

func TestResetForRegimeChange(t *testing.T) {
	l := New(DefaultConfig(), nil)
	exclude(t, l, "BTC/USDT", bearMarket(0.9))
	exclude(t, l, "ETH/USDT", bearMarket(0.85))
	exclude(t, l, "SOL/USDT", bullMarket(0.9))

	released := l.ResetForRegimeChange(regime.Bear, regime.Bull)
	assert.Equal(t, 2, released)

	excluded, _ := l.IsExcluded("SOL/USDT", bullMarket(0.5))
	assert.True(t, excluded)
	assert.Len(t, l.Entries(), 1)
}
