package ledger

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertPerformanceRecord(ctx context.Context, rec Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) LoadPerformanceRecords(ctx context.Context) ([]Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Record), args.Error(1)
}

func win(symbol string, dir int, pnl float64) Outcome {
	return Outcome{Symbol: symbol, Direction: dir, Predicted: dir, Actual: dir, PnL: pnl, Volatility: 0.02, Volume: 2_000_000}
}

func loss(symbol string, dir int, pnl float64) Outcome {
	return Outcome{Symbol: symbol, Direction: dir, Predicted: dir, Actual: -dir, PnL: pnl, Volatility: 0.02, Volume: 2_000_000}
}

func feed(t *testing.T, l *Ledger, outcomes ...Outcome) {
	t.Helper()
	for _, o := range outcomes {
		require.NoError(t, l.Record(context.Background(), o))
	}
}

func TestRecord(t *testing.T) {
	t.Run("accuracy is exact, never drifted", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		feed(t, l, win("BTC/USDT", Long, 0.01), win("BTC/USDT", Long, 0.012), loss("BTC/USDT", Long, -0.008))
		rec, ok := l.Snapshot("BTC/USDT", Long)
		require.True(t, ok)
		assert.Equal(t, 3, rec.TotalSignals)
		assert.Equal(t, 2, rec.CorrectPredictions)
		assert.InDelta(t, 2.0/3.0, rec.Accuracy, 1e-9)
	})

	t.Run("first sample seeds the averages", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		feed(t, l, win("ETH/USDT", Long, 0.02))
		rec, _ := l.Snapshot("ETH/USDT", Long)
		assert.InDelta(t, 0.02, rec.AvgPnL, 1e-9)
		assert.InDelta(t, 0.02, rec.AvgVolatility, 1e-9)
	})

	t.Run("later samples smooth exponentially", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		feed(t, l, win("ETH/USDT", Long, 0.02), win("ETH/USDT", Long, 0.04))
		rec, _ := l.Snapshot("ETH/USDT", Long)
		assert.InDelta(t, 0.9*0.02+0.1*0.04, rec.AvgPnL, 1e-9)
	})

	t.Run("duplicate trade ids are ignored", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		dup := win("SOL/USDT", Long, 0.01)
		dup.TradeID = "trade-1"
		feed(t, l, dup, dup, dup)
		rec, _ := l.Snapshot("SOL/USDT", Long)
		assert.Equal(t, 1, rec.TotalSignals)
	})

	t.Run("dedup set ages out the oldest ids", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		for i := 0; i < seenLimit+100; i++ {
			o := win("BTC/USDT", Long, 0.01)
			o.TradeID = "trade-" + strconv.Itoa(i)
			feed(t, l, o)
		}
		assert.LessOrEqual(t, len(l.seen), seenLimit)
		assert.LessOrEqual(t, len(l.seenOrder), seenLimit)
	})

	t.Run("directions keep separate records", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		feed(t, l, win("BTC/USDT", Long, 0.01), loss("BTC/USDT", Short, -0.01))
		long, _ := l.Snapshot("BTC/USDT", Long)
		short, _ := l.Snapshot("BTC/USDT", Short)
		assert.InDelta(t, 1.0, long.Accuracy, 1e-9)
		assert.InDelta(t, 0.0, short.Accuracy, 1e-9)
	})

	t.Run("recent ring is bounded", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RecentWindow = 5
		l := New(cfg, nil)
		for i := 0; i < 12; i++ {
			feed(t, l, win("BTC/USDT", Long, 0.01))
		}
		rec, _ := l.Snapshot("BTC/USDT", Long)
		assert.Len(t, rec.Recent, 5)
	})

	t.Run("invalid key rejected", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		assert.Error(t, l.Record(context.Background(), Outcome{Symbol: "", Direction: Long}))
		assert.Error(t, l.Record(context.Background(), Outcome{Symbol: "BTC/USDT", Direction: 0}))
	})

	t.Run("outcomes persist through the store", func(t *testing.T) {
		store := new(MockStore)
		store.On("UpsertPerformanceRecord", mock.Anything, mock.Anything).Return(nil)
		l := New(DefaultConfig(), store)
		feed(t, l, win("BTC/USDT", Long, 0.01))
		store.AssertNumberOfCalls(t, "UpsertPerformanceRecord", 1)
	})
}

func TestRecommend(t *testing.T) {
	t.Run("unknown key is learning phase", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		rec := l.Recommend("BTC/USDT", Long)
		assert.True(t, rec.ShouldTrade)
		assert.InDelta(t, 0.45, rec.Confidence, 1e-9)
		assert.Contains(t, rec.Reason, "learning")
	})

	t.Run("risk veto is absolute even with perfect accuracy", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		for i := 0; i < 10; i++ {
			o := win("BTC/USDT", Long, -0.05)
			o.Volatility = 0.30
			feed(t, l, o)
		}
		rec := l.Recommend("BTC/USDT", Long)
		snapshot, _ := l.Snapshot("BTC/USDT", Long)
		require.Greater(t, snapshot.RiskScore, 0.7)
		assert.False(t, rec.ShouldTrade)
		assert.Contains(t, rec.Reason, "risk veto")
	})

	t.Run("low accuracy blocks", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		feed(t, l,
			loss("BTC/USDT", Long, -0.01), loss("BTC/USDT", Long, -0.01),
			loss("BTC/USDT", Long, -0.01), loss("BTC/USDT", Long, -0.01),
			win("BTC/USDT", Long, 0.01))
		rec := l.Recommend("BTC/USDT", Long)
		assert.False(t, rec.ShouldTrade)
		assert.False(t, rec.SwitchDirection)
	})

	t.Run("a strong opposite record flips the direction", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		for i := 0; i < 5; i++ {
			feed(t, l, loss("BTC/USDT", Long, -0.01))
		}
		for i := 0; i < 5; i++ {
			feed(t, l, win("BTC/USDT", Short, 0.01))
		}
		rec := l.Recommend("BTC/USDT", Long)
		assert.True(t, rec.ShouldTrade)
		assert.True(t, rec.SwitchDirection)
		assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
	})

	t.Run("proven edge trades at its accuracy", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		feed(t, l,
			win("ETH/USDT", Long, 0.02), win("ETH/USDT", Long, 0.02),
			win("ETH/USDT", Long, 0.02), loss("ETH/USDT", Long, -0.01))
		rec := l.Recommend("ETH/USDT", Long)
		assert.True(t, rec.ShouldTrade)
		assert.InDelta(t, 0.75, rec.Confidence, 1e-9)
		assert.Contains(t, rec.Reason, "proven edge")
	})

	t.Run("accurate but unprofitable blocks", func(t *testing.T) {
		l := New(DefaultConfig(), nil)
		// Wins small, loses big: hit-rate 60% with negative expectancy.
		feed(t, l,
			win("SOL/USDT", Long, 0.002), win("SOL/USDT", Long, 0.002), win("SOL/USDT", Long, 0.002),
			loss("SOL/USDT", Long, -0.04), loss("SOL/USDT", Long, -0.04))
		rec := l.Recommend("SOL/USDT", Long)
		snapshot, _ := l.Snapshot("SOL/USDT", Long)
		require.Less(t, snapshot.AvgPnL, 0.0)
		require.LessOrEqual(t, snapshot.RiskScore, 0.7)
		assert.False(t, rec.ShouldTrade)
		assert.Contains(t, rec.Reason, "unprofitable")
	})
}

func TestLoad(t *testing.T) {
	t.Run("restores persisted records", func(t *testing.T) {
		store := new(MockStore)
		store.On("LoadPerformanceRecords", mock.Anything).Return([]Record{
			{Symbol: "BTC/USDT", Direction: Long, TotalSignals: 8, CorrectPredictions: 6, Accuracy: 0.75, AvgPnL: 0.01},
		}, nil)
		l := New(DefaultConfig(), store)
		require.NoError(t, l.Load(context.Background()))
		rec, ok := l.Snapshot("BTC/USDT", Long)
		require.True(t, ok)
		assert.Equal(t, 8, rec.TotalSignals)
		assert.InDelta(t, 0.75, rec.Accuracy, 1e-9)
	})

	t.Run("replay of the last trade after restart is ignored", func(t *testing.T) {
		store := new(MockStore)
		store.On("LoadPerformanceRecords", mock.Anything).Return([]Record{
			{Symbol: "BTC/USDT", Direction: Long, TotalSignals: 8, CorrectPredictions: 6, Accuracy: 0.75, LastTradeID: "trade-8"},
		}, nil)
		store.On("UpsertPerformanceRecord", mock.Anything, mock.Anything).Return(nil)
		l := New(DefaultConfig(), store)
		require.NoError(t, l.Load(context.Background()))

		replay := win("BTC/USDT", Long, 0.01)
		replay.TradeID = "trade-8"
		feed(t, l, replay)
		rec, _ := l.Snapshot("BTC/USDT", Long)
		assert.Equal(t, 8, rec.TotalSignals)

		next := win("BTC/USDT", Long, 0.01)
		next.TradeID = "trade-9"
		feed(t, l, next)
		rec, _ = l.Snapshot("BTC/USDT", Long)
		assert.Equal(t, 9, rec.TotalSignals)
		assert.Equal(t, "trade-9", rec.LastTradeID)
	})
}
