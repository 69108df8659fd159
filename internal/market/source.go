package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Source supplies ordered OHLCV history per symbol. Implementations fetch
// from an exchange or replay a fixed window; the decision core only ever
// reads the trailing window.
type Source interface {
	Candles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// StaticSource serves pre-loaded windows, used in tests and replay runs.
type StaticSource struct {
	mu      sync.RWMutex
	windows map[string][]Candle
}

func NewStaticSource() *StaticSource {
	return &StaticSource{windows: make(map[string][]Candle)}
}

func (s *StaticSource) Set(symbol string, candles []Candle) {
	s.mu.Lock()
	s.windows[strings.ToUpper(symbol)] = append([]Candle(nil), candles...)
	s.mu.Unlock()
}

func (s *StaticSource) Candles(_ context.Context, symbol string, limit int) ([]Candle, error) {
	s.mu.RLock()
	window, ok := s.windows[strings.ToUpper(symbol)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no candle data for %s", symbol)
	}
	return Tail(window, limit), nil
}
