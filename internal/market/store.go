package market

import (
	"strings"
	"sync"
)

// Store keeps a bounded rolling candle window per symbol so the evaluation
// cycle reads already-fetched data instead of hitting the source mid-cycle.
type Store struct {
	mu        sync.RWMutex
	maxCached int
	windows   map[string][]Candle
}

func NewStore(maxCached int) *Store {
	if maxCached <= 0 {
		maxCached = 500
	}
	return &Store{
		maxCached: maxCached,
		windows:   make(map[string][]Candle),
	}
}

// Replace swaps in a freshly fetched window, trimming to the cache bound.
func (s *Store) Replace(symbol string, candles []Candle) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return
	}
	trimmed := Tail(candles, s.maxCached)
	s.mu.Lock()
	s.windows[key] = append([]Candle(nil), trimmed...)
	s.mu.Unlock()
}

// Append adds one closed candle, dropping the oldest when full.
func (s *Store) Append(symbol string, c Candle) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return
	}
	s.mu.Lock()
	window := append(s.windows[key], c)
	s.windows[key] = Tail(window, s.maxCached)
	s.mu.Unlock()
}

// Window returns a copy of the last n candles for the symbol.
func (s *Store) Window(symbol string, n int) []Candle {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	s.mu.RLock()
	window := s.windows[key]
	out := append([]Candle(nil), Tail(window, n)...)
	s.mu.RUnlock()
	return out
}

func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows[strings.ToUpper(strings.TrimSpace(symbol))])
}
