package exclusion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chorus/internal/logger"
	"chorus/internal/regime"
)

// Entry is one excluded instrument with the evidence that put it there.
type Entry struct {
	Symbol              string      `json:"symbol"`
	Reason              string      `json:"reason"`
	AccuracyAtExclusion float64     `json:"accuracy_at_exclusion"`
	TradesAtExclusion   int         `json:"trades_at_exclusion"`
	RegimeAtExclusion   regime.Type `json:"regime_at_exclusion"`
	CreatedAt           time.Time   `json:"created_at"`
	ExpiresAt           *time.Time  `json:"expires_at,omitempty"`
}

// Expired reports whether the entry's TTL has passed at t.
func (e Entry) Expired(t time.Time) bool {
	return e.ExpiresAt != nil && !t.Before(*e.ExpiresAt)
}

// Store persists entries across restarts. The list works without one.
type Store interface {
	UpsertExclusionEntry(ctx context.Context, e Entry) error
	DeleteExclusionEntry(ctx context.Context, symbol string) error
	LoadExclusionEntries(ctx context.Context) ([]Entry, error)
}

// Config holds the exclusion tuning. Zero values fall back to defaults.
type Config struct {
	MinTrades        int           `mapstructure:"min_trades"`        // evidence floor before excluding
	MaxAccuracy      float64       `mapstructure:"max_accuracy"`      // exclude below this hit-rate
	TTL              time.Duration `mapstructure:"ttl"`               // entry lifetime
	EscapeConfidence float64       `mapstructure:"escape_confidence"` // different-regime escape bar
	FlipConfidence   float64       `mapstructure:"flip_confidence"`   // opposite-regime escape bar
}

func DefaultConfig() Config {
	return Config{
		MinTrades:        20,
		MaxAccuracy:      0.30,
		TTL:              7 * 24 * time.Hour,
		EscapeConfidence: 0.6,
		FlipConfidence:   0.7,
	}
}

// List is the regime-aware exclusion list. An instrument excluded under one
// market regime is reconsidered when conditions demonstrably change.
type List struct {
	cfg   Config
	store Store
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

func New(cfg Config, store Store) *List {
	def := DefaultConfig()
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = def.MinTrades
	}
	if cfg.MaxAccuracy <= 0 {
		cfg.MaxAccuracy = def.MaxAccuracy
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.EscapeConfidence <= 0 {
		cfg.EscapeConfidence = def.EscapeConfidence
	}
	if cfg.FlipConfidence <= 0 {
		cfg.FlipConfidence = def.FlipConfidence
	}
	return &List{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// Load restores persisted entries, dropping any that expired while down.
func (l *List) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	entries, err := l.store.LoadExclusionEntries(ctx)
	if err != nil {
		return fmt.Errorf("exclusion load: %w", err)
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := 0
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		l.entries[normalize(e.Symbol)] = e
		kept++
	}
	logger.Infof("exclusion list restored %d entries (%d expired)", kept, len(entries)-kept)
	return nil
}

// Add excludes a symbol if the evidence clears the floor: enough trades and
// an accuracy below the bar. Returns true when an entry was created.
func (l *List) Add(ctx context.Context, symbol string, accuracy float64, trades int, current regime.Snapshot, reason string) (bool, error) {
	if trades < l.cfg.MinTrades || accuracy >= l.cfg.MaxAccuracy {
		return false, nil
	}
	sym := normalize(symbol)
	now := l.now()
	expires := now.Add(l.cfg.TTL)
	entry := Entry{
		Symbol:              sym,
		Reason:              reason,
		AccuracyAtExclusion: accuracy,
		TradesAtExclusion:   trades,
		RegimeAtExclusion:   current.Type,
		CreatedAt:           now,
		ExpiresAt:           &expires,
	}

	l.mu.Lock()
	l.entries[sym] = entry
	l.mu.Unlock()

	logger.Warnf("excluding %s until %s: accuracy %.0f%% over %d trades in %s regime",
		sym, expires.Format(time.RFC3339), accuracy*100, trades, current.Type)
	if l.store != nil {
		if err := l.store.UpsertExclusionEntry(ctx, entry); err != nil {
			return true, fmt.Errorf("exclusion persist %s: %w", sym, err)
		}
	}
	return true, nil
}

// IsExcluded reports whether the symbol is currently barred. An entry can be
// escaped before its TTL when the market regime has moved on from the one it
// was earned in: any different regime with solid confidence, or an outright
// opposite regime with strong confidence.
func (l *List) IsExcluded(symbol string, current regime.Snapshot) (bool, Entry) {
	sym := normalize(symbol)
	l.mu.RLock()
	entry, ok := l.entries[sym]
	l.mu.RUnlock()
	if !ok {
		return false, Entry{}
	}
	if entry.Expired(l.now()) {
		l.remove(sym, "expired")
		return false, Entry{}
	}
	if current.Type != entry.RegimeAtExclusion {
		if regime.Opposite(current.Type, entry.RegimeAtExclusion) && current.Confidence > l.cfg.FlipConfidence {
			l.remove(sym, fmt.Sprintf("regime flipped to %s", current.Type))
			return false, Entry{}
		}
		if current.Confidence > l.cfg.EscapeConfidence {
			l.remove(sym, fmt.Sprintf("regime moved to %s", current.Type))
			return false, Entry{}
		}
	}
	return true, entry
}

// ResetForRegimeChange purges every entry earned under the old regime after
// a confirmed transition, returning how many were released.
func (l *List) ResetForRegimeChange(old, next regime.Type) int {
	l.mu.Lock()
	var released []string
	for sym, entry := range l.entries {
		if entry.RegimeAtExclusion == old {
			released = append(released, sym)
		}
	}
	for _, sym := range released {
		delete(l.entries, sym)
	}
	l.mu.Unlock()

	for _, sym := range released {
		l.deleteStored(sym)
	}
	if len(released) > 0 {
		logger.Infof("regime change %s -> %s released %d exclusions", old, next, len(released))
	}
	return len(released)
}

// PruneExpired drops every entry whose TTL has passed, returning how many
// were removed. Reads already skip expired entries; this reclaims them.
func (l *List) PruneExpired() int {
	now := l.now()
	l.mu.Lock()
	var expired []string
	for sym, entry := range l.entries {
		if entry.Expired(now) {
			expired = append(expired, sym)
		}
	}
	for _, sym := range expired {
		delete(l.entries, sym)
	}
	l.mu.Unlock()

	for _, sym := range expired {
		l.deleteStored(sym)
	}
	if len(expired) > 0 {
		logger.Infof("exclusion list pruned %d expired entries", len(expired))
	}
	return len(expired)
}

// Entries returns copies of the live entries, for the status surface.
func (l *List) Entries() []Entry {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (l *List) remove(symbol, why string) {
	l.mu.Lock()
	delete(l.entries, symbol)
	l.mu.Unlock()
	logger.Infof("exclusion released %s: %s", symbol, why)
	l.deleteStored(symbol)
}

func (l *List) deleteStored(symbol string) {
	if l.store == nil {
		return
	}
	if err := l.store.DeleteExclusionEntry(context.Background(), symbol); err != nil {
		logger.Warnf("exclusion delete %s: %v", symbol, err)
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
