package signal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chorus/internal/market"
	symbolpkg "chorus/internal/pkg/symbol"
)

// DefaultIntakeTTL bounds how long a posted estimate stays live when no
// fresher one arrives.
const DefaultIntakeTTL = 2 * time.Hour

type posted struct {
	est Estimate
	at  time.Time
}

// Intake accepts estimate payloads posted by external producers and serves
// them back into the evaluation cycle as one Producer slot per symbol. An
// estimate older than the TTL counts as "no opinion", the same as a
// producer that never posted.
type Intake struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	latest map[string]posted
}

var _ Producer = (*Intake)(nil)

func NewIntake(ttl time.Duration) *Intake {
	if ttl <= 0 {
		ttl = DefaultIntakeTTL
	}
	return &Intake{ttl: ttl, now: time.Now, latest: make(map[string]posted)}
}

func (i *Intake) Name() string { return "external" }

// Submit validates and stores one posted payload, replacing any earlier
// estimate for the symbol.
func (i *Intake) Submit(symbol string, raw []byte) (*Estimate, error) {
	key := intakeKey(symbol)
	if key == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	est, err := ParseEstimate(raw)
	if err != nil {
		return nil, err
	}
	if est.Producer == "" {
		est.Producer = i.Name()
	}
	i.mu.Lock()
	i.latest[key] = posted{est: *est, at: i.now()}
	i.mu.Unlock()
	return est, nil
}

func (i *Intake) Estimate(_ context.Context, symbol string, _ []market.Candle) (*Estimate, error) {
	i.mu.RLock()
	p, ok := i.latest[intakeKey(symbol)]
	i.mu.RUnlock()
	if !ok || i.now().Sub(p.at) > i.ttl {
		return nil, nil
	}
	est := p.est
	return &est, nil
}

// intakeKey canonicalizes to the internal BASE/QUOTE form so a payload
// posted as "BTCUSDT" reaches evaluations running on "BTC/USDT".
func intakeKey(symbol string) string {
	if norm := symbolpkg.Normalize(symbol); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}
