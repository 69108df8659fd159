package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chorus/internal/logger"
)

// Direction constants for the (instrument, direction) key.
const (
	Long  = 1
	Short = -1
)

// OutcomeSample is one realized trade result kept in the bounded recent ring.
type OutcomeSample struct {
	Correct bool    `json:"correct"`
	PnL     float64 `json:"pnl"`
}

// Record holds the rolling statistics for one (instrument, direction) key.
// Owned exclusively by the Ledger; other components read snapshots only.
type Record struct {
	Symbol             string          `json:"symbol"`
	Direction          int             `json:"direction"`
	TotalSignals       int             `json:"total_signals"`
	CorrectPredictions int             `json:"correct_predictions"`
	Accuracy           float64         `json:"accuracy"`
	AvgPnL             float64         `json:"avg_pnl"`
	AvgVolatility      float64         `json:"avg_volatility"`
	AvgVolume          float64         `json:"avg_volume"`
	RiskScore          float64         `json:"risk_score"`
	Recent             []OutcomeSample `json:"recent"`
	LastTradeID        string          `json:"last_trade_id,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Outcome is one realized trade result fed back into the ledger.
type Outcome struct {
	TradeID    string  // idempotency key; empty disables dedup
	Symbol     string
	Direction  int
	Predicted  int
	Actual     int
	PnL        float64 // fractional return
	Volatility float64 // fractional, e.g. 0.02 for 2%
	Volume     float64
}

// Recommendation is the ledger's verdict for trading a key right now.
type Recommendation struct {
	ShouldTrade     bool    `json:"should_trade"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
	SwitchDirection bool    `json:"switch_direction"`
}

// Store persists records across restarts. The ledger works without one.
type Store interface {
	UpsertPerformanceRecord(ctx context.Context, rec Record) error
	LoadPerformanceRecords(ctx context.Context) ([]Record, error)
}

// Config holds the ledger tuning. Zero values fall back to defaults.
type Config struct {
	SmoothingAlpha    float64 `mapstructure:"smoothing_alpha"`     // weight of the newest sample
	MinSamples        int     `mapstructure:"min_samples"`         // learning phase below this
	RiskVeto          float64 `mapstructure:"risk_veto"`           // absolute no-trade bar
	LowAccuracy       float64 `mapstructure:"low_accuracy"`        // block / switch threshold
	HighAccuracy      float64 `mapstructure:"high_accuracy"`       // proven-edge threshold
	MarginalAccuracy  float64 `mapstructure:"marginal_accuracy"`   // accurate-but-unprofitable bar
	VolRiskScale      float64 `mapstructure:"vol_risk_scale"`      // volatility mapping to risk 1.0
	DrawdownRiskScale float64 `mapstructure:"drawdown_risk_scale"` // drawdown mapping to risk 1.0
	HealthyVolume     float64 `mapstructure:"healthy_volume"`      // volume at or above this is risk 0
	RecentWindow      int     `mapstructure:"recent_window"`       // ring size
}

func DefaultConfig() Config {
	return Config{
		SmoothingAlpha:    0.1,
		MinSamples:        3,
		RiskVeto:          0.7,
		LowAccuracy:       0.3,
		HighAccuracy:      0.6,
		MarginalAccuracy:  0.5,
		VolRiskScale:      0.20,
		DrawdownRiskScale: 0.10,
		HealthyVolume:     1_000_000,
		RecentWindow:      10,
	}
}

// seenLimit bounds the in-process TradeID dedup set.
const seenLimit = 4096

// Ledger is the per-instrument, per-direction performance learner.
type Ledger struct {
	cfg   Config
	store Store

	mu        sync.RWMutex
	records   map[string]*Record
	seen      map[string]struct{}
	seenOrder []string
}

func New(cfg Config, store Store) *Ledger {
	def := DefaultConfig()
	if cfg.SmoothingAlpha <= 0 || cfg.SmoothingAlpha > 1 {
		cfg.SmoothingAlpha = def.SmoothingAlpha
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.RiskVeto <= 0 {
		cfg.RiskVeto = def.RiskVeto
	}
	if cfg.LowAccuracy <= 0 {
		cfg.LowAccuracy = def.LowAccuracy
	}
	if cfg.HighAccuracy <= 0 {
		cfg.HighAccuracy = def.HighAccuracy
	}
	if cfg.MarginalAccuracy <= 0 {
		cfg.MarginalAccuracy = def.MarginalAccuracy
	}
	if cfg.VolRiskScale <= 0 {
		cfg.VolRiskScale = def.VolRiskScale
	}
	if cfg.DrawdownRiskScale <= 0 {
		cfg.DrawdownRiskScale = def.DrawdownRiskScale
	}
	if cfg.HealthyVolume <= 0 {
		cfg.HealthyVolume = def.HealthyVolume
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	return &Ledger{
		cfg:     cfg,
		store:   store,
		records: make(map[string]*Record),
		seen:    make(map[string]struct{}),
	}
}

// Load restores persisted records. Call once before the first cycle.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.LoadPerformanceRecords(ctx)
	if err != nil {
		return fmt.Errorf("ledger load: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range recs {
		copied := rec
		l.records[recordKey(rec.Symbol, rec.Direction)] = &copied
	}
	logger.Infof("ledger restored %d performance records", len(recs))
	return nil
}

// Record folds one realized outcome into the key's statistics. Idempotent
// per TradeID: a bounded in-process set catches replays within a run, and
// the persisted last id per key catches a replay of the newest outcome
// after a restart.
func (l *Ledger) Record(ctx context.Context, o Outcome) error {
	if o.Symbol == "" || (o.Direction != Long && o.Direction != Short) {
		return fmt.Errorf("ledger: invalid outcome key %q/%d", o.Symbol, o.Direction)
	}
	l.mu.Lock()
	key := recordKey(o.Symbol, o.Direction)
	rec, ok := l.records[key]
	if o.TradeID != "" {
		if _, dup := l.seen[o.TradeID]; dup {
			l.mu.Unlock()
			return nil
		}
		if ok && rec.LastTradeID == o.TradeID {
			l.mu.Unlock()
			return nil
		}
		l.remember(o.TradeID)
	}
	if !ok {
		rec = &Record{Symbol: strings.ToUpper(strings.TrimSpace(o.Symbol)), Direction: o.Direction}
		l.records[key] = rec
	}

	correct := o.Predicted != 0 && o.Predicted == o.Actual
	rec.TotalSignals++
	if correct {
		rec.CorrectPredictions++
	}
	// Accuracy is always recomputed from its inputs, never drifted.
	rec.Accuracy = float64(rec.CorrectPredictions) / float64(rec.TotalSignals)

	alpha := l.cfg.SmoothingAlpha
	if rec.TotalSignals == 1 {
		rec.AvgPnL = o.PnL
		rec.AvgVolatility = o.Volatility
		rec.AvgVolume = o.Volume
	} else {
		rec.AvgPnL = (1-alpha)*rec.AvgPnL + alpha*o.PnL
		rec.AvgVolatility = (1-alpha)*rec.AvgVolatility + alpha*o.Volatility
		rec.AvgVolume = (1-alpha)*rec.AvgVolume + alpha*o.Volume
	}

	rec.Recent = append(rec.Recent, OutcomeSample{Correct: correct, PnL: o.PnL})
	if len(rec.Recent) > l.cfg.RecentWindow {
		rec.Recent = rec.Recent[len(rec.Recent)-l.cfg.RecentWindow:]
	}
	rec.RiskScore = l.riskScore(rec)
	if o.TradeID != "" {
		rec.LastTradeID = o.TradeID
	}
	rec.UpdatedAt = time.Now()
	snapshot := *rec
	snapshot.Recent = append([]OutcomeSample(nil), rec.Recent...)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.UpsertPerformanceRecord(ctx, snapshot); err != nil {
			return fmt.Errorf("ledger persist %s/%d: %w", o.Symbol, o.Direction, err)
		}
	}
	return nil
}

// remember adds a trade id to the dedup set, aging out the oldest once the
// set is full. Callers hold the write lock.
func (l *Ledger) remember(tradeID string) {
	l.seen[tradeID] = struct{}{}
	l.seenOrder = append(l.seenOrder, tradeID)
	if len(l.seenOrder) > seenLimit {
		delete(l.seen, l.seenOrder[0])
		l.seenOrder = l.seenOrder[1:]
	}
}

// riskScore composes volatility, drawdown and liquidity risk, each clamped
// to [0,1] against a fixed scale.
func (l *Ledger) riskScore(rec *Record) float64 {
	volRisk := clamp(rec.AvgVolatility/l.cfg.VolRiskScale, 0, 1)
	ddRisk := clamp(maxDrawdown(rec.Recent)/l.cfg.DrawdownRiskScale, 0, 1)
	volumeRisk := clamp(1-rec.AvgVolume/l.cfg.HealthyVolume, 0, 1)
	return clamp(0.4*volRisk+0.4*ddRisk+0.2*volumeRisk, 0, 1)
}

// Recommend evaluates the ordered rule set for one key. Risk and
// profitability can override raw hit-rate.
func (l *Ledger) Recommend(symbol string, direction int) Recommendation {
	l.mu.RLock()
	rec, ok := l.records[recordKey(symbol, direction)]
	opp := l.records[recordKey(symbol, -direction)]
	var snapshot, oppSnapshot Record
	if ok {
		snapshot = *rec
	}
	hasOpp := opp != nil
	if hasOpp {
		oppSnapshot = *opp
	}
	l.mu.RUnlock()

	// Rule 1: learning phase with a volatility-adjusted prior.
	if !ok || snapshot.TotalSignals < l.cfg.MinSamples {
		prior := 0.45
		if ok {
			volRisk := clamp(snapshot.AvgVolatility/l.cfg.VolRiskScale, 0, 1)
			prior = clamp(0.5-0.2*volRisk, 0.25, 0.5)
		}
		return Recommendation{
			ShouldTrade: true,
			Confidence:  prior,
			Reason:      fmt.Sprintf("learning phase (%d samples)", snapshot.TotalSignals),
		}
	}

	// Rule 2: the risk veto is absolute.
	if snapshot.RiskScore > l.cfg.RiskVeto {
		return Recommendation{
			ShouldTrade: false,
			Confidence:  0,
			Reason:      fmt.Sprintf("risk veto (score %.2f)", snapshot.RiskScore),
		}
	}

	// Rule 3: persistently wrong; maybe the opposite direction is right.
	if snapshot.Accuracy < l.cfg.LowAccuracy {
		if hasOpp && oppSnapshot.Accuracy > l.cfg.HighAccuracy && oppSnapshot.RiskScore < 0.5 {
			return Recommendation{
				ShouldTrade:     true,
				Confidence:      oppSnapshot.Accuracy,
				Reason:          fmt.Sprintf("inverse edge: opposite direction at %.0f%% accuracy", oppSnapshot.Accuracy*100),
				SwitchDirection: true,
			}
		}
		return Recommendation{
			ShouldTrade: false,
			Confidence:  snapshot.Accuracy,
			Reason:      fmt.Sprintf("blocked: accuracy %.0f%% over %d trades", snapshot.Accuracy*100, snapshot.TotalSignals),
		}
	}

	// Rule 4: proven edge.
	if snapshot.Accuracy > l.cfg.HighAccuracy && snapshot.AvgPnL > 0 {
		return Recommendation{
			ShouldTrade: true,
			Confidence:  snapshot.Accuracy,
			Reason:      fmt.Sprintf("proven edge: accuracy %.0f%%, avg pnl %.4f", snapshot.Accuracy*100, snapshot.AvgPnL),
		}
	}

	// Rule 5: hit-rate alone is not enough.
	if snapshot.Accuracy > l.cfg.MarginalAccuracy && snapshot.AvgPnL < 0 {
		return Recommendation{
			ShouldTrade: false,
			Confidence:  snapshot.Accuracy,
			Reason:      fmt.Sprintf("accurate but unprofitable (avg pnl %.4f)", snapshot.AvgPnL),
		}
	}

	// Rule 6: tradable, with reduced conviction.
	return Recommendation{
		ShouldTrade: true,
		Confidence:  snapshot.Accuracy,
		Reason:      fmt.Sprintf("marginal: accuracy %.0f%%", snapshot.Accuracy*100),
	}
}

// Snapshot returns a copy of one record.
func (l *Ledger) Snapshot(symbol string, direction int) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[recordKey(symbol, direction)]
	if !ok {
		return Record{}, false
	}
	out := *rec
	out.Recent = append([]OutcomeSample(nil), rec.Recent...)
	return out, true
}

// All returns copies of every record, for the status surface.
func (l *Ledger) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		copied := *rec
		copied.Recent = append([]OutcomeSample(nil), rec.Recent...)
		out = append(out, copied)
	}
	return out
}

// maxDrawdown is the deepest peak-to-trough fall of the cumulative pnl of
// the recent ring, as a positive fraction.
func maxDrawdown(samples []OutcomeSample) float64 {
	var cum, peak, worst float64
	for _, s := range samples {
		cum += s.PnL
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > worst {
			worst = dd
		}
	}
	return worst
}

func recordKey(symbol string, direction int) string {
	return fmt.Sprintf("%s#%d", strings.ToUpper(strings.TrimSpace(symbol)), direction)
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
