package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"chorus/internal/exclusion"
	"chorus/internal/fusion"
	"chorus/internal/ledger"
	"chorus/internal/logger"
	"chorus/internal/market"
	"chorus/internal/regime"
	"chorus/internal/signal"
	"chorus/internal/store/journal"
	"chorus/internal/validator"
)

// Config holds the orchestrator settings.
type Config struct {
	Symbols     []string `mapstructure:"symbols"`
	WindowSize  int      `mapstructure:"window_size"`
	MinWindow   int      `mapstructure:"min_window"`
	Parallelism int      `mapstructure:"parallelism"`
}

func DefaultConfig() Config {
	return Config{
		WindowSize:  120,
		MinWindow:   regime.MinWindow,
		Parallelism: 4,
	}
}

// Evaluation is the full outcome of one symbol cycle: classification, fused
// decision, and (when a trade is proposed) the validator's verdict.
type Evaluation struct {
	Symbol     string            `json:"symbol"`
	TraceID    string            `json:"trace_id,omitempty"`
	Regime     *regime.Snapshot  `json:"regime,omitempty"`
	Params     regime.Params     `json:"params"`
	Decision   fusion.Decision   `json:"decision"`
	Validation *validator.Result `json:"validation,omitempty"`
	Skipped    bool              `json:"skipped"`
	SkipReason string            `json:"skip_reason,omitempty"`
}

// Engine wires the evaluation pipeline together: exclusion gate, regime
// classification, signal collection, fusion, ledger gating, and final entry
// validation. It owns the per-symbol regime state.
type Engine struct {
	cfg       Config
	source    market.Source
	candles   *market.Store
	producers []signal.Producer
	fuser     *fusion.Engine
	ledger    *ledger.Ledger
	excluded  *exclusion.List
	validator *validator.Validator
	profiles  *regime.ProfileStore
	journal   *journal.Journal

	mu      sync.RWMutex
	regimes map[string]*regime.Snapshot
}

func New(cfg Config, source market.Source, candles *market.Store, producers []signal.Producer,
	fuser *fusion.Engine, led *ledger.Ledger, excluded *exclusion.List,
	val *validator.Validator, profiles *regime.ProfileStore, jnl *journal.Journal) *Engine {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinWindow <= 0 {
		cfg.MinWindow = def.MinWindow
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	return &Engine{
		cfg:       cfg,
		source:    source,
		candles:   candles,
		producers: producers,
		fuser:     fuser,
		ledger:    led,
		excluded:  excluded,
		validator: val,
		profiles:  profiles,
		journal:   jnl,
		regimes:   make(map[string]*regime.Snapshot),
	}
}

// Symbols returns the configured evaluation universe.
func (e *Engine) Symbols() []string {
	out := make([]string, len(e.cfg.Symbols))
	copy(out, e.cfg.Symbols)
	return out
}

// CurrentRegime returns the latest classification for a symbol, if any.
func (e *Engine) CurrentRegime(symbol string) (*regime.Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.regimes[normalize(symbol)]
	if !ok {
		return nil, false
	}
	copied := *snap
	return &copied, true
}

// EvaluateAll runs one cycle over the configured universe. Per-symbol
// failures are logged and skipped; only context cancellation aborts.
func (e *Engine) EvaluateAll(ctx context.Context) ([]Evaluation, error) {
	symbols := e.cfg.Symbols
	results := make([]Evaluation, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			ev, err := e.Evaluate(gctx, symbol)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warnf("evaluate %s: %v", symbol, err)
				results[i] = Evaluation{Symbol: normalize(symbol), Skipped: true, SkipReason: err.Error()}
				return nil
			}
			results[i] = *ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Skipped != results[b].Skipped {
			return !results[a].Skipped
		}
		return results[a].Decision.Confidence > results[b].Decision.Confidence
	})
	return results, nil
}

// Evaluate runs the pipeline for one symbol.
func (e *Engine) Evaluate(ctx context.Context, symbol string) (*Evaluation, error) {
	sym := normalize(symbol)
	window, err := e.window(ctx, sym)
	if err != nil {
		return nil, err
	}

	snap, err := regime.Classify(window, e.cfg.MinWindow)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", sym, err)
	}
	e.updateRegime(sym, snap)

	ev := &Evaluation{Symbol: sym, Regime: snap, Params: e.params(snap.Type)}

	if e.excluded != nil {
		if barred, entry := e.excluded.IsExcluded(sym, *snap); barred {
			ev.Skipped = true
			ev.SkipReason = fmt.Sprintf("excluded since %s: %s", entry.CreatedAt.Format("2006-01-02"), entry.Reason)
			e.record(ctx, ev)
			return ev, nil
		}
	}

	estimates := signal.Collect(ctx, sym, window, e.producers)
	decision, err := e.fuser.Fuse(estimates, snap, e.reliabilityFor(sym))
	if err != nil {
		return nil, fmt.Errorf("fuse %s: %w", sym, err)
	}

	// The ledger has the final say on direction: a strong inverse record
	// flips the trade, a bad one blocks it.
	if decision.ShouldTrade && e.ledger != nil {
		rec := e.ledger.Recommend(sym, decision.Direction)
		switch {
		case !rec.ShouldTrade:
			decision.ShouldTrade = false
			decision.Verdict = fusion.Hold
			decision.Reasoning = fmt.Sprintf("%s; ledger: %s", decision.Reasoning, rec.Reason)
		case rec.SwitchDirection:
			decision.Direction = -decision.Direction
			decision.Verdict = verdictFor(decision.Direction)
			decision.Confidence = rec.Confidence
			decision.Reasoning = fmt.Sprintf("%s; ledger: %s", decision.Reasoning, rec.Reason)
		}
	}
	ev.Decision = decision

	if decision.ShouldTrade {
		res, err := e.validator.Validate(validator.Input{
			Symbol:          sym,
			Direction:       decision.Direction,
			CurrentPrice:    window[len(window)-1].Close,
			Candles:         window,
			FusedConfidence: decision.Confidence,
			FusedMagnitude:  decision.ExpectedMagnitude,
		})
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", sym, err)
		}
		ev.Validation = res
	}

	e.record(ctx, ev)
	return ev, nil
}

// OnRegimeTick applies an externally observed classification for a symbol
// ahead of the evaluation pass and sweeps expired exclusions. Evaluate keeps
// its own regime state current; this exists for callers that classify out of
// band (replay runs, a faster regime feed).
func (e *Engine) OnRegimeTick(symbol string, snap regime.Snapshot) {
	e.updateRegime(normalize(symbol), &snap)
	if e.excluded != nil {
		e.excluded.PruneExpired()
	}
}

// OnOutcome feeds one realized result back and applies the exclusion floor.
func (e *Engine) OnOutcome(ctx context.Context, o ledger.Outcome) error {
	if e.ledger == nil {
		return nil
	}
	if err := e.ledger.Record(ctx, o); err != nil {
		return err
	}
	if e.excluded == nil {
		return nil
	}
	rec, ok := e.ledger.Snapshot(o.Symbol, o.Direction)
	if !ok {
		return nil
	}
	snap := regime.Snapshot{Type: regime.Choppy}
	if current, found := e.CurrentRegime(o.Symbol); found {
		snap = *current
	}
	reason := fmt.Sprintf("accuracy %.0f%% over %d trades", rec.Accuracy*100, rec.TotalSignals)
	if _, err := e.excluded.Add(ctx, o.Symbol, rec.Accuracy, rec.TotalSignals, snap, reason); err != nil {
		return err
	}
	return nil
}

// window returns the cached candle window, refreshing from the source when
// the cache is cold or short.
func (e *Engine) window(ctx context.Context, symbol string) ([]market.Candle, error) {
	if e.candles != nil {
		if w := e.candles.Window(symbol, e.cfg.WindowSize); len(w) >= e.cfg.MinWindow {
			return w, nil
		}
	}
	if e.source == nil {
		return nil, fmt.Errorf("no candle history for %s", symbol)
	}
	candles, err := e.source.Candles(ctx, symbol, e.cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}
	if e.candles != nil {
		e.candles.Replace(symbol, candles)
	}
	if len(candles) < e.cfg.MinWindow {
		return nil, fmt.Errorf("candle history %s: %w", symbol, regime.ErrInsufficientData)
	}
	return candles, nil
}

// updateRegime swaps in the new snapshot; a confirmed transition releases
// the exclusions earned under the old regime.
func (e *Engine) updateRegime(symbol string, next *regime.Snapshot) {
	e.mu.Lock()
	prev := e.regimes[symbol]
	e.regimes[symbol] = next
	e.mu.Unlock()

	if prev != nil && regime.HasChanged(prev, next) {
		logger.Infof("%s regime %s -> %s (confidence %.2f)", symbol, prev.Type, next.Type, next.Confidence)
		if e.excluded != nil {
			e.excluded.ResetForRegimeChange(prev.Type, next.Type)
		}
	}
}

func (e *Engine) params(t regime.Type) regime.Params {
	if e.profiles != nil {
		return e.profiles.Params(t)
	}
	return regime.DefaultParams()[t]
}

func (e *Engine) reliabilityFor(symbol string) fusion.ReliabilityLookup {
	if e.ledger == nil {
		return nil
	}
	return func(direction int) float64 {
		return e.ledger.Recommend(symbol, direction).Confidence
	}
}

func (e *Engine) record(ctx context.Context, ev *Evaluation) {
	if e.journal == nil {
		return
	}
	entry := journal.Entry{
		Symbol:     ev.Symbol,
		Verdict:    string(ev.Decision.Verdict),
		Direction:  ev.Decision.Direction,
		Confidence: ev.Decision.Confidence,
		Magnitude:  ev.Decision.ExpectedMagnitude,
		Consensus:  ev.Decision.ConsensusStrength,
		Reasoning:  ev.Decision.Reasoning,
	}
	if ev.Skipped {
		entry.Verdict = "skipped"
		entry.Reasoning = ev.SkipReason
	}
	if ev.Regime != nil {
		entry.Regime = string(ev.Regime.Type)
		entry.RegimeConfidence = ev.Regime.Confidence
	}
	if ev.Validation != nil {
		entry.ShouldEnter = ev.Validation.ShouldEnter
		entry.Stop = ev.Validation.Targets.Stop
		entry.Target = ev.Validation.Targets.Target
		entry.RiskReward = ev.Validation.Targets.RiskReward
		entry.Phase = string(ev.Validation.Phase)
		entry.Blockers = ev.Validation.Blockers
	}
	traceID, err := e.journal.Append(ctx, entry)
	if err != nil {
		logger.Warnf("journal %s: %v", ev.Symbol, err)
		return
	}
	ev.TraceID = traceID
}

func verdictFor(direction int) fusion.Verdict {
	switch {
	case direction > 0:
		return fusion.Buy
	case direction < 0:
		return fusion.Sell
	default:
		return fusion.Hold
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
