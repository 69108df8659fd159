package validator

import (
	"fmt"
	"math"

	"chorus/internal/analysis/indicator"
	"chorus/internal/market"
)

// Phase locates the current price inside the move it is trying to join.
type Phase string

const (
	PhaseTooEarly Phase = "too_early"
	PhaseOptimal  Phase = "optimal"
	PhaseTooLate  Phase = "too_late"
	PhaseMiss     Phase = "miss"
)

// Input is one proposed entry to validate.
type Input struct {
	Symbol          string
	Direction       int // +1 long, -1 short
	CurrentPrice    float64
	Candles         []market.Candle
	FusedConfidence float64
	FusedMagnitude  float64 // expected fractional move
}

// Targets are the concrete price levels for the proposed entry.
type Targets struct {
	Stop       float64 `json:"stop"`
	Target     float64 `json:"target"`
	RiskReward float64 `json:"risk_reward"`
}

// Result is the validator's verdict. Blockers are hard: any one of them
// keeps ShouldEnter false regardless of the score.
type Result struct {
	ShouldEnter bool     `json:"should_enter"`
	Confidence  float64  `json:"confidence"`
	Score       float64  `json:"score"`
	Phase       Phase    `json:"phase"`
	Targets     Targets  `json:"targets"`
	Blockers    []string `json:"blockers,omitempty"`
}

// Config holds the validator tuning. Zero values fall back to defaults.
type Config struct {
	ATRPeriod         int     `mapstructure:"atr_period"`
	ATRStopMult       float64 `mapstructure:"atr_stop_mult"`
	ATRTargetMult     float64 `mapstructure:"atr_target_mult"`
	MinStopPct        float64 `mapstructure:"min_stop_pct"`        // stop never tighter than this
	MinRiskReward     float64 `mapstructure:"min_risk_reward"`     // hard entry bar
	FallbackStopPct   float64 `mapstructure:"fallback_stop_pct"`   // used when ATR is unusable
	FallbackTargetPct float64 `mapstructure:"fallback_target_pct"` //
	StructureWindow   int     `mapstructure:"structure_window"`    // bars for support/resistance
	TimingWindow      int     `mapstructure:"timing_window"`       // bars for the phase estimate
	ROCPeriod         int     `mapstructure:"roc_period"`
	FastEMA           int     `mapstructure:"fast_ema"`
	SlowEMA           int     `mapstructure:"slow_ema"`
	MinScore          float64 `mapstructure:"min_score"`
}

func DefaultConfig() Config {
	return Config{
		ATRPeriod:         14,
		ATRStopMult:       1.5,
		ATRTargetMult:     2.5,
		MinStopPct:        0.005,
		MinRiskReward:     2.0,
		FallbackStopPct:   0.01,
		FallbackTargetPct: 0.025,
		StructureWindow:   20,
		TimingWindow:      5,
		ROCPeriod:         5,
		FastEMA:           9,
		SlowEMA:           21,
		MinScore:          0.55,
	}
}

// Validator is the last gate before an order: it turns a fused signal into
// concrete stop and target levels and refuses entries whose structure,
// momentum or timing argue against the trade.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.ATRStopMult <= 0 {
		cfg.ATRStopMult = def.ATRStopMult
	}
	if cfg.ATRTargetMult <= 0 {
		cfg.ATRTargetMult = def.ATRTargetMult
	}
	if cfg.MinStopPct <= 0 {
		cfg.MinStopPct = def.MinStopPct
	}
	if cfg.MinRiskReward <= 0 {
		cfg.MinRiskReward = def.MinRiskReward
	}
	if cfg.FallbackStopPct <= 0 {
		cfg.FallbackStopPct = def.FallbackStopPct
	}
	if cfg.FallbackTargetPct <= 0 {
		cfg.FallbackTargetPct = def.FallbackTargetPct
	}
	if cfg.StructureWindow <= 0 {
		cfg.StructureWindow = def.StructureWindow
	}
	if cfg.TimingWindow <= 0 {
		cfg.TimingWindow = def.TimingWindow
	}
	if cfg.ROCPeriod <= 0 {
		cfg.ROCPeriod = def.ROCPeriod
	}
	if cfg.FastEMA <= 0 {
		cfg.FastEMA = def.FastEMA
	}
	if cfg.SlowEMA <= 0 {
		cfg.SlowEMA = def.SlowEMA
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = def.MinScore
	}
	return &Validator{cfg: cfg}
}

// Validate scores a proposed entry. Errors signal bad input, not a rejected
// trade; a rejected trade comes back as a Result with blockers.
func (v *Validator) Validate(in Input) (*Result, error) {
	if in.Direction != 1 && in.Direction != -1 {
		return nil, fmt.Errorf("validator: direction must be +1 or -1, got %d", in.Direction)
	}
	if in.CurrentPrice <= 0 {
		return nil, fmt.Errorf("validator: invalid price %f for %s", in.CurrentPrice, in.Symbol)
	}
	if len(in.Candles) < 2 {
		return nil, fmt.Errorf("validator: need at least 2 candles for %s, got %d", in.Symbol, len(in.Candles))
	}

	res := &Result{}
	res.Targets = v.targets(in)
	res.Phase = v.phase(in, res.Targets)

	if res.Targets.RiskReward < v.cfg.MinRiskReward {
		res.Blockers = append(res.Blockers, fmt.Sprintf("risk/reward %.2f below %.1f", res.Targets.RiskReward, v.cfg.MinRiskReward))
	}

	momentumScore, conflict := v.momentum(in)
	if conflict {
		res.Blockers = append(res.Blockers, "momentum opposes entry direction")
	}

	switch res.Phase {
	case PhaseTooLate:
		res.Blockers = append(res.Blockers, "move mostly played out")
	case PhaseMiss:
		res.Blockers = append(res.Blockers, "move already complete")
	}

	rrScore := clamp(res.Targets.RiskReward/(2*v.cfg.MinRiskReward), 0, 1)
	res.Score = clamp(0.35*momentumScore+0.30*phaseScore(res.Phase)+0.20*clamp(in.FusedConfidence, 0, 1)+0.15*rrScore, 0, 1)

	if len(res.Blockers) == 0 && res.Score >= v.cfg.MinScore {
		res.ShouldEnter = true
		res.Confidence = res.Score
	}
	return res, nil
}

// targets derives stop and target from volatility, with market structure
// as the backstop: the stop respects recent support, the target never asks
// for a move through recent resistance.
func (v *Validator) targets(in Input) Targets {
	entry := in.CurrentPrice
	window := market.Tail(in.Candles, v.cfg.StructureWindow)
	support, resistance := structure(window)

	atr, err := indicator.ATR(in.Candles, v.cfg.ATRPeriod)
	var stopDist, rawTargetDist float64
	if err != nil || atr <= 0 {
		// Flat or short history: fixed percentages instead of ATR.
		stopDist = entry * v.cfg.FallbackStopPct
		rawTargetDist = entry * v.cfg.FallbackTargetPct
	} else {
		stopDist = v.cfg.ATRStopMult * atr
		rawTargetDist = v.cfg.ATRTargetMult * atr
	}
	// The fused magnitude caps the target distance: the trade never assumes
	// more room than the signal predicts.
	if magDist := math.Abs(in.FusedMagnitude) * entry; magDist > 0 && magDist < rawTargetDist {
		rawTargetDist = magDist
	}

	var t Targets
	if in.Direction == 1 {
		if sd := entry - support*0.995; sd > stopDist {
			stopDist = sd
		}
		if min := entry * v.cfg.MinStopPct; stopDist < min {
			stopDist = min
		}
		t.Stop = entry - stopDist
		t.Target = entry + rawTargetDist
		if resistance > entry && t.Target > resistance {
			t.Target = resistance
		}
	} else {
		if sd := resistance*1.005 - entry; sd > stopDist {
			stopDist = sd
		}
		if min := entry * v.cfg.MinStopPct; stopDist < min {
			stopDist = min
		}
		t.Stop = entry + stopDist
		t.Target = entry - rawTargetDist
		if support < entry && support > 0 && t.Target < support {
			t.Target = support
		}
	}
	risk := math.Abs(entry - t.Stop)
	if risk > 0 {
		t.RiskReward = math.Abs(t.Target-entry) / risk
	}
	return t
}

// phase estimates what fraction of the expected move has already happened:
// the recent bars' movement in the trade direction against the distance
// still left to the target. A move that barely started is early; one with
// little room left is spent.
func (v *Validator) phase(in Input, t Targets) Phase {
	window := market.Tail(in.Candles, v.cfg.TimingWindow+1)
	origin := window[0].Close
	done := (in.CurrentPrice - origin) * float64(in.Direction)
	if done < 0 {
		done = 0
	}
	total := done + math.Abs(t.Target-in.CurrentPrice)
	if total <= 0 {
		return PhaseOptimal
	}
	frac := done / total
	switch {
	case frac < 0.25:
		return PhaseTooEarly
	case frac < 0.60:
		return PhaseOptimal
	case frac < 0.85:
		return PhaseTooLate
	default:
		return PhaseMiss
	}
}

// momentum scores short-term agreement with the entry direction using rate
// of change and the fast/slow EMA spread. Both against the trade is a
// conflict; one of two is merely weak.
func (v *Validator) momentum(in Input) (score float64, conflict bool) {
	closes := market.ToSeries(in.Candles).Closes
	dir := float64(in.Direction)

	roc := indicator.ROC(closes, v.cfg.ROCPeriod)
	fast := indicator.EMA(closes, v.cfg.FastEMA)
	slow := indicator.EMA(closes, v.cfg.SlowEMA)

	agree := 0
	checked := 0
	if roc != 0 {
		checked++
		if roc*dir > 0 {
			agree++
		}
	}
	if fast > 0 && slow > 0 && fast != slow {
		checked++
		if (fast-slow)*dir > 0 {
			agree++
		}
	}
	if checked == 0 {
		return 0.5, false
	}
	if agree == 0 {
		return 0, true
	}
	if agree == checked {
		return 1, false
	}
	return 0.5, false
}

func phaseScore(p Phase) float64 {
	switch p {
	case PhaseOptimal:
		return 1.0
	case PhaseTooEarly:
		return 0.6
	case PhaseTooLate:
		return 0.3
	default:
		return 0
	}
}

// structure returns the lowest low and highest high of the window.
func structure(candles []market.Candle) (support, resistance float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	support = candles[0].Low
	resistance = candles[0].High
	for _, c := range candles[1:] {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}
	return support, resistance
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
