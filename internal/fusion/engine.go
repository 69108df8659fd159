package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"chorus/internal/regime"
	"chorus/internal/signal"
)

// Verdict is the three-way outcome of a fusion call. Hold is the safe
// default: ties and under-determined states never resolve to a direction.
type Verdict string

const (
	Buy  Verdict = "buy"
	Sell Verdict = "sell"
	Hold Verdict = "hold"
)

// Decision is one fused decision, consumed immediately by the entry
// validator and never persisted beyond the journal.
type Decision struct {
	Verdict            Verdict `json:"verdict"`
	ShouldTrade        bool    `json:"should_trade"`
	Direction          int     `json:"direction"` // +1, -1, 0
	Confidence         float64 `json:"confidence"`
	ExpectedMagnitude  float64 `json:"expected_magnitude"`
	ConsensusStrength  float64 `json:"consensus_strength"`
	InformationContent float64 `json:"information_content"`
	Reasoning          string  `json:"reasoning"`
}

// ErrNoEstimates means the caller passed an empty estimate set. All
// producers returning nil is a market condition and yields a Hold; an empty
// slice is a programming error.
var ErrNoEstimates = errors.New("fusion: empty estimate set")

// ReliabilityLookup supplies the performance ledger's confidence for trading
// the instrument in the given direction (0..1). A nil lookup means no
// history is consulted.
type ReliabilityLookup func(direction int) float64

// Config holds the fusion tuning knobs. The shrinkage and decay constants
// are configuration, not hardcoded magic numbers.
type Config struct {
	ConsensusDecay     float64 `mapstructure:"consensus_decay"`      // k in exp(-k*Var)
	BaseConsensus      float64 `mapstructure:"base_consensus"`       // group bar before 1/sqrt(N) shrinkage
	BaseMinConfidence  float64 `mapstructure:"base_min_confidence"`  // floor of the confidence bar
	VolConfidenceSlope float64 `mapstructure:"vol_confidence_slope"` // bar increase per volatility percent
	DirectionTolerance float64 `mapstructure:"direction_tolerance"`  // |mean dir| below this is disagreement
	FeePct             float64 `mapstructure:"fee_pct"`              // round-trip fee+slippage, fractional
}

func DefaultConfig() Config {
	return Config{
		ConsensusDecay:     2.0,
		BaseConsensus:      0.35,
		BaseMinConfidence:  0.35,
		VolConfidenceSlope: 0.03,
		DirectionTolerance: 0.15,
		FeePct:             0.002,
	}
}

// Engine combines independent signal estimates into one tensor-weighted
// decision with dynamically computed accept/reject thresholds.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.ConsensusDecay <= 0 {
		cfg.ConsensusDecay = def.ConsensusDecay
	}
	if cfg.BaseConsensus <= 0 {
		cfg.BaseConsensus = def.BaseConsensus
	}
	if cfg.BaseMinConfidence <= 0 {
		cfg.BaseMinConfidence = def.BaseMinConfidence
	}
	if cfg.VolConfidenceSlope < 0 {
		cfg.VolConfidenceSlope = def.VolConfidenceSlope
	}
	if cfg.DirectionTolerance <= 0 {
		cfg.DirectionTolerance = def.DirectionTolerance
	}
	if cfg.FeePct < 0 {
		cfg.FeePct = def.FeePct
	}
	return &Engine{cfg: cfg}
}

// Fuse combines the live estimates under the current regime. Nil slots are
// producers that returned no signal this cycle; if every slot is nil the
// result is a Hold with "no signal available", never an error.
func (e *Engine) Fuse(estimates []*signal.Estimate, reg *regime.Snapshot, lookup ReliabilityLookup) (Decision, error) {
	if len(estimates) == 0 {
		return Decision{}, ErrNoEstimates
	}
	live := make([]signal.Estimate, 0, len(estimates))
	for _, est := range estimates {
		if est != nil {
			live = append(live, est.Clamped())
		}
	}
	if len(live) == 0 {
		return holdDecision(0, 0, 0, "no signal available"), nil
	}

	weights := Weights(live)
	n := float64(len(live))

	var weightedDir, weightedConf, weightedMag, plainMean float64
	for i, est := range live {
		weightedDir += weights[i] * est.Direction
		weightedConf += weights[i] * est.Confidence
		weightedMag += weights[i] * est.Confidence * est.ExpectedMagnitude
		plainMean += est.Direction / n
	}
	variance := directionVariance(live, plainMean)
	consensus := clamp(math.Exp(-e.cfg.ConsensusDecay*variance)*math.Abs(plainMean), 0, 1)
	info := informationContent(live)

	confidence := clamp(weightedConf, 0, 1)
	direction := signOf(weightedDir)
	if lookup != nil && direction != 0 {
		confidence = clamp(confidence*clamp(lookup(direction), 0, 1), 0, 1)
	}

	// Thresholds shrink with producer count and stiffen with volatility.
	minConsensus := e.cfg.BaseConsensus / math.Sqrt(n)
	minConfidence := e.cfg.BaseMinConfidence
	if reg != nil {
		minConfidence = clamp(minConfidence+e.cfg.VolConfidenceSlope*reg.VolatilityPct, 0, 0.95)
	}
	netMagnitude := math.Abs(weightedMag) - e.cfg.FeePct

	switch {
	case direction == 0 || math.Abs(plainMean) < e.cfg.DirectionTolerance:
		return holdDecision(consensus, info, confidence,
			fmt.Sprintf("producers split on direction (mean %.2f within ±%.2f)", plainMean, e.cfg.DirectionTolerance)), nil
	case consensus < minConsensus:
		return holdDecision(consensus, info, confidence,
			fmt.Sprintf("consensus %.2f below bar %.2f for %d producers", consensus, minConsensus, len(live))), nil
	case netMagnitude <= 0:
		return holdDecision(consensus, info, confidence,
			fmt.Sprintf("expected move %.4f does not clear fees %.4f", math.Abs(weightedMag), e.cfg.FeePct)), nil
	case confidence < minConfidence:
		return holdDecision(consensus, info, confidence,
			fmt.Sprintf("confidence %.2f below regime bar %.2f", confidence, minConfidence)), nil
	}

	return Decision{
		Verdict:            verdictFor(direction),
		ShouldTrade:        true,
		Direction:          direction,
		Confidence:         confidence,
		ExpectedMagnitude:  weightedMag,
		ConsensusStrength:  consensus,
		InformationContent: info,
		Reasoning:          e.describe(live, weights, direction, consensus, confidence),
	}, nil
}

// Weights computes the renormalized fusion weights. Each weight is
// proportional to reliability×confidence, the sum is exactly 1, and no
// weight exceeds 1/sqrt(N) so a single producer cannot dominate consensus.
func Weights(live []signal.Estimate) []float64 {
	n := len(live)
	weights := make([]float64, n)
	var total float64
	for i, est := range live {
		weights[i] = est.Reliability * est.Confidence
		total += weights[i]
	}
	if total <= 0 {
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
		total = 1
	}
	for i := range weights {
		weights[i] /= total
	}

	limit := 1 / math.Sqrt(float64(n))
	// Water-filling: pin weights at the cap and renormalize the remainder
	// until nothing exceeds it. Terminates because the pinned set only
	// grows, and sum(caps) = sqrt(N) >= 1 keeps the constraint feasible.
	for iter := 0; iter < n; iter++ {
		pinned := make([]bool, n)
		var pinnedMass, freeMass float64
		pinnedCount := 0
		for i, w := range weights {
			if w >= limit-1e-12 {
				pinned[i] = true
				pinnedCount++
				pinnedMass += limit
			} else {
				freeMass += w
			}
		}
		if pinnedCount == 0 || pinnedCount == n {
			break
		}
		remaining := 1 - pinnedMass
		changed := false
		for i := range weights {
			if pinned[i] {
				weights[i] = limit
				continue
			}
			scaled := weights[i] / freeMass * remaining
			if math.Abs(scaled-weights[i]) > 1e-12 {
				changed = true
			}
			weights[i] = scaled
		}
		if !changed {
			break
		}
	}
	return weights
}

// informationContent is the Shannon entropy of the discretized direction
// distribution (down/flat/up), in bits. Diagnostics only.
func informationContent(live []signal.Estimate) float64 {
	const flatBand = 0.1
	counts := map[int]int{}
	for _, est := range live {
		switch {
		case est.Direction > flatBand:
			counts[1]++
		case est.Direction < -flatBand:
			counts[-1]++
		default:
			counts[0]++
		}
	}
	n := float64(len(live))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

func directionVariance(live []signal.Estimate, mean float64) float64 {
	var sum float64
	for _, est := range live {
		d := est.Direction - mean
		sum += d * d
	}
	return sum / float64(len(live))
}

func (e *Engine) describe(live []signal.Estimate, weights []float64, direction int, consensus, confidence float64) string {
	type contrib struct {
		name   string
		weight float64
	}
	contribs := make([]contrib, len(live))
	for i, est := range live {
		name := est.Producer
		if name == "" {
			name = fmt.Sprintf("producer-%d", i+1)
		}
		contribs[i] = contrib{name: name, weight: weights[i]}
	}
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].weight > contribs[j].weight })
	var b strings.Builder
	fmt.Fprintf(&b, "%s from %d producers (consensus %.2f, confidence %.2f); led by %s (w=%.2f)",
		verdictFor(direction), len(live), consensus, confidence, contribs[0].name, contribs[0].weight)
	return b.String()
}

func holdDecision(consensus, info, confidence float64, reason string) Decision {
	return Decision{
		Verdict:            Hold,
		ShouldTrade:        false,
		Direction:          0,
		Confidence:         confidence,
		ConsensusStrength:  consensus,
		InformationContent: info,
		Reasoning:          reason,
	}
}

func verdictFor(direction int) Verdict {
	switch {
	case direction > 0:
		return Buy
	case direction < 0:
		return Sell
	default:
		return Hold
	}
}

func signOf(v float64) int {
	switch {
	case v > 1e-9:
		return 1
	case v < -1e-9:
		return -1
	default:
		return 0
	}
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
