package signal

import (
	"context"
	"strings"

	"chorus/internal/logger"
	"chorus/internal/market"
)

// Estimate is one producer's opinion on an instrument at a point in time.
// Immutable once produced; it lives for a single fusion call.
type Estimate struct {
	Producer          string  `json:"producer"`
	Direction         float64 `json:"direction"`          // -1..1
	Confidence        float64 `json:"confidence"`         // 0..1
	ExpectedMagnitude float64 `json:"expected_magnitude"` // signed fractional move
	Reliability       float64 `json:"reliability"`        // 0..1 producer track record
}

// Clamped returns a copy with all bounded fields forced into range.
func (e Estimate) Clamped() Estimate {
	e.Direction = clamp(e.Direction, -1, 1)
	e.Confidence = clamp(e.Confidence, 0, 1)
	e.Reliability = clamp(e.Reliability, 0, 1)
	return e
}

// Producer is an opaque signal source. A nil estimate with a nil error means
// the producer has no opinion this cycle; the fusion engine tolerates any
// subset of producers returning nil.
type Producer interface {
	Name() string
	Estimate(ctx context.Context, symbol string, window []market.Candle) (*Estimate, error)
}

// Collect gathers one estimate per producer, keeping nil slots for producers
// that declined or failed so the fusion engine can see how many were live.
func Collect(ctx context.Context, symbol string, window []market.Candle, producers []Producer) []*Estimate {
	out := make([]*Estimate, 0, len(producers))
	for _, p := range producers {
		if p == nil {
			continue
		}
		est, err := p.Estimate(ctx, symbol, window)
		if err != nil {
			logger.Warnf("producer %s failed for %s: %v", p.Name(), symbol, err)
			out = append(out, nil)
			continue
		}
		if est == nil {
			out = append(out, nil)
			continue
		}
		clamped := est.Clamped()
		if strings.TrimSpace(clamped.Producer) == "" {
			clamped.Producer = p.Name()
		}
		out = append(out, &clamped)
	}
	return out
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
