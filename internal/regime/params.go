package regime

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Params is the fixed tuning bundle downstream components read per regime.
// Values come from the regimes profile file, never hardcoded per instrument.
type Params struct {
	ExitConfidence      float64       `yaml:"exit_confidence"`
	PositionSizeMult    float64       `yaml:"position_size_mult"`
	StopLossMult        float64       `yaml:"stop_loss_mult"`
	MinHold             time.Duration `yaml:"min_hold"`
	MaxHold             time.Duration `yaml:"max_hold"`
	RotationSensitivity float64       `yaml:"rotation_sensitivity"`
}

// UnmarshalYAML accepts hold windows in Go duration syntax ("30m", "8h").
func (p *Params) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		ExitConfidence      float64 `yaml:"exit_confidence"`
		PositionSizeMult    float64 `yaml:"position_size_mult"`
		StopLossMult        float64 `yaml:"stop_loss_mult"`
		MinHold             string  `yaml:"min_hold"`
		MaxHold             string  `yaml:"max_hold"`
		RotationSensitivity float64 `yaml:"rotation_sensitivity"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	minHold, err := parseHold(aux.MinHold)
	if err != nil {
		return fmt.Errorf("min_hold: %w", err)
	}
	maxHold, err := parseHold(aux.MaxHold)
	if err != nil {
		return fmt.Errorf("max_hold: %w", err)
	}
	*p = Params{
		ExitConfidence:      aux.ExitConfidence,
		PositionSizeMult:    aux.PositionSizeMult,
		StopLossMult:        aux.StopLossMult,
		MinHold:             minHold,
		MaxHold:             maxHold,
		RotationSensitivity: aux.RotationSensitivity,
	}
	return nil
}

func parseHold(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func (p Params) validate(t Type) error {
	if p.ExitConfidence < 0 || p.ExitConfidence > 1 {
		return fmt.Errorf("regime %s: exit_confidence %.2f out of [0,1]", t, p.ExitConfidence)
	}
	if p.PositionSizeMult <= 0 || p.PositionSizeMult > 3 {
		return fmt.Errorf("regime %s: position_size_mult %.2f out of (0,3]", t, p.PositionSizeMult)
	}
	if p.StopLossMult <= 0 || p.StopLossMult > 5 {
		return fmt.Errorf("regime %s: stop_loss_mult %.2f out of (0,5]", t, p.StopLossMult)
	}
	if p.MinHold < 0 || p.MaxHold < 0 || (p.MaxHold > 0 && p.MinHold > p.MaxHold) {
		return fmt.Errorf("regime %s: hold window %s..%s invalid", t, p.MinHold, p.MaxHold)
	}
	if p.RotationSensitivity < 0 || p.RotationSensitivity > 1 {
		return fmt.Errorf("regime %s: rotation_sensitivity %.2f out of [0,1]", t, p.RotationSensitivity)
	}
	return nil
}

// ParamSet maps each regime type to its bundle. All four types must be
// present and valid.
type ParamSet map[Type]Params

func (ps ParamSet) Validate() error {
	for _, t := range []Type{Bull, Bear, Choppy, Crash} {
		p, ok := ps[t]
		if !ok {
			return fmt.Errorf("regime params: missing bundle for %s", t)
		}
		if err := p.validate(t); err != nil {
			return err
		}
	}
	return nil
}

// DefaultParams returns the built-in bundles used when no profile file is
// configured.
func DefaultParams() ParamSet {
	return ParamSet{
		Bull: {
			ExitConfidence:      0.40,
			PositionSizeMult:    1.20,
			StopLossMult:        1.50,
			MinHold:             30 * time.Minute,
			MaxHold:             8 * time.Hour,
			RotationSensitivity: 0.30,
		},
		Bear: {
			ExitConfidence:      0.50,
			PositionSizeMult:    0.80,
			StopLossMult:        1.20,
			MinHold:             15 * time.Minute,
			MaxHold:             4 * time.Hour,
			RotationSensitivity: 0.50,
		},
		Choppy: {
			ExitConfidence:      0.60,
			PositionSizeMult:    0.60,
			StopLossMult:        1.00,
			MinHold:             10 * time.Minute,
			MaxHold:             2 * time.Hour,
			RotationSensitivity: 0.70,
		},
		Crash: {
			ExitConfidence:      0.75,
			PositionSizeMult:    0.30,
			StopLossMult:        0.80,
			MinHold:             5 * time.Minute,
			MaxHold:             1 * time.Hour,
			RotationSensitivity: 0.90,
		},
	}
}
