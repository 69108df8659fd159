package config

import (
	"fmt"
	"strings"

	symbolpkg "chorus/internal/pkg/symbol"
	"chorus/internal/scheduler"
)

func validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine.symbols must not be empty")
	}
	normalized := symbolpkg.NormalizeList(c.Engine.Symbols)
	if len(normalized) == 0 {
		return fmt.Errorf("engine.symbols contains no valid symbols")
	}
	c.Engine.Symbols = normalized

	if _, ok := scheduler.ParseIntervalDuration(c.Market.Interval); !ok {
		return fmt.Errorf("market.interval %q is not a valid interval", c.Market.Interval)
	}

	switch strings.ToLower(strings.TrimSpace(c.App.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level %q must be one of debug, info, warn, error", c.App.LogLevel)
	}

	if c.Ledger.SmoothingAlpha < 0 || c.Ledger.SmoothingAlpha > 1 {
		return fmt.Errorf("ledger.smoothing_alpha %.2f must be within [0,1]", c.Ledger.SmoothingAlpha)
	}
	if c.Exclusion.MaxAccuracy < 0 || c.Exclusion.MaxAccuracy > 1 {
		return fmt.Errorf("exclusion.max_accuracy %.2f must be within [0,1]", c.Exclusion.MaxAccuracy)
	}
	if c.Validator.MinRiskReward < 0 {
		return fmt.Errorf("validator.min_risk_reward must not be negative")
	}
	return nil
}
