package config

import "strings"

// applyDefaults fills the top-level zero values. The component configs
// default their own tuning knobs in their constructors.
func (c *Config) applyDefaults() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}
	if strings.TrimSpace(c.Market.Interval) == "" {
		c.Market.Interval = "1h"
	}
	if c.Market.OffsetSeconds <= 0 {
		c.Market.OffsetSeconds = 10
	}
	if c.Market.MaxCached <= 0 {
		c.Market.MaxCached = 500
	}
	if strings.TrimSpace(c.Market.Binance.Interval) == "" {
		c.Market.Binance.Interval = c.Market.Interval
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = "data/chorus.db"
	}
	if strings.TrimSpace(c.Store.JournalPath) == "" {
		c.Store.JournalPath = c.Store.Path
		c.Store.ShareDB = true
	}
	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = ":9992"
	}
}
