package config

import (
	"chorus/internal/engine"
	"chorus/internal/exclusion"
	"chorus/internal/fusion"
	"chorus/internal/gateway/binance"
	"chorus/internal/ledger"
	"chorus/internal/validator"
)

// Config is the full application configuration.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Market    MarketConfig     `mapstructure:"market"`
	Engine    engine.Config    `mapstructure:"engine"`
	Fusion    fusion.Config    `mapstructure:"fusion"`
	Ledger    ledger.Config    `mapstructure:"ledger"`
	Exclusion exclusion.Config `mapstructure:"exclusion"`
	Validator validator.Config `mapstructure:"validator"`
	Store     StoreConfig      `mapstructure:"store"`
	HTTP      HTTPConfig       `mapstructure:"http"`
}

type AppConfig struct {
	LogLevel          string `mapstructure:"log_level"`
	LogFile           string `mapstructure:"log_file"`
	RegimeProfilePath string `mapstructure:"regime_profile_path"`
}

type MarketConfig struct {
	Interval       string         `mapstructure:"interval"`
	OffsetSeconds  int            `mapstructure:"offset_seconds"`
	RunImmediately bool           `mapstructure:"run_immediately"`
	MaxCached      int            `mapstructure:"max_cached"`
	Binance        binance.Config `mapstructure:"binance"`
}

type StoreConfig struct {
	Path        string `mapstructure:"path"`
	JournalPath string `mapstructure:"journal_path"`
	ShareDB     bool   `mapstructure:"share_db"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}
