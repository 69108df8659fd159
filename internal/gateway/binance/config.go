package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string        `mapstructure:"rest_base_url"`
	Interval    string        `mapstructure:"interval"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	ProxyEnabled bool   `mapstructure:"proxy_enabled"`
	RESTProxyURL string `mapstructure:"rest_proxy_url"`
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	out.Interval = strings.ToLower(strings.TrimSpace(out.Interval))
	if out.Interval == "" {
		out.Interval = "1h"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	return out
}
