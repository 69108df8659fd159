package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in    string
		base  string
		quote string
	}{
		{"BTC/USDT", "BTC", "USDT"},
		{"btc/usdt", "BTC", "USDT"},
		{"BTC/USDT:USDT", "BTC", "USDT"},
		{"ETHUSDT", "ETH", "USDT"},
		{"SOLBTC", "SOL", "BTC"},
		{"USDT", "", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		got := Parse(tc.in)
		assert.Equal(t, tc.base, got.Base, "input %q", tc.in)
		assert.Equal(t, tc.quote, got.Quote, "input %q", tc.in)
	}
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{"btc/usdt", "BTCUSDT", "ETH/USDT", " ", "soloup"})
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT", "SOLOUP"}, got)
}

func TestToExchange(t *testing.T) {
	assert.Equal(t, "ETHUSDT", ToExchange("eth/usdt"))
	assert.Equal(t, "BTCUSDT", ToExchange("BTCUSDT"))
}
