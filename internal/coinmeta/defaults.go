package coinmeta

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Defaults applied when no source sets them.
const (
	DefaultHost = "127.0.0.1"
)

// DefaultHelloAmount is the minimum first payment for a coin with no
// configured hello amount.
var DefaultHelloAmount = decimal.New(1, -3)

// builtin holds the coins known out of the box. Everything here can be
// overridden by coin_defaults.yaml, the wallet's own conf file and
// coin_user.yaml, in that order.
var builtin = map[string]Coin{
	"BTC": {
		Symbol:  "BTC",
		Name:    "Bitcoin",
		RPCPort: 8332,
	},
	"LTC": {
		Symbol:  "LTC",
		Name:    "Litecoin",
		RPCPort: 9332,
	},
	"PPC": {
		Symbol:      "PPC",
		Name:        "Peercoin",
		RPCPort:     9902,
		HelloAmount: decimal.New(1, -2), // 0.01 PPC, the network minimum output
	},
	"DOGE": {
		Symbol:      "DOGE",
		Name:        "Dogecoin",
		RPCPort:     22555,
		HelloAmount: decimal.NewFromInt(1),
	},
	"NMC": {
		Symbol:  "NMC",
		Name:    "Namecoin",
		RPCPort: 8336,
	},
}

// Known returns the symbols with built-in defaults, sorted.
func Known() []string {
	symbols := make([]string, 0, len(builtin))
	for s := range builtin {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
