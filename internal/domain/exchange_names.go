package domain

import "strings"

var exchangeDisplayNames = map[string]string{
	"binance":     "Binance",
	"okx":         "OKX",
	"bybit":       "Bybit",
	"gate":        "Gate",
	"gateio":      "Gate.io",
	"mexc":        "MEXC",
	"bitget":      "Bitget",
	"kucoin":      "KuCoin",
	"htx":         "HTX",
	"bingx":       "BingX",
	"hyperliquid": "Hyperliquid",
	"dydx":        "dYdX",
	"coinex":      "CoinEx",
	"bitmex":      "BitMEX",
	"deribit":     "Deribit",
}

// ExchangeDisplayName maps a normalized exchange key to a label.
func ExchangeDisplayName(key string) string {
	if name, ok := exchangeDisplayNames[key]; ok {
		return name
	}
	if key == "" {
		return ""
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
