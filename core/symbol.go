package core

import "strings"

// SymbolClass buckets symbols for risk caps and sizing
type SymbolClass string

const (
	ClassCrypto  SymbolClass = "crypto"
	ClassMetal   SymbolClass = "metal"
	ClassFXMajor SymbolClass = "fx_major"
	ClassFXCross SymbolClass = "fx_cross"
)

// brokerSuffixes are account-type decorations brokers append to symbol names.
var brokerSuffixes = []string{".pro", ".raw", ".ecn", ".m", ".c", "_i", "-z"}

var majorCurrencies = map[string]bool{
	"EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "NZD": true,
}

var cryptoBases = map[string]bool{
	"BTC": true, "ETH": true, "XRP": true, "LTC": true,
	"SOL": true, "BNB": true, "ADA": true, "DOGE": true,
}

// NormalizeSymbol maps an external symbol reference to the engine's
// canonical form: uppercase, no separators, broker suffixes stripped.
// All boundary inputs pass through here before any lookup.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, " ", "")
	for _, suffix := range brokerSuffixes {
		upper := strings.ToUpper(suffix)
		if strings.HasSuffix(s, upper) && len(s) > len(upper) {
			s = s[:len(s)-len(upper)]
			break
		}
	}
	return s
}

// Classify buckets a normalized symbol into its risk class
func Classify(symbol string) SymbolClass {
	s := NormalizeSymbol(symbol)
	if strings.HasPrefix(s, "XAU") || strings.HasPrefix(s, "XAG") {
		return ClassMetal
	}
	for base := range cryptoBases {
		if strings.HasPrefix(s, base) {
			return ClassCrypto
		}
	}
	if len(s) == 6 {
		base, quote := s[:3], s[3:]
		if base == "USD" && majorCurrencies[quote] || quote == "USD" && majorCurrencies[base] {
			return ClassFXMajor
		}
	}
	return ClassFXCross
}
