// Package universe resolves named stock universes to their constituents and
// classifies symbols by exchange segment.
package universe

import (
	"sort"
	"strings"
)

// Universe names accepted by the engine and scheduler.
const (
	Nifty50   = "nifty50"
	BankNifty = "banknifty"
	Nifty100  = "nifty100"
	Nifty500  = "nifty500"
)

// nifty50 holds the NIFTY50 constituents (NSE trading symbols).
var nifty50 = []string{
	"ADANIENT", "ADANIPORTS", "APOLLOHOSP", "ASIANPAINT", "AXISBANK",
	"BAJAJ-AUTO", "BAJFINANCE", "BAJAJFINSV", "BEL", "BHARTIARTL",
	"BPCL", "BRITANNIA", "CIPLA", "COALINDIA", "DRREDDY",
	"EICHERMOT", "GRASIM", "HCLTECH", "HDFCBANK", "HDFCLIFE",
	"HEROMOTOCO", "HINDALCO", "HINDUNILVR", "ICICIBANK", "INDUSINDBK",
	"INFY", "ITC", "JSWSTEEL", "KOTAKBANK", "LT",
	"M&M", "MARUTI", "NESTLEIND", "NTPC", "ONGC",
	"POWERGRID", "RELIANCE", "SBILIFE", "SBIN", "SHRIRAMFIN",
	"SUNPHARMA", "TATACONSUM", "TATAMOTORS", "TATASTEEL", "TCS",
	"TECHM", "TITAN", "TRENT", "ULTRACEMCO", "WIPRO",
}

// bankNifty holds the BANKNIFTY constituents.
var bankNifty = []string{
	"AUBANK", "AXISBANK", "BANDHANBNK", "BANKBARODA", "CANBK",
	"FEDERALBNK", "HDFCBANK", "ICICIBANK", "IDFCFIRSTB", "INDUSINDBK",
	"KOTAKBANK", "PNB", "SBIN",
}

// nifty100Extra extends NIFTY50 to the NIFTY100 set.
var nifty100Extra = []string{
	"ABB", "ADANIGREEN", "ADANIPOWER", "AMBUJACEM", "BAJAJHLDNG",
	"BANKBARODA", "BOSCHLTD", "CANBK", "CHOLAFIN", "COLPAL",
	"DABUR", "DLF", "DMART", "GAIL", "GODREJCP",
	"HAVELLS", "HAL", "ICICIGI", "ICICIPRULI", "INDIGO",
	"IOC", "IRFC", "JINDALSTEL", "JIOFIN", "LICI",
	"LODHA", "LTIM", "MARICO", "MOTHERSON", "NAUKRI",
	"PFC", "PIDILITIND", "PNB", "RECLTD", "SHREECEM",
	"SIEMENS", "SRF", "TATAPOWER", "TORNTPHARM", "TVSMOTOR",
	"UNITDSPR", "VBL", "VEDL", "ZOMATO", "ZYDUSLIFE",
}

// Resolve returns the constituents of a named universe. Unknown names
// resolve to the NIFTY50 set so a mistyped scheduler entry degrades to the
// default universe instead of an empty run.
func Resolve(name string) []string {
	switch strings.ToLower(name) {
	case BankNifty:
		return clone(bankNifty)
	case Nifty100:
		return dedupe(append(clone(nifty50), nifty100Extra...))
	case Nifty500:
		// The full 500-name list is synced from the exchange master; until
		// then the 100-name set is the broadest offline universe.
		return dedupe(append(clone(nifty50), nifty100Extra...))
	default:
		return clone(nifty50)
	}
}

// AlwaysOn returns the deduped NIFTY50 + BANKNIFTY set kept permanently
// subscribed on the tick feed so the tick cache stays warm.
func AlwaysOn() []string {
	return dedupe(append(clone(nifty50), bankNifty...))
}

// IsDerivative reports whether a symbol looks like an NFO contract: it
// carries digits (expiry/strike) and ends in CE, PE, or FUT.
func IsDerivative(symbol string) bool {
	s := strings.ToUpper(symbol)
	hasDigit := strings.ContainsAny(s, "0123456789")
	suffix := strings.HasSuffix(s, "CE") || strings.HasSuffix(s, "PE") || strings.HasSuffix(s, "FUT")
	return hasDigit && suffix
}

// Exchange returns the exchange segment for a symbol: NFO for derivative
// contracts, NSE otherwise.
func Exchange(symbol string) string {
	if IsDerivative(symbol) {
		return "NFO"
	}
	return "NSE"
}

func clone(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
