package engine

import (
	"arise-trading-engine/internal/agents"
	"arise-trading-engine/internal/domain"
)

// Bucket labels stamped onto picks as bandit context.
const (
	VolLow    = "LOW"
	VolMedium = "MEDIUM"
	VolHigh   = "HIGH"

	ValueSmall = "small"
	ValueMid   = "mid"
	ValueLarge = "large"

	RegimeUnknown = "UNKNOWN"

	DefaultRiskBucket = "balanced"
)

// volBucket classifies day-candle ATR% into the coarse volatility context.
func volBucket(daily []domain.Candle) string {
	atrPct, ok := agents.ATRPercent(daily, 14)
	if !ok {
		return VolMedium
	}
	switch {
	case atrPct >= 3:
		return VolHigh
	case atrPct >= 1.5:
		return VolMedium
	default:
		return VolLow
	}
}

// valueBucket classifies traded value (price x volume, INR) so the exit
// bandit can separate liquid large-caps from thin names.
func valueBucket(quote domain.Quote) string {
	turnover := quote.Price * quote.Volume
	switch {
	case turnover >= 5e9:
		return ValueLarge
	case turnover >= 5e8:
		return ValueMid
	default:
		return ValueSmall
	}
}

// regimeBucket lifts the market-regime agent's classification out of the
// blend results.
func regimeBucket(results []agents.Result) string {
	for _, r := range results {
		if r.AgentType != "regime" {
			continue
		}
		if regime, ok := r.Metadata["regime"].(string); ok && regime != "" {
			return regime
		}
	}
	return RegimeUnknown
}
