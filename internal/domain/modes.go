// Package domain holds the shared trading types used across the engine,
// monitors, and learning planes.
package domain

import "strings"

// Mode determines agent weights, exit profile, evaluation horizon, and
// filter thresholds for a run.
type Mode string

const (
	ModeScalping Mode = "Scalping"
	ModeIntraday Mode = "Intraday"
	ModeSwing    Mode = "Swing"
	ModeOptions  Mode = "Options"
	ModeFutures  Mode = "Futures"
)

// AllModes lists every mode in scheduler stagger order.
var AllModes = []Mode{ModeScalping, ModeIntraday, ModeSwing, ModeOptions, ModeFutures}

// ParseMode normalizes a mode string; unknown values map to Intraday.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalping":
		return ModeScalping
	case "swing":
		return ModeSwing
	case "options":
		return ModeOptions
	case "futures":
		return ModeFutures
	default:
		return ModeIntraday
	}
}

// IsIntradayStyle reports whether the mode is bound by the 15:15 IST hard
// cutoff (everything except Swing).
func (m Mode) IsIntradayStyle() bool {
	return m != ModeSwing
}

// Direction is the trade side of a pick or logical position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT, used to sign returns.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Recommendation labels produced from the blend score.
const (
	RecStrongBuy  = "Strong Buy"
	RecBuy        = "Buy"
	RecNeutral    = "Neutral"
	RecHold       = "Hold"
	RecSell       = "Sell"
	RecStrongSell = "Strong Sell"
)

// DirectionFor maps a recommendation label to a trade direction. Neutral and
// Hold have no direction and return false.
func DirectionFor(rec string) (Direction, bool) {
	switch rec {
	case RecStrongBuy, RecBuy:
		return Long, true
	case RecSell, RecStrongSell:
		return Short, true
	default:
		return "", false
	}
}

// Confidence labels attached to agent results and picks.
const (
	ConfidenceLow    = "Low"
	ConfidenceMedium = "Medium"
	ConfidenceHigh   = "High"
)

// Trigger identifies what initiated an engine run.
type Trigger string

const (
	TriggerPreopen       Trigger = "preopen"
	TriggerHourly        Trigger = "hourly"
	TriggerScalpingCycle Trigger = "scalping_cycle"
	TriggerManual        Trigger = "manual"
	TriggerBackfill      Trigger = "backfill"
	TriggerWarmup        Trigger = "warmup"
)
