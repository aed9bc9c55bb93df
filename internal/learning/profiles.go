package learning

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"arise-trading-engine/internal/domain"
)

// SimTrade is one historical pick replayed against an exit profile.
type SimTrade struct {
	Symbol     string
	Direction  domain.Direction
	EntryPrice float64
	EntryTime  time.Time
	Candles    []domain.Candle
}

// SimResult is the outcome of one simulated exit.
type SimResult struct {
	ExitPrice      float64
	ExitTime       time.Time
	ExitReason     string
	RetPct         float64
	MaxRunupPct    float64
	MaxDrawdownPct float64
	HitTarget      bool
	HitStop        bool
	CaptureRatio   float64
}

// ProfileStats aggregates simulated results for one profile in one mode.
type ProfileStats struct {
	ProfileID     string  `json:"profile_id"`
	Trades        int     `json:"trades"`
	AvgRetPct     float64 `json:"avg_ret_pct"`
	AvgDrawdown   float64 `json:"avg_drawdown_pct"`
	WinRate       float64 `json:"win_rate"`
	HitTargetRate float64 `json:"hit_target_rate"`
	HitStopRate   float64 `json:"hit_stop_rate"`
	AvgCapture    float64 `json:"avg_capture"`
	Score         float64 `json:"score"`
}

// resolveStop returns the absolute stop price, or false when the rule type
// cannot be resolved offline (atr_multiple needs live ATR context).
func resolveStop(rule domain.StopRule, entry float64, dir domain.Direction) (float64, bool) {
	switch rule.Type {
	case "percent":
		if dir == domain.Short {
			return entry * (1 + rule.Value/100), true
		}
		return entry * (1 - rule.Value/100), true
	case "price":
		return rule.Value, rule.Value > 0
	default:
		return 0, false
	}
}

func resolveTarget(rule domain.TargetRule, entry, stop float64, dir domain.Direction) (float64, bool) {
	sign := dir.Sign()
	switch rule.Type {
	case "percent":
		return entry * (1 + sign*rule.Value/100), true
	case "price":
		return rule.Value, rule.Value > 0
	case "rr_multiple":
		stopDist := sign * (entry - stop)
		if stopDist <= 0 {
			return 0, false
		}
		return entry + sign*rule.Value*stopDist, true
	default:
		return 0, false
	}
}

// SimulateExit walks the trade's candles applying the profile's rules. Within
// a bar, conditions fire in the profile's priority order; the exit price is
// clamped into the bar's range. A trade that never exits closes on the final
// bar.
func SimulateExit(trade SimTrade, profile domain.ExitProfile) (SimResult, bool) {
	entry := trade.EntryPrice
	if entry <= 0 || len(trade.Candles) == 0 {
		return SimResult{}, false
	}
	sign := trade.Direction.Sign()

	stopPrice, haveStop := resolveStop(profile.Stop, entry, trade.Direction)
	targetPrice, haveTarget := resolveTarget(profile.Target, entry, stopPrice, trade.Direction)
	stopDist := sign * (entry - stopPrice)

	var deadline time.Time
	if profile.TimeStop.Enabled && profile.TimeStop.MaxHoldMinutes > 0 {
		deadline = trade.EntryTime.Add(time.Duration(profile.TimeStop.MaxHoldMinutes) * time.Minute)
	}

	trailActive := false
	trailStop := 0.0
	peak := entry

	maxRunup := 0.0
	maxDrawdown := 0.0

	finish := func(price float64, reason string, at time.Time) (SimResult, bool) {
		ret := sign * (price - entry) / entry * 100
		capture := 0.0
		if maxRunup > 0 {
			capture = clip(ret/maxRunup, 0, 1)
		}
		return SimResult{
			ExitPrice:      price,
			ExitTime:       at,
			ExitReason:     reason,
			RetPct:         ret,
			MaxRunupPct:    maxRunup,
			MaxDrawdownPct: maxDrawdown,
			HitTarget:      reason == domain.ExitTargetHit,
			HitStop:        reason == domain.ExitStopLoss,
			CaptureRatio:   capture,
		}, true
	}

	for _, c := range trade.Candles {
		favorable, adverse := c.High, c.Low
		if trade.Direction == domain.Short {
			favorable, adverse = c.Low, c.High
		}
		if runup := sign * (favorable - entry) / entry * 100; runup > maxRunup {
			maxRunup = runup
		}
		if dd := sign * (adverse - entry) / entry * 100; dd < maxDrawdown {
			maxDrawdown = dd
		}

		for _, cond := range profile.Priority() {
			switch cond {
			case domain.CondStop:
				if haveStop && sign*(adverse-stopPrice) <= 0 {
					return finish(clampToBar(stopPrice, c), domain.ExitStopLoss, c.Timestamp)
				}
			case domain.CondTrail:
				if trailActive && sign*(adverse-trailStop) <= 0 {
					return finish(clampToBar(trailStop, c), domain.ExitTrailingStop, c.Timestamp)
				}
			case domain.CondTarget:
				if haveTarget && sign*(favorable-targetPrice) >= 0 {
					return finish(clampToBar(targetPrice, c), domain.ExitTargetHit, c.Timestamp)
				}
			case domain.CondTime:
				if !deadline.IsZero() && !c.Timestamp.Before(deadline) {
					return finish(c.Close, domain.ExitTimeExit, c.Timestamp)
				}
			}
		}

		// Advance the trailing state on this bar's favorable extreme so a
		// trail set here can only fire from the next bar onward.
		if sign*(favorable-peak) > 0 {
			peak = favorable
		}
		if profile.Trailing.Enabled && !trailActive {
			profitPct := sign * (peak - entry) / entry * 100
			switch profile.Trailing.ActivationType {
			case "percent":
				trailActive = profitPct >= profile.Trailing.ActivationValue
			case "rr_multiple":
				trailActive = stopDist > 0 && sign*(peak-entry) >= profile.Trailing.ActivationValue*stopDist
			}
		}
		if trailActive {
			dist := 0.0
			switch profile.Trailing.TrailType {
			case "percent":
				dist = peak * profile.Trailing.TrailValue / 100
			case "rr_multiple":
				dist = profile.Trailing.TrailValue * stopDist
			}
			if dist > 0 {
				candidate := peak - sign*dist
				if trailStop == 0 || sign*(candidate-trailStop) > 0 {
					trailStop = candidate
				}
			}
		}
	}

	last := trade.Candles[len(trade.Candles)-1]
	return finish(last.Close, domain.ExitEODAuto, last.Timestamp)
}

func clampToBar(price float64, c domain.Candle) float64 {
	if price > c.High {
		return c.High
	}
	if price < c.Low {
		return c.Low
	}
	return price
}

// EvaluateProfiles replays every trade against every profile and aggregates.
// The composite score rewards return and capture while penalizing drawdown
// and stop hits.
func EvaluateProfiles(trades []SimTrade, profiles []domain.ExitProfile) []ProfileStats {
	out := make([]ProfileStats, 0, len(profiles))
	for _, profile := range profiles {
		var rets, dds, captures []float64
		wins, targets, stops := 0, 0, 0
		for _, trade := range trades {
			res, ok := SimulateExit(trade, profile)
			if !ok {
				continue
			}
			rets = append(rets, res.RetPct)
			dds = append(dds, res.MaxDrawdownPct)
			captures = append(captures, res.CaptureRatio)
			if res.RetPct > 0 {
				wins++
			}
			if res.HitTarget {
				targets++
			}
			if res.HitStop {
				stops++
			}
		}
		n := len(rets)
		stats := ProfileStats{ProfileID: profile.ID, Trades: n}
		if n > 0 {
			fn := float64(n)
			stats.AvgRetPct = stat.Mean(rets, nil)
			stats.AvgDrawdown = stat.Mean(dds, nil)
			stats.AvgCapture = stat.Mean(captures, nil)
			stats.WinRate = float64(wins) / fn
			stats.HitTargetRate = float64(targets) / fn
			stats.HitStopRate = float64(stops) / fn
			// Drawdown is stored signed (adverse excursions are negative),
			// so the penalty takes the magnitude.
			stats.Score = 1.0*stats.AvgRetPct + 0.5*stats.AvgCapture - 0.5*math.Abs(stats.AvgDrawdown) - 0.3*stats.HitStopRate*100
		}
		out = append(out, stats)
	}
	return out
}

// BestProfile picks the highest-scoring profile with at least one trade.
// Ties keep the earlier declared profile.
func BestProfile(stats []ProfileStats) (string, bool) {
	bestIdx := -1
	for i, s := range stats {
		if s.Trades == 0 {
			continue
		}
		if bestIdx < 0 || s.Score > stats[bestIdx].Score {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return "", false
	}
	return stats[bestIdx].ProfileID, true
}

// SortByScore orders stats descending by score for reporting.
func SortByScore(stats []ProfileStats) {
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
}
