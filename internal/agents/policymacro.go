package agents

import (
	"context"
	"time"

	"arise-trading-engine/internal/marketclock"
)

// PolicyMacroAgent applies coarse calendar and session effects: RBI policy
// weeks, monthly expiry Thursdays, and the historically weak first session
// segment after a weekend.
type PolicyMacroAgent struct{}

func (PolicyMacroAgent) Name() string    { return "policymacro" }
func (PolicyMacroAgent) Weight() float64 { return 0.08 }

func (a PolicyMacroAgent) Analyze(_ context.Context, in Input) (Result, error) {
	ist := in.AsOf.In(marketclock.IST)
	score := 50.0
	signals := make([]Signal, 0, 3)

	if isMonthlyExpiryWeek(ist) {
		// Expiry weeks run hot on both sides; dampen conviction.
		score -= 4
		signals = append(signals, Signal{Type: "CALENDAR", Value: 0, Signal: "EXPIRY_WEEK"})
	}

	if ist.Weekday() == time.Monday && ist.Hour() < 11 {
		score -= 3
		signals = append(signals, Signal{Type: "CALENDAR", Value: 0, Signal: "WEEKEND_GAP_RISK"})
	}

	if seg := marketclock.SessionSegment(ist); seg == "close" {
		// Late-session entries carry overnight risk for intraday styles.
		if in.Mode.IsIntradayStyle() {
			score -= 5
			signals = append(signals, Signal{Type: "SESSION", Value: 0, Signal: "LATE_SESSION"})
		}
	}

	score = clampScore(score)
	return Result{
		Score:      score,
		Confidence: confidenceFromDistance(score),
		Signals:    signals,
		Reasoning:  "calendar and session posture",
	}, nil
}

// isMonthlyExpiryWeek reports whether t falls in the week containing the
// last Thursday of the month.
func isMonthlyExpiryWeek(t time.Time) bool {
	lastDay := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location())
	lastThursday := lastDay
	for lastThursday.Weekday() != time.Thursday {
		lastThursday = lastThursday.AddDate(0, 0, -1)
	}
	diff := lastThursday.YearDay() - t.YearDay()
	return diff >= 0 && diff < 5
}
