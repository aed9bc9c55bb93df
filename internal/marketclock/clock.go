// Package marketclock classifies instants against NSE session windows.
// All predicates are pure functions of the IST wall clock so they can be
// tested with frozen times and reused by every plane without drift.
package marketclock

import (
	"time"
)

// IST is UTC+05:30. India has no DST, so a fixed zone is exact.
var IST = time.FixedZone("IST", 5*3600+30*60)

// Clock supplies the current instant. The real implementation reads the
// system clock; tests freeze it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current instant.
func (SystemClock) Now() time.Time { return time.Now() }

// Frozen is a fixed-instant clock for tests and backfills.
type Frozen struct {
	At time.Time
}

// Now returns the frozen instant.
func (f Frozen) Now() time.Time { return f.At }

// NowIST converts the clock's instant to IST.
func NowIST(c Clock) time.Time { return c.Now().In(IST) }

// TradeDate returns the IST calendar date of t formatted YYYY-MM-DD.
func TradeDate(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// IsTradingDay reports whether t falls on a trading weekday (Mon-Fri IST).
func IsTradingDay(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

func minuteOfDay(t time.Time) int {
	ist := t.In(IST)
	return ist.Hour()*60 + ist.Minute()
}

// IsMarketOpen reports whether the cash market is open: 09:15 <= t < 15:30 IST
// on a trading weekday.
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	m := minuteOfDay(t)
	return m >= 9*60+15 && m < 15*60+30
}

// InScalpingWindow reports whether scalping cycles may run: 09:20-15:30 IST.
func InScalpingWindow(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	m := minuteOfDay(t)
	return m >= 9*60+20 && m <= 15*60+30
}

// InEODWindow reports whether EOD auto-exit processing is permitted:
// 15:30-15:45 IST after the close.
func InEODWindow(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	m := minuteOfDay(t)
	return m >= 15*60+30 && m <= 15*60+45
}

// AfterHardCutoff reports whether t is past the 15:15 IST intraday cutoff.
// After this point Scalping/Intraday/Options/Futures refreshes are skipped
// unless the trigger is a backfill.
func AfterHardCutoff(t time.Time) bool {
	if !IsTradingDay(t) {
		return true
	}
	return minuteOfDay(t) >= 15*60+15
}

// SessionSegment buckets the IST instant into the coarse intraday segment
// used as bandit context: opening drive, midday, or closing hour.
func SessionSegment(t time.Time) string {
	m := minuteOfDay(t)
	switch {
	case m < 9*60+15:
		return "preopen"
	case m < 10*60+30:
		return "open"
	case m < 14*60+30:
		return "mid"
	case m < 15*60+30:
		return "close"
	default:
		return "post"
	}
}

// SameISOWeek reports whether a and b fall in the same ISO week in IST.
func SameISOWeek(a, b time.Time) bool {
	ay, aw := a.In(IST).ISOWeek()
	by, bw := b.In(IST).ISOWeek()
	return ay == by && aw == bw
}

// SameISTDate reports whether a and b share an IST calendar date.
func SameISTDate(a, b time.Time) bool {
	return TradeDate(a) == TradeDate(b)
}

// SameISTMonth reports whether a and b share an IST calendar month.
func SameISTMonth(a, b time.Time) bool {
	ai, bi := a.In(IST), b.In(IST)
	return ai.Year() == bi.Year() && ai.Month() == bi.Month()
}
