package marketclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ist(y int, mo time.Month, d, h, m int) time.Time {
	return time.Date(y, mo, d, h, m, 0, 0, IST)
}

func TestSessionWindows(t *testing.T) {
	tests := []struct {
		name     string
		at       time.Time
		open     bool
		scalping bool
		eod      bool
		cutoff   bool
	}{
		{"before open", ist(2025, 11, 24, 9, 0), false, false, false, false},
		{"open bell", ist(2025, 11, 24, 9, 15), true, false, false, false},
		{"scalping start", ist(2025, 11, 24, 9, 20), true, true, false, false},
		{"midday", ist(2025, 11, 24, 12, 0), true, true, false, false},
		{"just before cutoff", ist(2025, 11, 24, 15, 14), true, true, false, false},
		{"hard cutoff", ist(2025, 11, 24, 15, 15), true, true, false, true},
		{"close", ist(2025, 11, 24, 15, 30), false, true, true, true},
		{"eod window end", ist(2025, 11, 24, 15, 45), false, false, true, true},
		{"after eod", ist(2025, 11, 24, 16, 0), false, false, false, true},
		{"saturday", ist(2025, 11, 22, 12, 0), false, false, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.open, IsMarketOpen(tc.at), "IsMarketOpen")
			assert.Equal(t, tc.scalping, InScalpingWindow(tc.at), "InScalpingWindow")
			assert.Equal(t, tc.eod, InEODWindow(tc.at), "InEODWindow")
			assert.Equal(t, tc.cutoff, AfterHardCutoff(tc.at), "AfterHardCutoff")
		})
	}
}

func TestPredicatesArePure(t *testing.T) {
	at := ist(2025, 11, 24, 15, 20)
	for i := 0; i < 5; i++ {
		assert.True(t, AfterHardCutoff(at))
		assert.True(t, IsMarketOpen(at))
	}
}

func TestTradeDateUsesIST(t *testing.T) {
	// 23:55 UTC on the 23rd is already the 24th in IST.
	utc := time.Date(2025, 11, 23, 23, 55, 0, 0, time.UTC)
	assert.Equal(t, "2025-11-24", TradeDate(utc))
}

func TestSessionSegment(t *testing.T) {
	assert.Equal(t, "preopen", SessionSegment(ist(2025, 11, 24, 8, 30)))
	assert.Equal(t, "open", SessionSegment(ist(2025, 11, 24, 9, 45)))
	assert.Equal(t, "mid", SessionSegment(ist(2025, 11, 24, 13, 0)))
	assert.Equal(t, "close", SessionSegment(ist(2025, 11, 24, 15, 0)))
	assert.Equal(t, "post", SessionSegment(ist(2025, 11, 24, 17, 0)))
}

func TestISOWeekAndDateBoundaries(t *testing.T) {
	a := ist(2025, 11, 23, 23, 55)
	b := ist(2025, 11, 24, 0, 5)
	assert.False(t, SameISTDate(a, b))
	// Sunday and Monday land in different ISO weeks.
	assert.False(t, SameISOWeek(a, b))

	c := ist(2025, 11, 25, 10, 0)
	assert.True(t, SameISOWeek(b, c))
	assert.True(t, SameISTMonth(a, b))
}
