package srlevels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

func windowCandles(n int, high, low, last float64) []domain.Candle {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, marketclock.IST)
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Timestamp: base.AddDate(0, 0, i),
			Open:      (high + low) / 2,
			High:      low + (high-low)*0.8,
			Low:       low + (high-low)*0.2,
			Close:     (high + low) / 2,
		}
	}
	// Window extremes and final close land on known bars.
	out[n/2].High = high
	out[n/3].Low = low
	out[n-1].Close = last
	return out
}

func TestFloorPivotFormula(t *testing.T) {
	now := time.Date(2026, 8, 26, 16, 0, 0, 0, marketclock.IST)
	levels, err := Compute("RELIANCE", ScopeWeekly, windowCandles(5, 110, 90, 100), now)
	require.NoError(t, err)

	p := (110.0 + 90.0 + 100.0) / 3
	assert.InDelta(t, p, levels.Pivot, 1e-9)
	assert.InDelta(t, 2*p-90, levels.R1, 1e-9)
	assert.InDelta(t, 2*p-110, levels.S1, 1e-9)
	assert.InDelta(t, p+20, levels.R2, 1e-9)
	assert.InDelta(t, p-20, levels.S2, 1e-9)
	assert.InDelta(t, 110+2*(p-90), levels.R3, 1e-9)
	assert.InDelta(t, 90-2*(110-p), levels.S3, 1e-9)
}

func TestComputeTruncatesToScopeWindow(t *testing.T) {
	now := time.Now()
	candles := windowCandles(40, 200, 50, 100)
	// Weekly scope only sees the last 5 bars, which exclude the extremes.
	levels, err := Compute("TCS", ScopeWeekly, candles, now)
	require.NoError(t, err)
	assert.Less(t, levels.WindowHigh, 200.0)
	assert.Greater(t, levels.WindowLow, 50.0)

	_, err = Compute("TCS", "Q", candles, now)
	assert.Error(t, err)
	_, err = Compute("TCS", ScopeDaily, nil, now)
	assert.Error(t, err)
}

func TestScopeStaleness(t *testing.T) {
	mk := func(scope string, at time.Time) Levels {
		return Levels{Scope: scope, ComputedAt: at.UTC()}
	}

	wedIST := time.Date(2026, 8, 26, 10, 0, 0, 0, marketclock.IST)

	// Daily: turns stale when the IST date changes.
	assert.False(t, IsStale(mk(ScopeDaily, wedIST), wedIST.Add(4*time.Hour)))
	assert.True(t, IsStale(mk(ScopeDaily, wedIST), wedIST.AddDate(0, 0, 1)))

	// Weekly: stale only across the ISO week boundary (Sunday→Monday).
	friIST := time.Date(2026, 8, 28, 10, 0, 0, 0, marketclock.IST)
	monIST := time.Date(2026, 8, 31, 10, 0, 0, 0, marketclock.IST)
	assert.False(t, IsStale(mk(ScopeWeekly, wedIST), friIST))
	assert.True(t, IsStale(mk(ScopeWeekly, friIST), monIST))

	// Monthly: daily refresh; the window slides every session.
	assert.False(t, IsStale(mk(ScopeMonthly, wedIST), wedIST.Add(4*time.Hour)))
	assert.True(t, IsStale(mk(ScopeMonthly, wedIST), wedIST.AddDate(0, 0, 1)))

	// Yearly: one calendar week of validity.
	assert.False(t, IsStale(mk(ScopeYearly, wedIST), wedIST.AddDate(0, 0, 6)))
	assert.True(t, IsStale(mk(ScopeYearly, wedIST), wedIST.AddDate(0, 0, 8)))

	assert.True(t, IsStale(Levels{Scope: ScopeDaily}, wedIST))
}

func TestScoreAtPriceBands(t *testing.T) {
	levels := Levels{Pivot: 100, R1: 105, R2: 110, R3: 115, S1: 95, S2: 90, S3: 85}

	cases := []struct {
		price float64
		want  float64
	}{
		{80, 95},
		{87, 85},
		{93, 72},
		{98, 58},
		{103, 45},
		{108, 30},
		{113, 18},
		{120, 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ScoreAtPrice(levels, tc.price), "price %.0f", tc.price)
	}
}

func TestWindowFor(t *testing.T) {
	assert.Equal(t, 252, WindowFor(ScopeYearly))
	assert.Equal(t, 22, WindowFor(ScopeMonthly))
	assert.Equal(t, 5, WindowFor(ScopeWeekly))
	assert.Equal(t, 1, WindowFor(ScopeDaily))
	assert.Zero(t, WindowFor("Q"))
}
