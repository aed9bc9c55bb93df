package candlecache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

type stepClock struct{ at time.Time }

func (c *stepClock) Now() time.Time { return c.at }

func testCandles(n int) []domain.Candle {
	base := time.Date(2026, 8, 24, 9, 15, 0, 0, marketclock.IST)
	out := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      100 + float64(i),
			High:      101 + float64(i),
			Low:       99 + float64(i),
			Close:     100.5 + float64(i),
			Volume:    1000,
		})
	}
	return out
}

func newTestCache(t *testing.T, clock marketclock.Clock) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), clock, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	clock := &stepClock{at: time.Date(2026, 8, 24, 10, 0, 0, 0, marketclock.IST)}
	c := newTestCache(t, clock)

	from := time.Date(2026, 8, 24, 9, 15, 0, 0, marketclock.IST)
	to := from.Add(30 * time.Minute)
	candles := testCandles(5)

	require.NoError(t, c.Set("RELIANCE", "5m", from, to, "kite", candles))

	got, ok := c.Get("RELIANCE", "5m", from, to, "kite")
	require.True(t, ok)
	require.Len(t, got, 5)
	assert.True(t, got[0].Timestamp.Equal(candles[0].Timestamp))
	assert.Equal(t, candles[2].Close, got[2].Close)
}

func TestEmptySetIsNoOp(t *testing.T) {
	clock := &stepClock{at: time.Now()}
	c := newTestCache(t, clock)

	from, to := time.Now().Add(-time.Hour), time.Now()
	require.NoError(t, c.Set("TCS", "1d", from, to, "kite", nil))

	_, ok := c.Get("TCS", "1d", from, to, "kite")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.GetStats().Writes)
}

func TestTTLExpiry(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, marketclock.IST)
	clock := &stepClock{at: start}
	c := newTestCache(t, clock)

	from, to := start.Add(-time.Hour), start
	require.NoError(t, c.Set("INFY", "5m", from, to, "kite", testCandles(3)))

	_, ok := c.Get("INFY", "5m", from, to, "kite")
	require.True(t, ok)

	// 5m entries are fresh for one hour.
	clock.at = start.Add(61 * time.Minute)
	_, ok = c.Get("INFY", "5m", from, to, "kite")
	assert.False(t, ok)
}

func TestDailyKeyCollapsesTimeOfDay(t *testing.T) {
	clock := &stepClock{at: time.Date(2026, 8, 24, 10, 0, 0, 0, marketclock.IST)}
	c := newTestCache(t, clock)

	morningFrom := time.Date(2026, 7, 1, 9, 30, 0, 0, marketclock.IST)
	morningTo := time.Date(2026, 8, 24, 9, 30, 0, 0, marketclock.IST)
	require.NoError(t, c.Set("SBIN", "1d", morningFrom, morningTo, "kite", testCandles(10)))

	// Same dates, different times of day, must hit the same entry.
	afternoonFrom := time.Date(2026, 7, 1, 14, 0, 0, 0, marketclock.IST)
	afternoonTo := time.Date(2026, 8, 24, 14, 0, 0, 0, marketclock.IST)
	_, ok := c.Get("SBIN", "1d", afternoonFrom, afternoonTo, "kite")
	assert.True(t, ok)

	// Intraday keys keep the time component.
	require.NoError(t, c.Set("SBIN", "5m", morningFrom, morningTo, "kite", testCandles(10)))
	_, ok = c.Get("SBIN", "5m", afternoonFrom, afternoonTo, "kite")
	assert.False(t, ok)
}

func TestInvalidateFilters(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, marketclock.IST)
	clock := &stepClock{at: start}
	c := newTestCache(t, clock)

	from, to := start.Add(-time.Hour), start
	require.NoError(t, c.Set("RELIANCE", "5m", from, to, "kite", testCandles(3)))
	require.NoError(t, c.Set("RELIANCE", "1d", from, to, "kite", testCandles(3)))
	require.NoError(t, c.Set("TCS", "5m", from, to, "kite", testCandles(3)))

	removed, err := c.Invalidate("RELIANCE", "5m", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := c.Get("RELIANCE", "5m", from, to, "kite")
	assert.False(t, ok)
	_, ok = c.Get("RELIANCE", "1d", from, to, "kite")
	assert.True(t, ok)
	_, ok = c.Get("TCS", "5m", from, to, "kite")
	assert.True(t, ok)
}

func TestClearAllAndStats(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, marketclock.IST)
	clock := &stepClock{at: start}
	c := newTestCache(t, clock)

	from, to := start.Add(-time.Hour), start
	require.NoError(t, c.Set("RELIANCE", "5m", from, to, "kite", testCandles(3)))
	require.NoError(t, c.Set("TCS", "5m", from, to, "kite", testCandles(3)))

	c.Get("RELIANCE", "5m", from, to, "kite")
	c.Get("HDFCBANK", "5m", from, to, "kite")

	removed, err := c.ClearAll()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Writes)
	assert.Equal(t, int64(2), stats.Invalidations)
	assert.Equal(t, 0, stats.TotalEntries)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestMetadataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, marketclock.IST)
	clock := &stepClock{at: start}

	c, err := New(dir, clock, zerolog.Nop())
	require.NoError(t, err)

	from, to := start.Add(-time.Hour), start
	require.NoError(t, c.Set("RELIANCE", "5m", from, to, "kite", testCandles(3)))

	reopened, err := New(dir, clock, zerolog.Nop())
	require.NoError(t, err)
	got, ok := reopened.Get("RELIANCE", "5m", from, to, "kite")
	require.True(t, ok)
	assert.Len(t, got, 3)
}
