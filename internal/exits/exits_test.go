package exits

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

func sampleExit(symbol string, entry time.Time) domain.ScalpingExit {
	return domain.ScalpingExit{
		Symbol:           symbol,
		EntryTime:        entry,
		EntryPrice:       100.123456,
		ExitTime:         entry.Add(45 * time.Minute),
		ExitPrice:        101.98765,
		ExitReason:       domain.ExitTargetHit,
		ReturnPct:        1.862345,
		HoldDurationMins: 45,
		Mode:             domain.ModeScalping,
		Recommendation:   domain.RecBuy,
	}
}

func TestScalpingExitDedupAndRounding(t *testing.T) {
	tracker, err := NewScalpingExitTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	entry := time.Date(2026, 8, 26, 10, 0, 0, 0, marketclock.IST)
	exit := sampleExit("RELIANCE", entry)

	recorded, err := tracker.Record(exit)
	require.NoError(t, err)
	assert.True(t, recorded)

	// Same symbol and entry time is a duplicate even with different prices.
	dup := exit
	dup.ExitPrice = 102.5
	recorded, err = tracker.Record(dup)
	require.NoError(t, err)
	assert.False(t, recorded)

	tradeDate := marketclock.TradeDate(exit.ExitTime)
	exits, err := tracker.ExitsFor(tradeDate)
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, 100.1235, exits[0].EntryPrice)
	assert.Equal(t, 101.9877, exits[0].ExitPrice)
	assert.Equal(t, 1.8623, exits[0].ReturnPct)

	has, err := tracker.HasExit(tradeDate, "RELIANCE", entry)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = tracker.HasExit(tradeDate, "TCS", entry)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestScalpingExitsBucketByISTDay(t *testing.T) {
	tracker, err := NewScalpingExitTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	day1 := time.Date(2026, 8, 25, 11, 0, 0, 0, marketclock.IST)
	day2 := time.Date(2026, 8, 26, 11, 0, 0, 0, marketclock.IST)

	_, err = tracker.Record(sampleExit("SBIN", day1))
	require.NoError(t, err)
	_, err = tracker.Record(sampleExit("SBIN", day2))
	require.NoError(t, err)

	d1, err := tracker.ExitsFor("2026-08-25")
	require.NoError(t, err)
	d2, err := tracker.ExitsFor("2026-08-26")
	require.NoError(t, err)
	assert.Len(t, d1, 1)
	assert.Len(t, d2, 1)
}

func TestDayFilesUseDateEnvelope(t *testing.T) {
	dir := t.TempDir()
	scalp, err := NewScalpingExitTracker(dir, zerolog.Nop())
	require.NoError(t, err)
	strat, err := NewStrategyExitTracker(dir, zerolog.Nop())
	require.NoError(t, err)

	at := time.Date(2026, 8, 26, 11, 0, 0, 0, marketclock.IST)
	_, err = scalp.Record(sampleExit("RELIANCE", at))
	require.NoError(t, err)
	_, err = strat.Record(sampleAdvisory("RELIANCE", "S1_RR", domain.KindPartialProfit, 100, at))
	require.NoError(t, err)

	for _, path := range []string{
		filepath.Join(dir, "scalping_exits", "exits_20260826.json"),
		filepath.Join(dir, "strategy_exits", "strategy_exits_20260826.json"),
	} {
		data, err := os.ReadFile(path)
		require.NoError(t, err, path)
		var envelope struct {
			Date  string            `json:"date"`
			Exits []json.RawMessage `json:"exits"`
		}
		require.NoError(t, json.Unmarshal(data, &envelope), path)
		assert.Equal(t, "2026-08-26", envelope.Date, path)
		assert.Len(t, envelope.Exits, 1, path)
	}
}

func sampleAdvisory(symbol, strategyID, kind string, price float64, at time.Time) domain.Advisory {
	return domain.Advisory{
		StrategyID:           strategyID,
		Kind:                 kind,
		Severity:             domain.SeverityWarning,
		IsExit:               true,
		Symbol:               symbol,
		Direction:            domain.Long,
		Price:                price,
		EntryPrice:           price * 0.99,
		Message:              "test advisory",
		RecommendedExitPrice: price,
		Mode:                 domain.ModeIntraday,
		GeneratedAt:          at,
	}
}

func TestStrategyAdvisoryDedup(t *testing.T) {
	tracker, err := NewStrategyExitTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	at := time.Date(2026, 8, 26, 11, 0, 0, 0, marketclock.IST)
	adv := sampleAdvisory("INFY", "S2_EMA", domain.KindTrendWeakening, 1540.5, at)

	recorded, err := tracker.Record(adv)
	require.NoError(t, err)
	assert.True(t, recorded)

	// Identical content from a concurrent monitor collapses.
	recorded, err = tracker.Record(adv)
	require.NoError(t, err)
	assert.False(t, recorded)

	// A different recommended price is a distinct advisory.
	adv2 := adv
	adv2.RecommendedExitPrice = 1538.0
	recorded, err = tracker.Record(adv2)
	require.NoError(t, err)
	assert.True(t, recorded)

	all, err := tracker.AdvisoriesFor("2026-08-26")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	for _, a := range all {
		assert.Equal(t, domain.EnforcementAdvisoryOnly, a.Enforcement)
		assert.NotEmpty(t, a.ID)
	}
}

func TestGetExitForRanksByKindThenTime(t *testing.T) {
	tracker, err := NewStrategyExitTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	base := time.Date(2026, 8, 26, 10, 0, 0, 0, marketclock.IST)

	// Earlier partial-profit, later context-invalidated: the invalidation
	// outranks despite arriving later.
	_, err = tracker.Record(sampleAdvisory("TCS", "S1_RR", domain.KindPartialProfit, 4100, base))
	require.NoError(t, err)
	_, err = tracker.Record(sampleAdvisory("TCS", "S3_NEWS", domain.KindContextInvalidated, 4080, base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = tracker.Record(sampleAdvisory("TCS", "S2_EMA", domain.KindTrendWeakening, 4090, base.Add(30*time.Minute)))
	require.NoError(t, err)

	best, ok, err := tracker.GetExitFor("TCS", "2026-08-26", "", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.KindContextInvalidated, best.Kind)

	// Filtering by strategy id narrows the ranking.
	best, ok, err = tracker.GetExitFor("TCS", "2026-08-26", "S2_EMA", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "S2_EMA", best.StrategyID)

	_, ok, err = tracker.GetExitFor("WIPRO", "2026-08-26", "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetExitForEarliestWinsWithinKind(t *testing.T) {
	tracker, err := NewStrategyExitTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	base := time.Date(2026, 8, 26, 10, 0, 0, 0, marketclock.IST)
	_, err = tracker.Record(sampleAdvisory("SBIN", "S1_RR", domain.KindPartialProfit, 640, base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = tracker.Record(sampleAdvisory("SBIN", "S1_RR", domain.KindPartialProfit, 642, base))
	require.NoError(t, err)

	best, ok, err := tracker.GetExitFor("SBIN", "2026-08-26", "", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 642.0, best.RecommendedExitPrice)
}
