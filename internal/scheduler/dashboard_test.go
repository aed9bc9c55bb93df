package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/exits"
	"arise-trading-engine/internal/kv"
	"arise-trading-engine/internal/marketclock"
)

type fakeLatestRuns struct {
	runs map[string]*engine.RunResult
}

func (f *fakeLatestRuns) Latest(uni string, mode domain.Mode) (*engine.RunResult, bool) {
	r, ok := f.runs[uni+":"+string(mode)]
	return r, ok
}

type fakeOutcomeStore struct {
	calls []string
	rows  map[string][]database.PickOutcomeWithContext
}

func (f *fakeOutcomeStore) OutcomesInRange(_ context.Context, mode, fromDate, toDate, horizon string) ([]database.PickOutcomeWithContext, error) {
	f.calls = append(f.calls, mode+":"+fromDate+":"+toDate+":"+horizon)
	return f.rows[mode], nil
}

type captureHub struct {
	messages []any
}

func (h *captureHub) BroadcastAll(message any) {
	h.messages = append(h.messages, message)
}

func newTestDashboard(t *testing.T, latest *fakeLatestRuns, outcomes *fakeOutcomeStore) (*Dashboard, *captureHub, *exits.ScalpingExitTracker, *exits.StrategyExitTracker) {
	t.Helper()
	scalpTracker, err := exits.NewScalpingExitTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	stratTracker, err := exits.NewStrategyExitTracker(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	hub := &captureHub{}
	d := NewDashboard(
		latest,
		outcomes,
		scalpTracker,
		stratTracker,
		kv.NewStore(config.RedisConfig{Enabled: false}, zerolog.Nop()),
		hub,
		marketclock.Frozen{At: schedOpen},
		[]string{"nifty50"},
		zerolog.Nop(),
	)
	return d, hub, scalpTracker, stratTracker
}

func TestRefreshIntradaySummarizesRunsExitsAndAdvisories(t *testing.T) {
	latest := &fakeLatestRuns{runs: map[string]*engine.RunResult{
		"nifty50:Intraday": {
			RunID:       "run-9",
			GeneratedAt: schedOpen.Add(-10 * time.Minute),
			Trigger:     domain.TriggerHourly,
			Picks:       []engine.Pick{{}, {}, {}},
		},
	}}
	d, hub, scalpTracker, stratTracker := newTestDashboard(t, latest, &fakeOutcomeStore{})

	entry := schedOpen.Add(-time.Hour)
	for _, exit := range []domain.ScalpingExit{
		{Symbol: "RELIANCE", EntryTime: entry, ExitTime: schedOpen, ReturnPct: 1.2, ExitReason: "TARGET_HIT"},
		{Symbol: "TCS", EntryTime: entry, ExitTime: schedOpen, ReturnPct: -0.4, ExitReason: "STOP_HIT"},
	} {
		_, err := scalpTracker.Record(exit)
		require.NoError(t, err)
	}
	_, err := stratTracker.Record(domain.Advisory{
		Symbol:               "INFY",
		StrategyID:           "S1",
		Kind:                 domain.KindContextInvalidated,
		RecommendedExitPrice: 1500,
		IsExit:               true,
		GeneratedAt:          schedOpen,
	})
	require.NoError(t, err)

	require.NoError(t, d.RefreshIntraday(context.Background()))
	require.Len(t, hub.messages, 1)

	msg := hub.messages[0].(map[string]any)
	assert.Equal(t, "dashboard_update", msg["type"])
	assert.Equal(t, "intraday", msg["scope"])

	snapshot := msg["data"].(map[string]any)
	assert.Equal(t, "2026-08-18", snapshot["trade_date"])

	runs := snapshot["runs"].([]map[string]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-9", runs[0]["run_id"])
	assert.Equal(t, 3, runs[0]["picks"])

	scalping := snapshot["scalping"].(map[string]any)
	assert.Equal(t, 2, scalping["exits"])
	assert.Equal(t, 1, scalping["wins"])
	assert.InDelta(t, 0.4, scalping["avg_return_pct"].(float64), 1e-9)

	advisories := snapshot["advisories"].(map[string]any)
	assert.Equal(t, 1, advisories["total"])
	assert.Equal(t, 1, advisories["exits"])
}

func TestRefreshPerformanceAggregatesPerMode(t *testing.T) {
	outcomes := &fakeOutcomeStore{rows: map[string][]database.PickOutcomeWithContext{
		"Intraday": {
			{PickOutcome: database.PickOutcome{RetClosePct: 2.0, OutcomeLabel: database.OutcomeWin, HitTarget: true}},
			{PickOutcome: database.PickOutcome{RetClosePct: 1.0, OutcomeLabel: database.OutcomeWin}},
			{PickOutcome: database.PickOutcome{RetClosePct: -1.5, OutcomeLabel: database.OutcomeLoss, HitStop: true}},
		},
	}}
	d, hub, _, _ := newTestDashboard(t, &fakeLatestRuns{}, outcomes)

	require.NoError(t, d.RefreshPerformance(context.Background()))

	// One query per mode, scalping at its own horizon, trailing 7 days.
	assert.Contains(t, outcomes.calls, "Scalping:2026-08-11:2026-08-18:SCALPING")
	assert.Contains(t, outcomes.calls, "Intraday:2026-08-11:2026-08-18:EOD")
	assert.Len(t, outcomes.calls, len(domain.AllModes))

	require.Len(t, hub.messages, 1)
	msg := hub.messages[0].(map[string]any)
	assert.Equal(t, "performance", msg["scope"])

	snapshot := msg["data"].(map[string]any)
	modes := snapshot["modes"].([]map[string]any)
	require.Len(t, modes, 1)
	summary := modes[0]
	assert.Equal(t, domain.ModeIntraday, summary["mode"])
	assert.Equal(t, 3, summary["outcomes"])
	assert.Equal(t, 2, summary["wins"])
	assert.Equal(t, 1, summary["losses"])
	assert.InDelta(t, 66.666, summary["win_rate_pct"].(float64), 0.01)
	assert.InDelta(t, 0.5, summary["avg_return_pct"].(float64), 1e-9)
}

func TestRefreshIntradayPublishesWithoutTrackers(t *testing.T) {
	d, hub, _, _ := newTestDashboard(t, &fakeLatestRuns{}, &fakeOutcomeStore{})
	d.scalping = nil
	d.strategy = nil

	require.NoError(t, d.RefreshIntraday(context.Background()))
	require.Len(t, hub.messages, 1)

	snapshot := hub.messages[0].(map[string]any)["data"].(map[string]any)
	assert.NotContains(t, snapshot, "scalping")
	assert.NotContains(t, snapshot, "advisories")
}
