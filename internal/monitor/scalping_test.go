package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
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

var scalpNow = time.Date(2026, 8, 18, 11, 0, 0, 0, marketclock.IST)

type fakeQuotes struct {
	quotes map[string]domain.Quote
	err    error
	calls  int
}

func (f *fakeQuotes) GetQuote(_ context.Context, _ []string) (map[string]domain.Quote, error) {
	f.calls++
	return f.quotes, f.err
}

type fakeOutcomes struct {
	exits    []string
	outcomes []database.PickOutcome
	pick     *database.PickEvent
}

func (f *fakeOutcomes) FindPickForExit(_ context.Context, _, _ string, _ time.Time) (*database.PickEvent, error) {
	return f.pick, nil
}

func (f *fakeOutcomes) UpsertOutcome(_ context.Context, o database.PickOutcome) error {
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeOutcomes) MarkExit(_ context.Context, symbol, _, _ string, _, _ float64, _ time.Time) error {
	f.exits = append(f.exits, symbol)
	return nil
}

type fakeHub struct {
	messages []any
}

func (f *fakeHub) BroadcastAll(msg any) { f.messages = append(f.messages, msg) }

func scalpPick(symbol string, entry time.Time, strategy domain.ExitStrategy) engine.Pick {
	return engine.Pick{
		PickUUID:       symbol + "-pick",
		Symbol:         symbol,
		Direction:      domain.Long,
		Recommendation: "Buy",
		Price:          100,
		SignalTS:       entry.UTC(),
		ExitStrategy:   &strategy,
	}
}

func defaultScalpStrategy() domain.ExitStrategy {
	return domain.ExitStrategy{
		TargetPct:     3,
		StopPct:       0.5,
		TargetPrice:   103,
		StopLossPrice: 99.5,
		MaxHoldMins:   60,
	}
}

func writeScalpingRun(t *testing.T, dataDir string, generatedAt time.Time, picks ...engine.Pick) {
	t.Helper()
	dir := filepath.Join(dataDir, "top_picks_intraday")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	run := engine.RunResult{
		RunID:       "run-1",
		Universe:    "nifty50",
		Mode:        domain.ModeScalping,
		GeneratedAt: generatedAt.UTC(),
		Picks:       picks,
	}
	payload, err := json.Marshal(run)
	require.NoError(t, err)

	name := "picks_nifty50_scalping_" + generatedAt.In(marketclock.IST).Format("20060102_150405") + ".json"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), payload, 0o644))
}

type scalpFixture struct {
	monitor  *ScalpingMonitor
	quotes   *fakeQuotes
	tracker  *exits.ScalpingExitTracker
	outcomes *fakeOutcomes
	hub      *fakeHub
	dataDir  string
}

func newScalpFixture(t *testing.T, now time.Time) *scalpFixture {
	t.Helper()
	dataDir := t.TempDir()
	tracker, err := exits.NewScalpingExitTracker(dataDir, zerolog.Nop())
	require.NoError(t, err)

	quotes := &fakeQuotes{quotes: map[string]domain.Quote{}}
	outcomes := &fakeOutcomes{}
	hub := &fakeHub{}
	cache := kv.NewStore(config.RedisConfig{Enabled: false}, zerolog.Nop())

	m := NewScalpingMonitor(
		quotes, tracker, outcomes, cache, nil, hub,
		marketclock.Frozen{At: now}, dataDir, 2, time.Minute, zerolog.Nop(),
	)
	return &scalpFixture{monitor: m, quotes: quotes, tracker: tracker, outcomes: outcomes, hub: hub, dataDir: dataDir}
}

func TestScalpingCycleClosesOnTarget(t *testing.T) {
	fx := newScalpFixture(t, scalpNow)
	entry := scalpNow.Add(-5 * time.Minute)
	writeScalpingRun(t, fx.dataDir, entry,
		scalpPick("RELIANCE", entry, defaultScalpStrategy()),
		scalpPick("TCS", entry, defaultScalpStrategy()),
	)
	fx.quotes.quotes = map[string]domain.Quote{
		"RELIANCE": {Symbol: "RELIANCE", Price: 103.5},
		"TCS":      {Symbol: "TCS", Price: 101},
	}
	fx.outcomes.pick = &database.PickEvent{PickUUID: "RELIANCE-pick", Direction: domain.Long, SignalPrice: 100}

	require.NoError(t, fx.monitor.Cycle(context.Background()))

	day, err := fx.tracker.ExitsFor(marketclock.TradeDate(scalpNow))
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, "RELIANCE", day[0].Symbol)
	assert.Equal(t, domain.ExitTargetHit, day[0].ExitReason)
	assert.Equal(t, 103.0, day[0].ExitPrice) // clamped to the target level
	assert.InDelta(t, 3.0, day[0].ReturnPct, 1e-9)

	assert.Equal(t, []string{"RELIANCE"}, fx.outcomes.exits)
	require.Len(t, fx.outcomes.outcomes, 1)
	assert.Equal(t, database.HorizonScalping, fx.outcomes.outcomes[0].EvaluationHorizon)
	assert.Equal(t, database.OutcomeWin, fx.outcomes.outcomes[0].OutcomeLabel)
	require.Len(t, fx.hub.messages, 1)
}

func TestScalpingCycleDedupsAcrossCycles(t *testing.T) {
	fx := newScalpFixture(t, scalpNow)
	entry := scalpNow.Add(-5 * time.Minute)
	writeScalpingRun(t, fx.dataDir, entry, scalpPick("RELIANCE", entry, defaultScalpStrategy()))
	fx.quotes.quotes = map[string]domain.Quote{"RELIANCE": {Symbol: "RELIANCE", Price: 103.5}}

	require.NoError(t, fx.monitor.Cycle(context.Background()))
	require.NoError(t, fx.monitor.Cycle(context.Background()))

	day, err := fx.tracker.ExitsFor(marketclock.TradeDate(scalpNow))
	require.NoError(t, err)
	assert.Len(t, day, 1)
	assert.Len(t, fx.outcomes.exits, 1)
}

func TestScalpingCycleTimeExit(t *testing.T) {
	fx := newScalpFixture(t, scalpNow)
	entry := scalpNow.Add(-90 * time.Minute)
	writeScalpingRun(t, fx.dataDir, entry, scalpPick("RELIANCE", entry, defaultScalpStrategy()))
	fx.quotes.quotes = map[string]domain.Quote{"RELIANCE": {Symbol: "RELIANCE", Price: 100.2}}

	require.NoError(t, fx.monitor.Cycle(context.Background()))

	day, err := fx.tracker.ExitsFor(marketclock.TradeDate(scalpNow))
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, domain.ExitTimeExit, day[0].ExitReason)
	assert.Equal(t, 90, day[0].HoldDurationMins)
	assert.InDelta(t, 0.2, day[0].ReturnPct, 1e-9)
}

func TestScalpingCycleTrailingStopAcrossCycles(t *testing.T) {
	fx := newScalpFixture(t, scalpNow)
	entry := scalpNow.Add(-10 * time.Minute)
	strategy := domain.ExitStrategy{
		TargetPrice:      110,
		StopLossPrice:    90,
		MaxHoldMins:      600,
		TrailActivatePct: 1.0,
		TrailDistancePct: 0.5,
	}
	writeScalpingRun(t, fx.dataDir, entry, scalpPick("RELIANCE", entry, strategy))

	fx.quotes.quotes = map[string]domain.Quote{"RELIANCE": {Symbol: "RELIANCE", Price: 101.5}}
	require.NoError(t, fx.monitor.Cycle(context.Background()))
	day, err := fx.tracker.ExitsFor(marketclock.TradeDate(scalpNow))
	require.NoError(t, err)
	assert.Empty(t, day)

	fx.quotes.quotes = map[string]domain.Quote{"RELIANCE": {Symbol: "RELIANCE", Price: 100.8}}
	require.NoError(t, fx.monitor.Cycle(context.Background()))
	day, err = fx.tracker.ExitsFor(marketclock.TradeDate(scalpNow))
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, domain.ExitTrailingStop, day[0].ExitReason)
	assert.InDelta(t, 0.8, day[0].ReturnPct, 1e-9)
}

func TestScalpingCycleEODAutoExit(t *testing.T) {
	eod := time.Date(2026, 8, 18, 15, 35, 0, 0, marketclock.IST)
	fx := newScalpFixture(t, eod)
	entry := eod.Add(-30 * time.Minute)
	strategy := domain.ExitStrategy{TargetPrice: 110, StopLossPrice: 90, MaxHoldMins: 600}
	writeScalpingRun(t, fx.dataDir, entry, scalpPick("RELIANCE", entry, strategy))
	fx.quotes.quotes = map[string]domain.Quote{"RELIANCE": {Symbol: "RELIANCE", Price: 100.4}}

	require.NoError(t, fx.monitor.Cycle(context.Background()))

	day, err := fx.tracker.ExitsFor(marketclock.TradeDate(eod))
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, domain.ExitEODAuto, day[0].ExitReason)
}

func TestScalpingCycleNoopWhenClosed(t *testing.T) {
	closed := time.Date(2026, 8, 18, 8, 0, 0, 0, marketclock.IST)
	fx := newScalpFixture(t, closed)
	entry := closed.Add(-5 * time.Minute)
	writeScalpingRun(t, fx.dataDir, entry, scalpPick("RELIANCE", entry, defaultScalpStrategy()))

	require.NoError(t, fx.monitor.Cycle(context.Background()))
	assert.Zero(t, fx.quotes.calls)
}

func TestScalpingCycleSkipsStalePickFiles(t *testing.T) {
	fx := newScalpFixture(t, scalpNow)
	stale := scalpNow.Add(-3 * time.Hour)
	writeScalpingRun(t, fx.dataDir, stale, scalpPick("RELIANCE", stale, defaultScalpStrategy()))
	fx.quotes.quotes = map[string]domain.Quote{"RELIANCE": {Symbol: "RELIANCE", Price: 103.5}}

	require.NoError(t, fx.monitor.Cycle(context.Background()))
	assert.Zero(t, fx.quotes.calls)
}
