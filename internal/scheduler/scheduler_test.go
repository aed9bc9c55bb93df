package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/learning"
	"arise-trading-engine/internal/marketclock"
)

// Tuesday 2026-08-18, 11:00 IST, market open.
var schedOpen = time.Date(2026, 8, 18, 5, 30, 0, 0, time.UTC)

// Same day, 18:00 IST, market closed.
var schedClosed = time.Date(2026, 8, 18, 12, 30, 0, 0, time.UTC)

type fakeSchedEngine struct {
	mu        sync.Mutex
	runs      []string
	runErr    error
	snapshots map[string]*engine.RunResult
}

func (f *fakeSchedEngine) Run(_ context.Context, uni string, mode domain.Mode, trigger domain.Trigger) (*engine.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, fmt.Sprintf("%s:%s:%s", uni, mode, trigger))
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &engine.RunResult{RunID: "run-1", Universe: uni, Mode: mode, Trigger: trigger}, nil
}

func (f *fakeSchedEngine) Hydrate(_ context.Context, uni string, mode domain.Mode) (*engine.RunResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.snapshots[fmt.Sprintf("%s:%s", uni, mode)]
	return r, ok
}

func (f *fakeSchedEngine) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

type fakeCycler struct{ cycles int }

func (f *fakeCycler) Cycle(context.Context) error {
	f.cycles++
	return nil
}

type fakeOutcomes struct{ tradeDate string }

func (f *fakeOutcomes) EvaluateDay(_ context.Context, tradeDate string) (int, error) {
	f.tradeDate = tradeDate
	return 3, nil
}

type fakeTrainer struct{ trained bool }

func (f *fakeTrainer) Train(context.Context) (learning.TrainReport, error) {
	f.trained = true
	return learning.TrainReport{PolicyID: "pol-1", OutcomesTrained: 5}, nil
}

func snapshotAt(at time.Time) *engine.RunResult {
	return &engine.RunResult{RunID: "snap", GeneratedAt: at}
}

func newTestScheduler(eng *fakeSchedEngine, at time.Time) *Scheduler {
	return New(
		eng,
		[]string{"nifty50"},
		&fakeCycler{}, &fakeCycler{}, &fakeCycler{},
		&fakeOutcomes{},
		&fakeTrainer{},
		nil,
		marketclock.Frozen{At: at},
		zerolog.Nop(),
	)
}

func TestRegisterBuildsFullJobTable(t *testing.T) {
	s := newTestScheduler(&fakeSchedEngine{}, schedOpen)
	require.NoError(t, s.register())

	// 5 preopen + 1 scalping + 4 hourly + eod + 3 monitors + training.
	assert.Len(t, s.cron.Entries(), 15)
}

func TestWarmupOpenMarketRecomputesStalePairs(t *testing.T) {
	eng := &fakeSchedEngine{snapshots: map[string]*engine.RunResult{
		"nifty50:Scalping": snapshotAt(schedOpen.Add(-5 * time.Minute)),
		"nifty50:Intraday": snapshotAt(schedOpen.Add(-30 * time.Minute)),
		"nifty50:Swing":    snapshotAt(schedOpen.Add(-90 * time.Minute)),
	}}
	s := newTestScheduler(eng, schedOpen)

	require.NoError(t, s.Warmup(context.Background()))

	runs := eng.recorded()
	// Fresh Scalping and Intraday snapshots are kept. Swing is stale past
	// the hourly budget, Options and Futures have no snapshot at all.
	assert.NotContains(t, runs, "nifty50:Scalping:warmup")
	assert.NotContains(t, runs, "nifty50:Intraday:warmup")
	assert.Contains(t, runs, "nifty50:Swing:warmup")
	assert.Contains(t, runs, "nifty50:Options:warmup")
	assert.Contains(t, runs, "nifty50:Futures:warmup")
}

func TestWarmupOpenMarketScalpingStalenessIsTighter(t *testing.T) {
	eng := &fakeSchedEngine{snapshots: map[string]*engine.RunResult{
		"nifty50:Scalping": snapshotAt(schedOpen.Add(-15 * time.Minute)),
	}}
	s := newTestScheduler(eng, schedOpen)

	require.NoError(t, s.Warmup(context.Background()))

	assert.Contains(t, eng.recorded(), "nifty50:Scalping:warmup")
}

func TestWarmupClosedMarketBackfillsNonScalping(t *testing.T) {
	eng := &fakeSchedEngine{snapshots: map[string]*engine.RunResult{
		"nifty50:Swing": snapshotAt(schedClosed.Add(-2 * time.Hour)),
	}}
	s := newTestScheduler(eng, schedClosed)

	require.NoError(t, s.Warmup(context.Background()))

	runs := eng.recorded()
	// Scalping never recomputes after hours. Today's Swing snapshot is
	// accepted as is; the modes with no snapshot backfill once.
	assert.NotContains(t, runs, "nifty50:Scalping:backfill")
	assert.NotContains(t, runs, "nifty50:Scalping:warmup")
	assert.NotContains(t, runs, "nifty50:Swing:backfill")
	assert.Contains(t, runs, "nifty50:Intraday:backfill")
	assert.Contains(t, runs, "nifty50:Options:backfill")
	assert.Contains(t, runs, "nifty50:Futures:backfill")
}

func TestWarmupClosedMarketBackfillsPreviousSessionSnapshot(t *testing.T) {
	eng := &fakeSchedEngine{snapshots: map[string]*engine.RunResult{
		"nifty50:Swing": snapshotAt(schedClosed.Add(-26 * time.Hour)),
	}}
	s := newTestScheduler(eng, schedClosed)

	require.NoError(t, s.Warmup(context.Background()))

	assert.Contains(t, eng.recorded(), "nifty50:Swing:backfill")
}

func TestRunPairsToleratesExpectedSkips(t *testing.T) {
	eng := &fakeSchedEngine{runErr: engine.ErrRunInProgress}
	s := newTestScheduler(eng, schedOpen)

	err := s.runPairs(context.Background(), domain.TriggerHourly, domain.ModeIntraday)
	assert.NoError(t, err)

	eng.runErr = engine.ErrAfterCutoff
	err = s.runPairs(context.Background(), domain.TriggerHourly, domain.ModeIntraday)
	assert.NoError(t, err)

	eng.runErr = errors.New("provider down")
	err = s.runPairs(context.Background(), domain.TriggerHourly, domain.ModeIntraday)
	assert.Error(t, err)
}

func TestRunOutcomesUsesCurrentTradeDate(t *testing.T) {
	outcomes := &fakeOutcomes{}
	s := newTestScheduler(&fakeSchedEngine{}, schedOpen)
	s.outcomes = outcomes

	require.NoError(t, s.runOutcomes(context.Background()))
	assert.Equal(t, "2026-08-18", outcomes.tradeDate)
}

func TestWrapRecoversPanics(t *testing.T) {
	s := newTestScheduler(&fakeSchedEngine{}, schedOpen)

	assert.NotPanics(t, func() {
		s.wrap("boom", func(context.Context) error {
			panic("job blew up")
		})()
	})
}
