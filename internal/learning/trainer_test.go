package learning

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

type fakeTrainerStore struct {
	policy        *database.Policy
	seeded        *database.Policy
	outcomes      map[string][]database.PickOutcomeWithContext
	picks         map[string][]database.PickEvent
	savedMetrics  map[string]any
	savedPolicyID string
}

func (f *fakeTrainerStore) GetActivePolicy(context.Context) (database.Policy, error) {
	if f.policy == nil {
		return database.Policy{}, database.ErrNoActivePolicy
	}
	return *f.policy, nil
}

func (f *fakeTrainerStore) SeedPolicy(_ context.Context, p database.Policy) error {
	f.seeded = &p
	f.policy = &p
	return nil
}

func (f *fakeTrainerStore) UpdatePolicyMetrics(_ context.Context, policyID string, metrics map[string]any) error {
	f.savedPolicyID = policyID
	f.savedMetrics = metrics
	return nil
}

func (f *fakeTrainerStore) OutcomesInRange(_ context.Context, mode, _, _, _ string) ([]database.PickOutcomeWithContext, error) {
	return f.outcomes[mode], nil
}

func (f *fakeTrainerStore) PicksInRange(_ context.Context, mode, _, _ string) ([]database.PickEvent, error) {
	return f.picks[mode], nil
}

// Wednesday evening IST after the close.
var trainerNow = time.Date(2026, 8, 19, 20, 0, 0, 0, marketclock.IST)

func newTrainerFixture(store *fakeTrainerStore, fetcher *fakeFetcher) *NightlyTrainer {
	pickStore := &fakePickStore{}
	ev := NewOutcomeEvaluator(pickStore, fetcher, zerolog.Nop())
	tr := NewNightlyTrainer(store, ev, fetcher, marketclock.Frozen{At: trainerNow}, zerolog.Nop())
	tr.EvalDays = 1
	return tr
}

func TestTrainSeedsBaselinePolicy(t *testing.T) {
	store := &fakeTrainerStore{}
	tr := newTrainerFixture(store, &fakeFetcher{})

	report, err := tr.Train(context.Background())
	require.NoError(t, err)

	require.NotNil(t, store.seeded)
	assert.Equal(t, database.PolicyActive, store.seeded.Status)
	assert.Equal(t, store.seeded.PolicyID, report.PolicyID)
	assert.Equal(t, store.seeded.PolicyID, store.savedPolicyID)

	// Seeded config round-trips through the typed view.
	cfg, err := ParsePolicyConfig(store.seeded.Config)
	require.NoError(t, err)
	mp := cfg.ModeFor(domain.ModeIntraday)
	assert.Len(t, mp.ExitProfiles, 3)
	assert.Equal(t, ActionEnterFull, mp.EntryBandit.DefaultAction)
}

func TestTrainReplaysOutcomesIntoBandits(t *testing.T) {
	ctxKey := ContextKey("Intraday", "TRENDING_UP", "MEDIUM", "balanced")
	outcome := database.PickOutcomeWithContext{
		PickOutcome: database.PickOutcome{
			PickUUID:       "p1",
			RetClosePct:    2.0,
			MaxDrawdownPct: -0.4,
			Notes:          map[string]any{"capture_ratio": 0.8},
		},
		Mode: "Intraday",
		ExtraContext: map[string]any{
			"bandit_ctx":      ctxKey,
			"exit_profile_id": "exit_balanced",
			"entry_action_id": ActionEnterFull,
			"session_segment": "mid",
			"value_bucket":    "large",
		},
	}
	store := &fakeTrainerStore{
		outcomes: map[string][]database.PickOutcomeWithContext{"Intraday": {outcome}},
	}
	tr := newTrainerFixture(store, &fakeFetcher{})

	report, err := tr.Train(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.OutcomesTrained)

	// Intraday exit rewards land under the extended key the engine selects
	// with, not the base context.
	exitKey := IntradayExitContextKey(ctxKey, "mid", "large")
	exitSnap := nestedMap(store.savedMetrics, "bandit", "Intraday", "contexts", exitKey, "actions", "exit_balanced")
	require.NotNil(t, exitSnap)
	assert.Equal(t, 1, exitSnap["n"])
	q, ok := exitSnap["q"].(float64)
	require.True(t, ok)
	assert.InDelta(t, ExitReward(2.0, 0.8, -0.4, false), q, 1e-9)
	assert.Nil(t, nestedMap(store.savedMetrics, "bandit", "Intraday", "contexts", ctxKey))

	entrySnap := nestedMap(store.savedMetrics, "entry_bandit", "Intraday", "contexts", ctxKey, "actions", ActionEnterFull)
	require.NotNil(t, entrySnap)
	assert.Equal(t, 1, entrySnap["n"])
}

func TestTrainSkipsOutcomesWithoutContext(t *testing.T) {
	store := &fakeTrainerStore{
		outcomes: map[string][]database.PickOutcomeWithContext{
			"Intraday": {{PickOutcome: database.PickOutcome{PickUUID: "p1", RetClosePct: 2}, Mode: "Intraday"}},
		},
	}
	tr := newTrainerFixture(store, &fakeFetcher{})

	report, err := tr.Train(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.OutcomesTrained)
}

func TestTrainScoresProfilesAndPicksBest(t *testing.T) {
	t0 := time.Date(2026, 8, 18, 9, 30, 0, 0, marketclock.IST)
	pick := dayPick("RELIANCE", domain.Long, 100)
	store := &fakeTrainerStore{
		picks: map[string][]database.PickEvent{"Intraday": {pick}},
	}
	fetcher := &fakeFetcher{candles: map[string][]domain.Candle{
		"RELIANCE": {bar(t0, 100, 103.5, 99.4, 103)},
	}}
	tr := newTrainerFixture(store, fetcher)

	report, err := tr.Train(context.Background())
	require.NoError(t, err)

	best, ok := report.BestProfiles["Intraday"]
	require.True(t, ok)
	assert.NotEmpty(t, best)

	stats := nestedMap(store.savedMetrics, "exit_profiles", "Intraday")
	require.NotNil(t, stats)
	assert.Contains(t, stats, best)
	assert.Equal(t, best, nestedMap(store.savedMetrics, "best_exit_profiles")["Intraday"])
}

func TestTrainRestoresPriorBanditState(t *testing.T) {
	ctxKey := ContextKey("Intraday", "TRENDING_UP", "MEDIUM", "balanced")
	prior := map[string]any{
		"bandit": map[string]any{
			"Intraday": map[string]any{
				"contexts": map[string]any{
					ctxKey: map[string]any{
						"actions": map[string]any{
							"exit_balanced": map[string]any{"n": 4, "q": 0.5, "last_update": "2026-08-18T16:00:00Z"},
						},
					},
				},
			},
		},
	}
	outcome := database.PickOutcomeWithContext{
		PickOutcome: database.PickOutcome{PickUUID: "p1", RetClosePct: 2, Notes: map[string]any{"capture_ratio": 1.0}},
		Mode:        "Intraday",
		ExtraContext: map[string]any{
			"bandit_ctx":      ctxKey,
			"exit_profile_id": "exit_balanced",
		},
	}
	store := &fakeTrainerStore{
		policy: &database.Policy{
			PolicyID: "pol-1",
			Status:   database.PolicyActive,
			Config:   DefaultPolicyConfig().ConfigDocument(),
			Metrics:  prior,
		},
		outcomes: map[string][]database.PickOutcomeWithContext{"Intraday": {outcome}},
	}
	tr := newTrainerFixture(store, &fakeFetcher{})

	_, err := tr.Train(context.Background())
	require.NoError(t, err)

	snap := nestedMap(store.savedMetrics, "bandit", "Intraday", "contexts", ctxKey, "actions", "exit_balanced")
	require.NotNil(t, snap)
	// Four prior observations plus tonight's.
	assert.Equal(t, 5, snap["n"])
}
