package learning

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

// TrainerStore is the repository surface the nightly trainer uses.
type TrainerStore interface {
	GetActivePolicy(ctx context.Context) (database.Policy, error)
	SeedPolicy(ctx context.Context, p database.Policy) error
	UpdatePolicyMetrics(ctx context.Context, policyID string, metrics map[string]any) error
	OutcomesInRange(ctx context.Context, mode, fromDate, toDate, horizon string) ([]database.PickOutcomeWithContext, error)
	PicksInRange(ctx context.Context, mode, fromDate, toDate string) ([]database.PickEvent, error)
}

// TrainReport summarizes one nightly pass for logging and the API.
type TrainReport struct {
	PolicyID        string            `json:"policy_id"`
	DaysEvaluated   int               `json:"days_evaluated"`
	OutcomesTrained int               `json:"outcomes_trained"`
	BestProfiles    map[string]string `json:"best_profiles"`
	TrainedAt       time.Time         `json:"trained_at"`
}

// NightlyTrainer runs after the close: backfill missing pick outcomes,
// replay them through the bandits, re-score exit profiles, and write the
// trained state back into the active policy's metrics.
type NightlyTrainer struct {
	store     TrainerStore
	evaluator *OutcomeEvaluator
	provider  CandleFetcher
	clock     marketclock.Clock
	log       zerolog.Logger
	rng       *rand.Rand

	// EvalDays is how many recent trade dates get an outcome pass.
	EvalDays int
}

func NewNightlyTrainer(store TrainerStore, evaluator *OutcomeEvaluator, provider CandleFetcher, clock marketclock.Clock, log zerolog.Logger) *NightlyTrainer {
	return &NightlyTrainer{
		store:     store,
		evaluator: evaluator,
		provider:  provider,
		clock:     clock,
		log:       log.With().Str("component", "nightly_trainer").Logger(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		EvalDays:  3,
	}
}

// Train executes the full nightly pass. Per-mode failures are logged and the
// pass continues; only policy access errors abort.
func (t *NightlyTrainer) Train(ctx context.Context) (TrainReport, error) {
	report := TrainReport{
		BestProfiles: map[string]string{},
		TrainedAt:    t.clock.Now().UTC(),
	}

	report.DaysEvaluated = t.evaluateRecentDays(ctx)

	policy, err := t.activePolicy(ctx)
	if err != nil {
		return report, err
	}
	report.PolicyID = policy.PolicyID

	cfg, err := ParsePolicyConfig(policy.Config)
	if err != nil {
		return report, fmt.Errorf("policy %s config: %w", policy.PolicyID, err)
	}

	nowIST := marketclock.NowIST(t.clock)
	toDate := marketclock.TradeDate(nowIST)
	fromDate := marketclock.TradeDate(nowIST.AddDate(0, 0, -cfg.EvaluationWindowDays))

	metrics := policy.Metrics
	if metrics == nil {
		metrics = map[string]any{}
	}
	exitStats := map[string]any{}
	bestProfiles := map[string]any{}
	exitBandits := map[string]any{}
	entryBandits := map[string]any{}

	for _, mode := range domain.AllModes {
		modePolicy := cfg.ModeFor(mode)

		exitBandit := modePolicy.ExitBandit.Build(t.rng)
		entryBandit := modePolicy.EntryBandit.Build(t.rng)
		exitBandit.Restore(nestedMap(metrics, "bandit", string(mode)))
		entryBandit.Restore(nestedMap(metrics, "entry_bandit", string(mode)))

		outcomes, err := t.store.OutcomesInRange(ctx, string(mode), fromDate, toDate, database.HorizonEOD)
		if err != nil {
			t.log.Warn().Err(err).Str("mode", string(mode)).Msg("outcome query failed")
			continue
		}
		report.OutcomesTrained += t.replayOutcomes(outcomes, exitBandit, entryBandit)

		stats := t.scoreProfiles(ctx, mode, modePolicy, fromDate, toDate)
		if len(stats) > 0 {
			byID := map[string]any{}
			for _, s := range stats {
				byID[s.ProfileID] = s
			}
			exitStats[string(mode)] = byID
			if best, ok := BestProfile(stats); ok {
				bestProfiles[string(mode)] = best
				report.BestProfiles[string(mode)] = best
			}
		}

		exitBandits[string(mode)] = exitBandit.Snapshot()
		entryBandits[string(mode)] = entryBandit.Snapshot()
	}

	metrics["exit_profiles"] = exitStats
	metrics["best_exit_profiles"] = bestProfiles
	metrics["bandit"] = exitBandits
	metrics["entry_bandit"] = entryBandits
	metrics["trained_at"] = report.TrainedAt.Format(time.RFC3339)
	metrics["outcomes_trained"] = report.OutcomesTrained

	if err := t.store.UpdatePolicyMetrics(ctx, policy.PolicyID, metrics); err != nil {
		return report, fmt.Errorf("persisting policy metrics: %w", err)
	}

	t.log.Info().
		Str("policy_id", policy.PolicyID).
		Int("outcomes", report.OutcomesTrained).
		Int("days_evaluated", report.DaysEvaluated).
		Msg("nightly training complete")
	return report, nil
}

// evaluateRecentDays backfills outcomes for the last EvalDays trading dates.
func (t *NightlyTrainer) evaluateRecentDays(ctx context.Context) int {
	days := 0
	cursor := marketclock.NowIST(t.clock)
	for days < t.EvalDays {
		if marketclock.IsTradingDay(cursor) {
			tradeDate := marketclock.TradeDate(cursor)
			if _, err := t.evaluator.EvaluateDay(ctx, tradeDate); err != nil {
				t.log.Warn().Err(err).Str("trade_date", tradeDate).Msg("outcome pass failed")
			}
			days++
		}
		cursor = cursor.AddDate(0, 0, -1)
	}
	return days
}

// activePolicy returns the ACTIVE policy, seeding the default baseline the
// first time the trainer ever runs.
func (t *NightlyTrainer) activePolicy(ctx context.Context) (database.Policy, error) {
	policy, err := t.store.GetActivePolicy(ctx)
	if err == nil {
		return policy, nil
	}
	if err != database.ErrNoActivePolicy {
		return database.Policy{}, fmt.Errorf("loading active policy: %w", err)
	}

	seed := database.Policy{
		PolicyID:    uuid.NewString(),
		Name:        "baseline",
		Description: "seeded default exit profiles and bandit actions",
		Status:      database.PolicyActive,
		Config:      DefaultPolicyConfig().ConfigDocument(),
		Metrics:     map[string]any{},
	}
	if err := t.store.SeedPolicy(ctx, seed); err != nil {
		return database.Policy{}, fmt.Errorf("seeding baseline policy: %w", err)
	}
	t.log.Info().Str("policy_id", seed.PolicyID).Msg("seeded baseline policy")
	return t.store.GetActivePolicy(ctx)
}

// replayOutcomes feeds evaluated outcomes through both bandits using the
// context and action ids stamped on the pick at signal time.
func (t *NightlyTrainer) replayOutcomes(outcomes []database.PickOutcomeWithContext, exitBandit, entryBandit *Bandit) int {
	trained := 0
	for _, o := range outcomes {
		banditCtx := stringField(o.ExtraContext, "bandit_ctx")
		if banditCtx == "" {
			continue
		}
		capture := floatField(o.Notes, "capture_ratio")

		// Intraday exits select on the extended key, so replay against the
		// same one the engine consulted at signal time. Rows recorded
		// without the extra buckets fall back to the base key.
		exitCtx := banditCtx
		if o.Mode == string(domain.ModeIntraday) {
			seg := stringField(o.ExtraContext, "session_segment")
			val := stringField(o.ExtraContext, "value_bucket")
			if seg != "" && val != "" {
				exitCtx = IntradayExitContextKey(banditCtx, seg, val)
			}
		}
		if profileID := stringField(o.ExtraContext, "exit_profile_id"); profileID != "" {
			exitBandit.Update(exitCtx, profileID, ExitReward(o.RetClosePct, capture, o.MaxDrawdownPct, o.HitStop))
		}
		if actionID := stringField(o.ExtraContext, "entry_action_id"); actionID != "" {
			ddPen := clip(-min(o.MaxDrawdownPct, 0)/4, 0, 1)
			stopPen := 0.0
			if o.HitStop {
				stopPen = 1
			}
			entryBandit.Update(banditCtx, actionID, EntryReward(o.RetClosePct, ddPen, stopPen))
		}
		trained++
	}
	return trained
}

// scoreProfiles replays the window's picks against every declared exit
// profile. Intraday styles walk the trade date's 5m bars; Swing walks daily
// bars over the following week.
func (t *NightlyTrainer) scoreProfiles(ctx context.Context, mode domain.Mode, modePolicy ModePolicy, fromDate, toDate string) []ProfileStats {
	picks, err := t.store.PicksInRange(ctx, string(mode), fromDate, toDate)
	if err != nil {
		t.log.Warn().Err(err).Str("mode", string(mode)).Msg("pick query failed")
		return nil
	}
	if len(picks) == 0 {
		return nil
	}

	var trades []SimTrade
	for _, pick := range picks {
		trade, ok := t.simTradeFor(ctx, mode, pick)
		if !ok {
			continue
		}
		trades = append(trades, trade)
	}
	if len(trades) == 0 {
		return nil
	}

	stats := EvaluateProfiles(trades, modePolicy.ExitProfiles)
	SortByScore(stats)
	return stats
}

func (t *NightlyTrainer) simTradeFor(ctx context.Context, mode domain.Mode, pick database.PickEvent) (SimTrade, bool) {
	dayStart, dayEnd, err := istDayBounds(pick.TradeDate)
	if err != nil {
		return SimTrade{}, false
	}

	interval := domain.Interval5m
	from, to := dayStart, dayEnd
	if mode == domain.ModeSwing {
		interval = domain.Interval1d
		to = dayStart.AddDate(0, 0, 7)
	}

	candles, err := t.provider.GetHistorical(ctx, pick.Symbol, from, to, interval, true)
	if err != nil || len(candles) == 0 {
		return SimTrade{}, false
	}
	if mode != domain.ModeSwing {
		candles = filterToISTDate(candles, dayStart)
	}

	// Only bars at or after the signal matter; the pick could not have been
	// entered earlier.
	entered := candles[:0:0]
	for _, c := range candles {
		if !c.Timestamp.Before(pick.SignalTS) || interval == domain.Interval1d {
			entered = append(entered, c)
		}
	}
	if len(entered) == 0 {
		return SimTrade{}, false
	}

	return SimTrade{
		Symbol:     pick.Symbol,
		Direction:  pick.Direction,
		EntryPrice: pick.SignalPrice,
		EntryTime:  pick.SignalTS,
		Candles:    entered,
	}, true
}

func nestedMap(m map[string]any, keys ...string) map[string]any {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func floatField(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

