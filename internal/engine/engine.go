// Package engine runs the agent ensemble over a universe, ranks the blend
// scores, synthesizes exit strategies, and persists and emits the run.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/agents"
	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/eventlog"
	"arise-trading-engine/internal/kv"
	"arise-trading-engine/internal/learning"
	"arise-trading-engine/internal/marketclock"
	"arise-trading-engine/internal/universe"
)

// ErrRunInProgress is returned when another process holds the run lock and
// no cached snapshot exists to serve instead.
var ErrRunInProgress = errors.New("top picks run already in progress")

// ErrAfterCutoff is returned for intraday-style refreshes past 15:15 IST
// when no cached snapshot exists.
var ErrAfterCutoff = errors.New("past intraday hard cutoff")

// Pick is one actionable entry in a run payload.
type Pick struct {
	PickUUID       string               `json:"pick_uuid"`
	Symbol         string               `json:"symbol"`
	Direction      domain.Direction     `json:"direction"`
	Recommendation string               `json:"recommendation"`
	Confidence     string               `json:"confidence"`
	BlendScore     float64              `json:"blend_score"`
	Price          float64              `json:"price"`
	ChangePercent  float64              `json:"change_percent"`
	SignalTS       time.Time            `json:"signal_ts"`
	ExitStrategy   *domain.ExitStrategy `json:"exit_strategy,omitempty"`
	AgentResults   []agents.Result      `json:"agent_results,omitempty"`

	SessionSegment string `json:"session_segment"`
	ValueBucket    string `json:"value_bucket"`
	RegimeBucket   string `json:"regime_bucket"`
	VolBucket      string `json:"vol_bucket"`
	UserRiskBucket string `json:"user_risk_bucket"`
	BanditCtx      string `json:"bandit_ctx"`
	EntryActionID  string `json:"entry_action_id"`
	ExitProfileID  string `json:"exit_profile_id,omitempty"`
}

// RunResult is the full engine output for one (universe, mode) run.
type RunResult struct {
	RunID         string         `json:"run_id"`
	Universe      string         `json:"universe"`
	Mode          domain.Mode    `json:"mode"`
	Trigger       domain.Trigger `json:"trigger"`
	GeneratedAt   time.Time      `json:"generated_at"`
	TotalAnalyzed int            `json:"total_analyzed"`
	FilteredCount int            `json:"filtered_count"`
	Picks         []Pick         `json:"picks"`
	ElapsedSec    float64        `json:"elapsed_sec"`
	FromCache     bool           `json:"from_cache,omitempty"`
}

// MarketData is the provider surface the engine reads.
type MarketData interface {
	GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
	GetHistorical(ctx context.Context, symbol string, from, to time.Time, interval string, useCache bool) ([]domain.Candle, error)
	GetIndicesQuote(ctx context.Context) (map[string]domain.Quote, error)
}

// RunStore is the repository surface the engine writes.
type RunStore interface {
	StoreRun(ctx context.Context, run database.TopPicksRun) error
	LogPick(ctx context.Context, event database.PickEvent, contributions []database.AgentContribution) error
	InsertRecommendation(ctx context.Context, rec database.AiRecommendation) error
	GetActivePolicy(ctx context.Context) (database.Policy, error)
	GetLatestRunFor(ctx context.Context, universe string, mode domain.Mode) (database.TopPicksRun, error)
}

// Broadcaster pushes run updates to connected WebSocket clients.
type Broadcaster interface {
	BroadcastAll(message any)
}

// TopPicksEngine orchestrates one run end to end.
type TopPicksEngine struct {
	provider MarketData
	coord    *agents.Coordinator
	store    RunStore
	cache    *kv.Store
	events   *eventlog.Logger
	hub      Broadcaster
	clock    marketclock.Clock
	weights  *config.ModeWeights
	cfg      config.EngineConfig
	dataDir  string
	log      zerolog.Logger

	mu     sync.RWMutex
	latest map[string]*RunResult
}

func NewTopPicksEngine(
	provider MarketData,
	coord *agents.Coordinator,
	store RunStore,
	cache *kv.Store,
	events *eventlog.Logger,
	hub Broadcaster,
	clock marketclock.Clock,
	weights *config.ModeWeights,
	cfg config.EngineConfig,
	dataDir string,
	log zerolog.Logger,
) *TopPicksEngine {
	return &TopPicksEngine{
		provider: provider,
		coord:    coord,
		store:    store,
		cache:    cache,
		events:   events,
		hub:      hub,
		clock:    clock,
		weights:  weights,
		cfg:      cfg,
		dataDir:  dataDir,
		log:      log.With().Str("component", "top_picks_engine").Logger(),
		latest:   make(map[string]*RunResult),
	}
}

// Latest returns the in-memory snapshot for a pair, if any run has completed
// in this process.
func (e *TopPicksEngine) Latest(universeName string, mode domain.Mode) (*RunResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.latest[pairKey(universeName, mode)]
	return res, ok
}

func pairKey(universeName string, mode domain.Mode) string {
	return universeName + ":" + string(mode)
}

// Run executes one engine pass. Past the 15:15 IST cutoff, intraday-style
// runs serve the cached snapshot unless the trigger is a backfill. The
// per-pair distributed lock keeps concurrent schedulers from duplicating
// work.
func (e *TopPicksEngine) Run(ctx context.Context, universeName string, mode domain.Mode, trigger domain.Trigger) (*RunResult, error) {
	now := e.clock.Now()
	if trigger != domain.TriggerBackfill && mode.IsIntradayStyle() && marketclock.AfterHardCutoff(now) {
		if cached, ok := e.cachedResult(ctx, universeName, mode); ok {
			return cached, nil
		}
		return nil, ErrAfterCutoff
	}

	lock, acquired, err := e.cache.AcquireLock(ctx, kv.KeyTopPicksLock(universeName, string(mode)), kv.DefaultLockTTL)
	if err != nil {
		e.log.Warn().Err(err).Msg("lock acquisition failed, proceeding unlocked")
	} else if !acquired {
		if cached, ok := e.cachedResult(ctx, universeName, mode); ok {
			return cached, nil
		}
		return nil, ErrRunInProgress
	}
	defer func() {
		if lock != nil {
			_ = lock.Release(context.Background())
		}
	}()

	timeout := time.Duration(e.cfg.RunTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	result, err := e.analyze(runCtx, universeName, mode, trigger, now)
	if err != nil {
		return nil, err
	}
	result.ElapsedSec = time.Since(started).Seconds()

	e.persist(ctx, result)
	e.emit(result)
	return result, nil
}

// Hydrate seeds the in-memory latest map without recomputing: memory, then
// the KV snapshot, then the last persisted run. Used at startup so
// closed-market pairs serve their last run.
func (e *TopPicksEngine) Hydrate(ctx context.Context, universeName string, mode domain.Mode) (*RunResult, bool) {
	if res, ok := e.Latest(universeName, mode); ok {
		return res, true
	}
	var res RunResult
	if err := e.cache.GetJSON(ctx, kv.KeyTopPicks(universeName, string(mode)), &res); err != nil {
		stored, err := e.store.GetLatestRunFor(ctx, universeName, mode)
		if err != nil || len(stored.Payload) == 0 {
			return nil, false
		}
		if err := json.Unmarshal(stored.Payload, &res); err != nil {
			e.log.Warn().Err(err).Str("run_id", stored.RunID).Msg("stored run payload unreadable")
			return nil, false
		}
	}
	e.mu.Lock()
	e.latest[pairKey(universeName, mode)] = &res
	e.mu.Unlock()
	return &res, true
}

func (e *TopPicksEngine) cachedResult(ctx context.Context, universeName string, mode domain.Mode) (*RunResult, bool) {
	if res, ok := e.Latest(universeName, mode); ok {
		cached := *res
		cached.FromCache = true
		return &cached, true
	}
	var res RunResult
	if err := e.cache.GetJSON(ctx, kv.KeyTopPicks(universeName, string(mode)), &res); err == nil {
		res.FromCache = true
		return &res, true
	}
	return nil, false
}

// symbolAnalysis is the per-symbol fanout output before ranking.
type symbolAnalysis struct {
	symbol   string
	quote    domain.Quote
	daily    []domain.Candle
	intraday []domain.Candle
	blend    agents.Blend
}

func (e *TopPicksEngine) analyze(ctx context.Context, universeName string, mode domain.Mode, trigger domain.Trigger, now time.Time) (*RunResult, error) {
	symbols := universe.Resolve(universeName)

	quotes, err := e.provider.GetQuote(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("fetching quotes for %s: %w", universeName, err)
	}
	indices, err := e.provider.GetIndicesQuote(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("index quotes unavailable, global agent will degrade")
		indices = map[string]domain.Quote{}
	}

	analyses := e.fanout(ctx, symbols, quotes, indices, mode, now)

	thresholds := e.weights.ThresholdsFor(string(mode))

	var actionable []symbolAnalysis
	directions := make(map[string]domain.Direction, len(analyses))
	for _, a := range analyses {
		rec := agents.RecommendationFor(a.blend.BlendScore,
			thresholds.StrongBuy, thresholds.Buy, thresholds.Sell, thresholds.StrongSell)
		dir, ok := domain.DirectionFor(rec)
		if !ok {
			continue
		}
		directions[a.symbol] = dir
		actionable = append(actionable, a)
	}

	sort.SliceStable(actionable, func(i, j int) bool {
		return actionable[i].blend.BlendScore > actionable[j].blend.BlendScore
	})
	topN := e.cfg.TopN
	if topN <= 0 {
		topN = 10
	}
	if len(actionable) > topN {
		actionable = actionable[:topN]
	}

	selection := e.loadPolicySelection(ctx, mode)
	sessionSegment := marketclock.SessionSegment(now)

	picks := make([]Pick, 0, len(actionable))
	for _, a := range actionable {
		picks = append(picks, e.buildPick(a, mode, directions[a.symbol], thresholds, sessionSegment, selection, now))
	}

	result := &RunResult{
		RunID:         database.RunIDFor(universeName, mode, now),
		Universe:      universeName,
		Mode:          mode,
		Trigger:       trigger,
		GeneratedAt:   now.UTC(),
		TotalAnalyzed: len(analyses),
		FilteredCount: len(analyses) - len(picks),
		Picks:         picks,
	}
	return result, nil
}

// fanout runs the agent ensemble over every quoted symbol with a bounded
// worker pool. Symbols with no quote or no history are skipped, not failed.
func (e *TopPicksEngine) fanout(ctx context.Context, symbols []string, quotes, indices map[string]domain.Quote, mode domain.Mode, now time.Time) []symbolAnalysis {
	workers := e.cfg.WorkerCount
	if workers <= 0 {
		workers = 10
	}

	overrides := e.weights.WeightsFor(string(mode))

	jobs := make(chan string)
	results := make(chan symbolAnalysis, len(symbols))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				quote, ok := quotes[symbol]
				if !ok || quote.Price <= 0 {
					continue
				}
				daily, intraday := e.fetchHistory(ctx, symbol, mode, now)
				if len(daily) == 0 {
					continue
				}
				in := agents.Input{
					Symbol:   symbol,
					Mode:     mode,
					Quote:    quote,
					Daily:    daily,
					Intraday: intraday,
					Indices:  indices,
					AsOf:     now,
				}
				results <- symbolAnalysis{
					symbol:   symbol,
					quote:    quote,
					daily:    daily,
					intraday: intraday,
					blend:    e.coord.Analyze(ctx, in, overrides),
				}
			}
		}()
	}

	for _, s := range symbols {
		select {
		case jobs <- s:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]symbolAnalysis, 0, len(symbols))
	for a := range results {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

func (e *TopPicksEngine) fetchHistory(ctx context.Context, symbol string, mode domain.Mode, now time.Time) (daily, intraday []domain.Candle) {
	daily, err := e.provider.GetHistorical(ctx, symbol, now.AddDate(0, 0, -120), now, domain.Interval1d, true)
	if err != nil {
		e.log.Debug().Err(err).Str("symbol", symbol).Msg("daily history unavailable")
	}
	if mode.IsIntradayStyle() {
		ist := now.In(marketclock.IST)
		dayStart := time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, marketclock.IST)
		intraday, err = e.provider.GetHistorical(ctx, symbol, dayStart, now, domain.Interval5m, true)
		if err != nil {
			e.log.Debug().Err(err).Str("symbol", symbol).Msg("intraday history unavailable")
		}
	}
	return daily, intraday
}

// loadPolicySelection hydrates the active policy's bandits for online
// selection. Any failure degrades to the seeded defaults so a run never
// blocks on the learning plane.
func (e *TopPicksEngine) loadPolicySelection(ctx context.Context, mode domain.Mode) *policySelection {
	cfg := learning.DefaultPolicyConfig()
	var metrics map[string]any

	if policy, err := e.store.GetActivePolicy(ctx); err == nil {
		if parsed, perr := learning.ParsePolicyConfig(policy.Config); perr == nil {
			cfg = parsed
		}
		metrics = policy.Metrics
	} else if err != database.ErrNoActivePolicy {
		e.log.Warn().Err(err).Msg("active policy unavailable, using defaults")
	}

	modePolicy := cfg.ModeFor(mode)
	sel := &policySelection{
		modePolicy:  modePolicy,
		exitBandit:  modePolicy.ExitBandit.Build(nil),
		entryBandit: modePolicy.EntryBandit.Build(nil),
	}
	if metrics != nil {
		if snap, ok := metrics["bandit"].(map[string]any); ok {
			if modeSnap, ok := snap[string(mode)].(map[string]any); ok {
				sel.exitBandit.Restore(modeSnap)
			}
		}
		if snap, ok := metrics["entry_bandit"].(map[string]any); ok {
			if modeSnap, ok := snap[string(mode)].(map[string]any); ok {
				sel.entryBandit.Restore(modeSnap)
			}
		}
	}
	return sel
}

func (e *TopPicksEngine) buildPick(a symbolAnalysis, mode domain.Mode, dir domain.Direction, thresholds config.BlendThresholds, sessionSegment string, selection *policySelection, now time.Time) Pick {
	rec := agents.RecommendationFor(a.blend.BlendScore,
		thresholds.StrongBuy, thresholds.Buy, thresholds.Sell, thresholds.StrongSell)

	pick := Pick{
		PickUUID:       uuid.NewString(),
		Symbol:         a.symbol,
		Direction:      dir,
		Recommendation: rec,
		Confidence:     a.blend.Confidence,
		BlendScore:     a.blend.BlendScore,
		Price:          a.quote.Price,
		ChangePercent:  a.quote.ChangePercent,
		SignalTS:       now.UTC(),
		AgentResults:   a.blend.Results,
		SessionSegment: sessionSegment,
		ValueBucket:    valueBucket(a.quote),
		RegimeBucket:   regimeBucket(a.blend.Results),
		VolBucket:      volBucket(a.daily),
		UserRiskBucket: DefaultRiskBucket,
	}

	pick.BanditCtx = learning.ContextKey(string(mode), pick.RegimeBucket, pick.VolBucket, pick.UserRiskBucket)
	exitCtx := pick.BanditCtx
	if mode == domain.ModeIntraday {
		exitCtx = learning.IntradayExitContextKey(pick.BanditCtx, pick.SessionSegment, pick.ValueBucket)
	}

	if mode == domain.ModeScalping {
		atrPct, ok := agents.ATRPercent(a.intraday, 14)
		if !ok {
			atrPct, _ = agents.ATRPercent(a.daily, 14)
		}
		pick.ExitStrategy = scalpingExitStrategy(a.quote.Price, atrPct, e.cfg.ScalpATRFloorPct, e.cfg.ScalpMaxHoldMins, dir)
		pick.EntryActionID = selection.selectEntryAction(pick.BanditCtx, dir)
	} else {
		profile, profileID := selection.selectExitProfile(exitCtx)
		pick.ExitStrategy = profileExitStrategy(a.quote.Price, profile, dir)
		pick.ExitProfileID = profileID
		pick.EntryActionID = selection.selectEntryAction(pick.BanditCtx, dir)
	}
	return pick
}

// persist writes the run everywhere it lands: database, KV snapshot,
// in-memory map, and the per-run JSON file. Pick-level writes are
// best-effort; a failed insert never fails the run.
func (e *TopPicksEngine) persist(ctx context.Context, result *RunResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		e.log.Error().Err(err).Msg("run payload marshal failed")
		return
	}

	run := database.TopPicksRun{
		RunID:         result.RunID,
		Universe:      result.Universe,
		Mode:          result.Mode,
		GeneratedAt:   result.GeneratedAt,
		Trigger:       result.Trigger,
		TotalAnalyzed: result.TotalAnalyzed,
		FilteredCount: result.FilteredCount,
		PicksCount:    len(result.Picks),
		Payload:       payload,
	}
	if err := e.store.StoreRun(ctx, run); err != nil {
		e.log.Error().Err(err).Str("run_id", result.RunID).Msg("run store failed")
	}

	for i := range result.Picks {
		e.logPick(ctx, result, &result.Picks[i])
	}

	e.mu.Lock()
	e.latest[pairKey(result.Universe, result.Mode)] = result
	e.mu.Unlock()

	if err := e.cache.SetJSON(ctx, kv.KeyTopPicks(result.Universe, string(result.Mode)), result, kv.TTLTopPicksRun); err != nil && err != kv.ErrUnavailable {
		e.log.Warn().Err(err).Msg("kv snapshot write failed")
	}

	e.writeRunFile(result, payload)
}

func (e *TopPicksEngine) logPick(ctx context.Context, result *RunResult, pick *Pick) {
	event := database.PickEvent{
		PickUUID:       pick.PickUUID,
		Symbol:         pick.Symbol,
		Direction:      pick.Direction,
		Source:         "top_picks_engine",
		Mode:           result.Mode,
		RunID:          result.RunID,
		SignalTS:       pick.SignalTS,
		TradeDate:      marketclock.TradeDate(pick.SignalTS),
		SignalPrice:    pick.Price,
		TimeHorizon:    string(result.Mode),
		BlendScore:     pick.BlendScore,
		Recommendation: pick.Recommendation,
		Confidence:     pick.Confidence,
		RegimeBucket:   pick.RegimeBucket,
		VolBucket:      pick.VolBucket,
		UserRiskBucket: pick.UserRiskBucket,
		Universe:       result.Universe,
		ExtraContext: map[string]any{
			"bandit_ctx":      pick.BanditCtx,
			"entry_action_id": pick.EntryActionID,
			"exit_profile_id": pick.ExitProfileID,
			"session_segment": pick.SessionSegment,
			"value_bucket":    pick.ValueBucket,
		},
	}
	if s := pick.ExitStrategy; s != nil {
		event.RecommendedEntry = &pick.Price
		event.RecommendedTarget = &s.TargetPrice
		event.RecommendedStop = &s.StopLossPrice
	}

	contributions := make([]database.AgentContribution, 0, len(pick.AgentResults))
	for _, r := range pick.AgentResults {
		score := r.Score
		contributions = append(contributions, database.AgentContribution{
			PickUUID:   pick.PickUUID,
			AgentName:  r.AgentType,
			Score:      &score,
			Confidence: r.Confidence,
			Metadata:   r.Metadata,
		})
	}
	if err := e.store.LogPick(ctx, event, contributions); err != nil {
		e.log.Warn().Err(err).Str("symbol", pick.Symbol).Msg("pick event log failed")
	}

	rec := database.AiRecommendation{
		PickUUID:       pick.PickUUID,
		Symbol:         pick.Symbol,
		Mode:           result.Mode,
		Recommendation: pick.Recommendation,
		Direction:      pick.Direction,
		EntryPrice:     pick.Price,
		DataSource:     "Live",
		TradeDate:      marketclock.TradeDate(pick.SignalTS),
	}
	if s := pick.ExitStrategy; s != nil {
		rec.TargetPrice = &s.TargetPrice
		rec.StopPrice = &s.StopLossPrice
	}
	if err := e.store.InsertRecommendation(ctx, rec); err != nil {
		e.log.Warn().Err(err).Str("symbol", pick.Symbol).Msg("recommendation insert failed")
	}
}

// writeRunFile drops the run payload under data/top_picks_intraday so the
// scalping monitor can derive positions without a database round trip.
func (e *TopPicksEngine) writeRunFile(result *RunResult, payload []byte) {
	dir := filepath.Join(e.dataDir, "top_picks_intraday")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.log.Warn().Err(err).Msg("run file dir create failed")
		return
	}
	stamp := result.GeneratedAt.In(marketclock.IST).Format("20060102_150405")
	name := fmt.Sprintf("picks_%s_%s_%s.json",
		strings.ToLower(result.Universe), strings.ToLower(string(result.Mode)), stamp)
	if err := os.WriteFile(filepath.Join(dir, name), payload, 0o644); err != nil {
		e.log.Warn().Err(err).Str("file", name).Msg("run file write failed")
	}
}

func (e *TopPicksEngine) emit(result *RunResult) {
	if e.hub != nil {
		e.hub.BroadcastAll(map[string]any{
			"type":        "top_picks_update",
			"universe":    result.Universe,
			"mode":        result.Mode,
			"run_id":      result.RunID,
			"picks_count": len(result.Picks),
			"picks":       result.Picks,
		})
	}
	if e.events != nil {
		e.events.Log(eventlog.TypeTopPicksRun, "top_picks_engine", map[string]any{
			"run_id":         result.RunID,
			"universe":       result.Universe,
			"mode":           result.Mode,
			"picks_count":    len(result.Picks),
			"total_analyzed": result.TotalAnalyzed,
			"elapsed_sec":    result.ElapsedSec,
		})
	}
}
