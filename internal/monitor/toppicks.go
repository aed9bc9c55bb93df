package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"arise-trading-engine/internal/agents"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/eventlog"
	"arise-trading-engine/internal/exits"
	"arise-trading-engine/internal/kv"
	"arise-trading-engine/internal/marketclock"
	"arise-trading-engine/internal/srlevels"
)

// Modes the positions monitor tracks. Scalping has its own tighter loop.
var monitoredModes = []domain.Mode{
	domain.ModeIntraday, domain.ModeSwing, domain.ModeOptions, domain.ModeFutures,
}

// LatestSource exposes the engine's in-memory latest run per pair.
type LatestSource interface {
	Latest(universeName string, mode domain.Mode) (*engine.RunResult, bool)
}

// MarketSource is the provider surface the positions monitor needs.
type MarketSource interface {
	GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
	GetHistorical(ctx context.Context, symbol string, from, to time.Time, interval string, useCache bool) ([]domain.Candle, error)
}

// SRSource resolves cached support/resistance levels.
type SRSource interface {
	Get(ctx context.Context, symbol, scope string) (srlevels.Levels, error)
}

// PositionsMonitor tracks open logical positions derived from the latest
// non-scalping picks. It scores health, runs the strategy exit evaluators,
// and records advisories. It never touches orders.
type PositionsMonitor struct {
	latest        LatestSource
	market        MarketSource
	sr            SRSource
	agent         *AutoMonitoringAgent
	advisories    *exits.StrategyExitTracker
	cache         *kv.Store
	events        *eventlog.Logger
	hub           Broadcaster
	clock         marketclock.Clock
	universes     []string
	log           zerolog.Logger
	failureBudget *failureBudget
}

func NewPositionsMonitor(
	latest LatestSource,
	market MarketSource,
	sr SRSource,
	advisories *exits.StrategyExitTracker,
	cache *kv.Store,
	events *eventlog.Logger,
	hub Broadcaster,
	clock marketclock.Clock,
	universes []string,
	maxBackoff time.Duration,
	log zerolog.Logger,
) *PositionsMonitor {
	return &PositionsMonitor{
		latest:        latest,
		market:        market,
		sr:            sr,
		agent:         &AutoMonitoringAgent{},
		advisories:    advisories,
		cache:         cache,
		events:        events,
		hub:           hub,
		clock:         clock,
		universes:     universes,
		log:           log.With().Str("component", "positions_monitor").Logger(),
		failureBudget: newFailureBudget(maxBackoff),
	}
}

// trackedPick pairs a pick with its origin run for mode-aware evaluation.
type trackedPick struct {
	pick engine.Pick
	mode domain.Mode
}

// Cycle runs one monitoring pass over the latest picks of every tracked
// universe/mode pair. Closed market is a no-op.
func (m *PositionsMonitor) Cycle(ctx context.Context) error {
	now := m.clock.Now()
	if !marketclock.IsMarketOpen(now) {
		return nil
	}
	if !m.failureBudget.allow(now) {
		return nil
	}

	tracked := m.collect(now)
	if len(tracked) == 0 {
		m.failureBudget.recordSuccess()
		return nil
	}

	symbols := make([]string, 0, len(tracked))
	for _, t := range tracked {
		symbols = append(symbols, t.pick.Symbol)
	}
	quotes, err := m.market.GetQuote(ctx, symbols)
	if err != nil {
		m.failureBudget.recordFailure(now)
		return err
	}
	m.failureBudget.recordSuccess()

	healths := make([]Health, 0, len(tracked))
	var fresh []domain.Advisory
	for _, t := range tracked {
		quote, ok := quotes[t.pick.Symbol]
		if !ok || quote.Price <= 0 {
			continue
		}
		pos := m.toPosition(t, quote.Price)
		candles := m.history(ctx, t, now)
		pos.SRScore = m.srScore(ctx, pos)

		healths = append(healths, m.agent.Check(pos))
		fresh = append(fresh, m.runStrategies(ctx, t, pos, candles, now)...)
	}

	m.publish(ctx, healths, fresh, now)
	return nil
}

// collect gathers actionable picks from the latest run of each pair,
// deduped by symbol within a mode.
func (m *PositionsMonitor) collect(now time.Time) []trackedPick {
	var out []trackedPick
	for _, mode := range monitoredModes {
		seen := map[string]bool{}
		for _, uni := range m.universes {
			run, ok := m.latest.Latest(uni, mode)
			if !ok || run == nil {
				continue
			}
			if mode.IsIntradayStyle() && marketclock.TradeDate(run.GeneratedAt) != marketclock.TradeDate(now) {
				continue
			}
			for _, pick := range run.Picks {
				if seen[pick.Symbol] || !pick.ExitStrategy.Complete() {
					continue
				}
				seen[pick.Symbol] = true
				out = append(out, trackedPick{pick: pick, mode: mode})
			}
		}
	}
	return out
}

func (m *PositionsMonitor) toPosition(t trackedPick, price float64) LogicalPosition {
	return LogicalPosition{
		Symbol:       t.pick.Symbol,
		Mode:         t.mode,
		Direction:    t.pick.Direction,
		EntryPrice:   t.pick.Price,
		CurrentPrice: price,
		StopLoss:     t.pick.ExitStrategy.StopLossPrice,
		Target:       t.pick.ExitStrategy.TargetPrice,
		EntryTime:    t.pick.SignalTS,
		VolBucket:    t.pick.VolBucket,
		Source:       "top_picks",
	}
}

// history fetches the candle series the evaluators read: trade-day 5m bars
// for intraday styles, 60 daily bars for swing.
func (m *PositionsMonitor) history(ctx context.Context, t trackedPick, now time.Time) []domain.Candle {
	var from time.Time
	interval := domain.Interval5m
	if t.mode.IsIntradayStyle() {
		ist := now.In(marketclock.IST)
		from = time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, marketclock.IST)
	} else {
		interval = domain.Interval1d
		from = now.AddDate(0, 0, -60)
	}
	candles, err := m.market.GetHistorical(ctx, t.pick.Symbol, from, now, interval, true)
	if err != nil {
		m.log.Debug().Err(err).Str("symbol", t.pick.Symbol).Msg("history fetch failed")
		return nil
	}
	return candles
}

func (m *PositionsMonitor) srScore(ctx context.Context, pos LogicalPosition) float64 {
	if m.sr == nil {
		return 0
	}
	scope := srlevels.ScopeDaily
	if pos.Mode == domain.ModeSwing {
		scope = srlevels.ScopeWeekly
	}
	levels, err := m.sr.Get(ctx, pos.Symbol, scope)
	if err != nil {
		return 0
	}
	return srlevels.ScoreAtPrice(levels, pos.CurrentPrice)
}

// runStrategies fires every exit evaluator for one position and records the
// advisories that are new today. Recording dedups per strategy and kind.
func (m *PositionsMonitor) runStrategies(ctx context.Context, t trackedPick, pos LogicalPosition, candles []domain.Candle, now time.Time) []domain.Advisory {
	var candidates []domain.Advisory

	rsi := lastRSI(candles)
	if adv, ok := EvaluateS1(pos, rsi, now); ok {
		candidates = append(candidates, adv)
	}
	if adv, ok := EvaluateS2(pos, candles, now); ok {
		candidates = append(candidates, adv)
	}
	if adv, ok := EvaluateS3(pos, now); ok {
		candidates = append(candidates, adv)
	}
	if m.sr != nil {
		scope := srlevels.ScopeDaily
		if pos.Mode == domain.ModeSwing {
			scope = srlevels.ScopeWeekly
		}
		if levels, err := m.sr.Get(ctx, pos.Symbol, scope); err == nil {
			if adv, ok := EvaluateSR(pos, levels, now); ok {
				candidates = append(candidates, adv)
			}
		}
	}
	if score, reason, ok := newsRisk(t.pick); ok {
		if adv, ok := EvaluateNews(pos, score, reason, now); ok {
			candidates = append(candidates, adv)
		}
	}

	var fresh []domain.Advisory
	for _, adv := range candidates {
		adv.ID = uuid.NewString()
		recorded, err := m.advisories.Record(adv)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", adv.Symbol).Str("strategy", adv.StrategyID).Msg("advisory record failed")
			continue
		}
		if !recorded {
			continue
		}
		fresh = append(fresh, adv)
		if m.events != nil {
			m.events.Log(eventlog.TypeAdvisory, "positions_monitor", map[string]any{
				"symbol":      adv.Symbol,
				"strategy_id": adv.StrategyID,
				"kind":        adv.Kind,
				"severity":    adv.Severity,
				"is_exit":     adv.IsExit,
			})
		}
	}
	return fresh
}

// lastRSI returns RSI(14) on closes, zero when the series is too short.
func lastRSI(candles []domain.Candle) float64 {
	if len(candles) < 15 {
		return 0
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	out := talib.Rsi(closes, 14)
	return out[len(out)-1]
}

// newsRisk pulls the sentiment agent's contribution off the pick.
func newsRisk(pick engine.Pick) (float64, string, bool) {
	for _, res := range pick.AgentResults {
		if res.AgentType == "sentiment" {
			return agents.NewsRiskScore(res), res.Reasoning, true
		}
	}
	return 0, "", false
}

func (m *PositionsMonitor) publish(ctx context.Context, healths []Health, fresh []domain.Advisory, now time.Time) {
	snapshot := map[string]any{
		"type":           "top_picks_positions_update",
		"positions":      healths,
		"new_advisories": fresh,
		"tracked":        len(healths),
		"as_of":          now.UTC(),
	}
	if m.hub != nil {
		m.hub.BroadcastAll(snapshot)
	}
	if err := m.cache.SetJSON(ctx, kv.KeyPositionsMonitorLast, snapshot, kv.TTLMonitorSnapshot); err != nil && err != kv.ErrUnavailable {
		m.log.Debug().Err(err).Msg("positions snapshot write failed")
	}
	if m.events != nil {
		m.events.Log(eventlog.TypeMonitorSnapshot, "positions_monitor", map[string]any{
			"tracked":        len(healths),
			"new_advisories": len(fresh),
		})
	}
}
