package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/exits"
	"arise-trading-engine/internal/kv"
	"arise-trading-engine/internal/marketclock"
)

// LatestReader exposes the engine's in-memory snapshots.
type LatestReader interface {
	Latest(universeName string, mode domain.Mode) (*engine.RunResult, bool)
}

// OutcomeStore reads evaluated pick outcomes for the performance view.
type OutcomeStore interface {
	OutcomesInRange(ctx context.Context, mode, fromDate, toDate, horizon string) ([]database.PickOutcomeWithContext, error)
}

// Broadcaster pushes dashboard updates to connected WebSocket clients.
type Broadcaster interface {
	BroadcastAll(message any)
}

// Dashboard aggregates engine runs, exits and outcomes into the cached
// intraday and 7-day performance overviews.
type Dashboard struct {
	latest    LatestReader
	outcomes  OutcomeStore
	scalping  *exits.ScalpingExitTracker
	strategy  *exits.StrategyExitTracker
	cache     *kv.Store
	hub       Broadcaster
	clock     marketclock.Clock
	universes []string
	log       zerolog.Logger
}

func NewDashboard(
	latest LatestReader,
	outcomes OutcomeStore,
	scalping *exits.ScalpingExitTracker,
	strategy *exits.StrategyExitTracker,
	cache *kv.Store,
	hub Broadcaster,
	clock marketclock.Clock,
	universes []string,
	log zerolog.Logger,
) *Dashboard {
	return &Dashboard{
		latest:    latest,
		outcomes:  outcomes,
		scalping:  scalping,
		strategy:  strategy,
		cache:     cache,
		hub:       hub,
		clock:     clock,
		universes: universes,
		log:       log.With().Str("component", "dashboard").Logger(),
	}
}

// RefreshIntraday rebuilds the intraday overview: the freshness and pick
// counts of every cached run plus today's realized scalping exits and
// strategy advisories.
func (d *Dashboard) RefreshIntraday(ctx context.Context) error {
	now := d.clock.Now()
	today := marketclock.TradeDate(now)

	runs := make([]map[string]any, 0, len(d.universes)*len(domain.AllModes))
	for _, uni := range d.universes {
		for _, mode := range domain.AllModes {
			result, ok := d.latest.Latest(uni, mode)
			if !ok {
				continue
			}
			runs = append(runs, map[string]any{
				"universe":     uni,
				"mode":         mode,
				"run_id":       result.RunID,
				"generated_at": result.GeneratedAt,
				"age_sec":      now.Sub(result.GeneratedAt).Seconds(),
				"picks":        len(result.Picks),
				"trigger":      result.Trigger,
			})
		}
	}

	snapshot := map[string]any{
		"trade_date": today,
		"as_of":      now.UTC(),
		"runs":       runs,
	}
	d.addScalpingSummary(snapshot, today)
	d.addAdvisorySummary(snapshot, today)

	if err := d.cache.SetJSON(ctx, kv.KeyDashboardIntraday, snapshot, kv.TTLDashboardIntraday); err != nil {
		d.log.Debug().Err(err).Msg("intraday dashboard cache write failed")
	}
	if d.hub != nil {
		d.hub.BroadcastAll(map[string]any{
			"type":  "dashboard_update",
			"scope": "intraday",
			"data":  snapshot,
		})
	}
	return nil
}

func (d *Dashboard) addScalpingSummary(snapshot map[string]any, tradeDate string) {
	if d.scalping == nil {
		return
	}
	scalpExits, err := d.scalping.ExitsFor(tradeDate)
	if err != nil {
		d.log.Debug().Err(err).Msg("scalping exits unavailable")
		return
	}
	var wins int
	var retSum float64
	for _, e := range scalpExits {
		retSum += e.ReturnPct
		if e.ReturnPct > 0 {
			wins++
		}
	}
	summary := map[string]any{
		"exits": len(scalpExits),
		"wins":  wins,
	}
	if len(scalpExits) > 0 {
		summary["avg_return_pct"] = retSum / float64(len(scalpExits))
	}
	snapshot["scalping"] = summary
}

func (d *Dashboard) addAdvisorySummary(snapshot map[string]any, tradeDate string) {
	if d.strategy == nil {
		return
	}
	advisories, err := d.strategy.AdvisoriesFor(tradeDate)
	if err != nil {
		d.log.Debug().Err(err).Msg("strategy advisories unavailable")
		return
	}
	byKind := make(map[string]int)
	exitsRecommended := 0
	for _, a := range advisories {
		byKind[a.Kind]++
		if a.IsExit {
			exitsRecommended++
		}
	}
	snapshot["advisories"] = map[string]any{
		"total":   len(advisories),
		"exits":   exitsRecommended,
		"by_kind": byKind,
	}
}

// RefreshPerformance rebuilds the trailing 7-day outcome summary per mode.
func (d *Dashboard) RefreshPerformance(ctx context.Context) error {
	now := d.clock.Now()
	toDate := marketclock.TradeDate(now)
	fromDate := marketclock.TradeDate(now.AddDate(0, 0, -7))

	modes := make([]map[string]any, 0, len(domain.AllModes))
	for _, mode := range domain.AllModes {
		horizon := database.HorizonEOD
		if mode == domain.ModeScalping {
			horizon = database.HorizonScalping
		}
		rows, err := d.outcomes.OutcomesInRange(ctx, string(mode), fromDate, toDate, horizon)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		modes = append(modes, summarizeOutcomes(mode, rows))
	}

	snapshot := map[string]any{
		"from":  fromDate,
		"to":    toDate,
		"as_of": now.UTC(),
		"modes": modes,
	}
	if err := d.cache.SetJSON(ctx, kv.KeyDashboardPerformance7d, snapshot, kv.TTLDashboardPerformance); err != nil {
		d.log.Debug().Err(err).Msg("performance dashboard cache write failed")
	}
	if d.hub != nil {
		d.hub.BroadcastAll(map[string]any{
			"type":  "dashboard_update",
			"scope": "performance",
			"data":  snapshot,
		})
	}
	return nil
}

func summarizeOutcomes(mode domain.Mode, rows []database.PickOutcomeWithContext) map[string]any {
	var wins, losses, targetHits, stopHits int
	var retSum float64
	for _, row := range rows {
		retSum += row.RetClosePct
		switch row.OutcomeLabel {
		case database.OutcomeWin:
			wins++
		case database.OutcomeLoss:
			losses++
		}
		if row.HitTarget {
			targetHits++
		}
		if row.HitStop {
			stopHits++
		}
	}
	n := float64(len(rows))
	return map[string]any{
		"mode":            mode,
		"outcomes":        len(rows),
		"wins":            wins,
		"losses":          losses,
		"win_rate_pct":    100 * float64(wins) / n,
		"avg_return_pct":  retSum / n,
		"target_hit_rate": 100 * float64(targetHits) / n,
		"stop_hit_rate":   100 * float64(stopHits) / n,
	}
}
