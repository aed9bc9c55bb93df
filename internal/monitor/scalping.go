package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/engine"
	"arise-trading-engine/internal/eventlog"
	"arise-trading-engine/internal/exits"
	"arise-trading-engine/internal/kv"
	"arise-trading-engine/internal/marketclock"
)

// QuoteSource fetches current prices for monitored symbols.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
}

// OutcomeSink is the best-effort database hookup for realized scalping exits.
type OutcomeSink interface {
	FindPickForExit(ctx context.Context, symbol, tradeDate string, entryTime time.Time) (*database.PickEvent, error)
	UpsertOutcome(ctx context.Context, o database.PickOutcome) error
	MarkExit(ctx context.Context, symbol, tradeDate, exitReason string, exitPrice, returnPct float64, exitTime time.Time) error
}

// Broadcaster pushes monitor updates to WebSocket clients.
type Broadcaster interface {
	BroadcastAll(message any)
}

// scalpPosition is one open scalping position derived from a pick file.
type scalpPosition struct {
	pick      engine.Pick
	entryTime time.Time
}

// ScalpingMonitor walks recent scalping picks and closes them when an exit
// condition fires. It never places orders; it records exits and advisories.
type ScalpingMonitor struct {
	quotes        QuoteSource
	tracker       *exits.ScalpingExitTracker
	outcomes      OutcomeSink
	cache         *kv.Store
	events        *eventlog.Logger
	hub           Broadcaster
	clock         marketclock.Clock
	dataDir       string
	lookback      time.Duration
	log           zerolog.Logger
	failureBudget *failureBudget

	mu    sync.Mutex
	peaks map[string]float64
}

func NewScalpingMonitor(
	quotes QuoteSource,
	tracker *exits.ScalpingExitTracker,
	outcomes OutcomeSink,
	cache *kv.Store,
	events *eventlog.Logger,
	hub Broadcaster,
	clock marketclock.Clock,
	dataDir string,
	lookbackHours int,
	maxBackoff time.Duration,
	log zerolog.Logger,
) *ScalpingMonitor {
	if lookbackHours <= 0 {
		lookbackHours = 2
	}
	return &ScalpingMonitor{
		quotes:        quotes,
		tracker:       tracker,
		outcomes:      outcomes,
		cache:         cache,
		events:        events,
		hub:           hub,
		clock:         clock,
		dataDir:       dataDir,
		lookback:      time.Duration(lookbackHours) * time.Hour,
		log:           log.With().Str("component", "scalping_monitor").Logger(),
		failureBudget: newFailureBudget(maxBackoff),
		peaks:         make(map[string]float64),
	}
}

// Cycle runs one monitoring pass. Outside the cash session and the EOD
// window it is a no-op.
func (m *ScalpingMonitor) Cycle(ctx context.Context) error {
	now := m.clock.Now()
	if !marketclock.IsMarketOpen(now) && !marketclock.InEODWindow(now) {
		return nil
	}
	if !m.failureBudget.allow(now) {
		return nil
	}

	positions, err := m.openPositions(now)
	if err != nil {
		m.failureBudget.recordFailure(now)
		return err
	}
	if len(positions) == 0 {
		m.failureBudget.recordSuccess()
		return nil
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.pick.Symbol)
	}
	quotes, err := m.quotes.GetQuote(ctx, symbols)
	if err != nil {
		m.failureBudget.recordFailure(now)
		return err
	}
	m.failureBudget.recordSuccess()

	closed := make([]domain.ScalpingExit, 0)
	for _, pos := range positions {
		quote, ok := quotes[pos.pick.Symbol]
		if !ok || quote.Price <= 0 {
			continue
		}
		exit, fired := m.evaluate(pos, quote.Price, now)
		if !fired {
			continue
		}
		recorded, err := m.tracker.Record(exit)
		if err != nil {
			m.log.Warn().Err(err).Str("symbol", exit.Symbol).Msg("exit record failed")
			continue
		}
		if !recorded {
			continue
		}
		closed = append(closed, exit)
		m.afterExit(ctx, pos, exit)
	}

	m.publish(ctx, positions, closed, now)
	return nil
}

// openPositions derives live positions from scalping pick files within the
// lookback window, skipping picks already closed today.
func (m *ScalpingMonitor) openPositions(now time.Time) ([]scalpPosition, error) {
	dir := filepath.Join(m.dataDir, "top_picks_intraday")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	tradeDate := marketclock.TradeDate(now)
	cutoff := now.Add(-m.lookback)

	seen := map[string]bool{}
	var out []scalpPosition
	for _, entry := range entries {
		name := entry.Name()
		if !strings.Contains(name, "_scalping_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var run engine.RunResult
		if err := json.Unmarshal(data, &run); err != nil {
			m.log.Warn().Str("file", name).Err(err).Msg("pick file unreadable")
			continue
		}
		if run.GeneratedAt.Before(cutoff) {
			continue
		}
		for _, pick := range run.Picks {
			if !pick.ExitStrategy.Complete() {
				continue
			}
			key := pick.Symbol + "|" + pick.SignalTS.Format(time.RFC3339)
			if seen[key] {
				continue
			}
			seen[key] = true
			if done, _ := m.tracker.HasExit(tradeDate, pick.Symbol, pick.SignalTS); done {
				continue
			}
			out = append(out, scalpPosition{pick: pick, entryTime: pick.SignalTS})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pick.Symbol < out[j].pick.Symbol })
	return out, nil
}

// evaluate applies the exit ladder in fixed order. The first condition that
// fires is the reason; target and stop exits are clamped to their levels.
func (m *ScalpingMonitor) evaluate(pos scalpPosition, price float64, now time.Time) (domain.ScalpingExit, bool) {
	pick := pos.pick
	strategy := pick.ExitStrategy
	sign := pick.Direction.Sign()
	entry := pick.Price

	ret := sign * (price - entry) / entry * 100
	exitPrice := price
	reason := ""

	switch {
	case sign*(price-strategy.TargetPrice) >= 0:
		reason = domain.ExitTargetHit
		exitPrice = strategy.TargetPrice
	case sign*(price-strategy.StopLossPrice) <= 0:
		reason = domain.ExitStopLoss
		exitPrice = strategy.StopLossPrice
	case now.Sub(pos.entryTime) >= time.Duration(strategy.MaxHoldMins)*time.Minute:
		reason = domain.ExitTimeExit
	case m.trailingFired(pos, price, ret):
		reason = domain.ExitTrailingStop
	case marketclock.InEODWindow(now):
		reason = domain.ExitEODAuto
	default:
		return domain.ScalpingExit{}, false
	}

	finalRet := sign * (exitPrice - entry) / entry * 100
	return domain.ScalpingExit{
		Symbol:           pick.Symbol,
		EntryTime:        pos.entryTime,
		EntryPrice:       entry,
		ExitTime:         now.UTC(),
		ExitPrice:        exitPrice,
		ExitReason:       reason,
		ReturnPct:        finalRet,
		HoldDurationMins: int(now.Sub(pos.entryTime).Minutes()),
		Mode:             domain.ModeScalping,
		Recommendation:   pick.Recommendation,
	}, true
}

// trailingFired tracks the favorable peak across cycles and fires when the
// give-back from the peak exceeds the trail distance after activation.
func (m *ScalpingMonitor) trailingFired(pos scalpPosition, price, ret float64) bool {
	strategy := pos.pick.ExitStrategy
	if strategy.TrailActivatePct <= 0 || strategy.TrailDistancePct <= 0 {
		return false
	}
	key := pos.pick.Symbol + "|" + pos.entryTime.Format(time.RFC3339)

	m.mu.Lock()
	defer m.mu.Unlock()
	peak, tracked := m.peaks[key]
	if ret > peak || !tracked {
		if ret > peak {
			peak = ret
		}
		m.peaks[key] = peak
	}
	if peak < strategy.TrailActivatePct {
		return false
	}
	return peak-ret >= strategy.TrailDistancePct
}

// afterExit performs the best-effort persistence hooks for a closed
// position: analytics row, pick outcome, and an advisory when the exit was
// trend-driven. Failures are logged, never propagated.
func (m *ScalpingMonitor) afterExit(ctx context.Context, pos scalpPosition, exit domain.ScalpingExit) {
	tradeDate := marketclock.TradeDate(exit.ExitTime)

	if m.outcomes != nil {
		if err := m.outcomes.MarkExit(ctx, exit.Symbol, tradeDate, exit.ExitReason, exit.ExitPrice, exit.ReturnPct, exit.ExitTime); err != nil {
			m.log.Debug().Err(err).Str("symbol", exit.Symbol).Msg("recommendation exit update failed")
		}
		m.recordOutcome(ctx, pos, exit, tradeDate)
	}

	if m.events != nil {
		m.events.Log(eventlog.TypeScalpingExit, "scalping_monitor", map[string]any{
			"symbol":      exit.Symbol,
			"exit_reason": exit.ExitReason,
			"return_pct":  exit.ReturnPct,
			"hold_mins":   exit.HoldDurationMins,
		})
	}
}

func (m *ScalpingMonitor) recordOutcome(ctx context.Context, pos scalpPosition, exit domain.ScalpingExit, tradeDate string) {
	pick, err := m.outcomes.FindPickForExit(ctx, exit.Symbol, tradeDate, pos.entryTime)
	if err != nil || pick == nil {
		return
	}
	sign := pick.Direction.Sign()
	entry := pick.SignalPrice

	outcome := database.PickOutcome{
		PickUUID:          pick.PickUUID,
		EvaluationHorizon: database.HorizonScalping,
		HorizonEndTS:      exit.ExitTime,
		PriceClose:        exit.ExitPrice,
		PriceHigh:         max(entry, exit.ExitPrice),
		PriceLow:          min(entry, exit.ExitPrice),
		RetClosePct:       exit.ReturnPct,
		HitTarget:         exit.ExitReason == domain.ExitTargetHit,
		HitStop:           exit.ExitReason == domain.ExitStopLoss,
		OutcomeLabel:      outcomeLabel(exit.ReturnPct),
		Notes:             map[string]any{"exit_reason": exit.ExitReason},
	}
	if entry > 0 {
		run := sign * (exit.ExitPrice - entry) / entry * 100
		if run > 0 {
			outcome.MaxRunupPct = run
		} else {
			outcome.MaxDrawdownPct = run
		}
	}
	if err := m.outcomes.UpsertOutcome(ctx, outcome); err != nil {
		m.log.Debug().Err(err).Str("pick_uuid", pick.PickUUID).Msg("scalping outcome upsert failed")
	}
}

func outcomeLabel(retPct float64) string {
	switch {
	case retPct > 0.5:
		return database.OutcomeWin
	case retPct < -0.5:
		return database.OutcomeLoss
	default:
		return database.OutcomeBreakeven
	}
}

func (m *ScalpingMonitor) publish(ctx context.Context, positions []scalpPosition, closed []domain.ScalpingExit, now time.Time) {
	summary := map[string]any{
		"type":           "scalping_monitor_update",
		"open_positions": len(positions) - len(closed),
		"closed_now":     closed,
		"as_of":          now.UTC(),
	}
	if m.hub != nil {
		m.hub.BroadcastAll(summary)
	}
	if err := m.cache.SetJSON(ctx, kv.KeyScalpingMonitorLast, summary, kv.TTLMonitorSnapshot); err != nil && err != kv.ErrUnavailable {
		m.log.Debug().Err(err).Msg("scalping snapshot write failed")
	}
}

