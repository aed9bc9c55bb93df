package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/eventlog"
	"arise-trading-engine/internal/kv"
	"arise-trading-engine/internal/marketclock"
)

// BrokerClient is the authenticated broker surface the portfolio monitor
// reads. Calls fail until a session token is in place.
type BrokerClient interface {
	GetPositions(ctx context.Context) ([]domain.BrokerPosition, error)
	GetHoldings(ctx context.Context) ([]domain.Holding, error)
}

// TickCache serves the last streamed tick per symbol so the monitor avoids
// a quote round trip for symbols already on the live feed.
type TickCache interface {
	LastTick(symbol string) (domain.Tick, bool)
}

// PortfolioMonitor scores real broker positions, holdings and the
// configured watchlist. Like every monitor it only observes: health scores
// and alerts, never orders.
type PortfolioMonitor struct {
	broker        BrokerClient
	quotes        QuoteSource
	ticks         TickCache
	agent         *AutoMonitoringAgent
	cache         *kv.Store
	events        *eventlog.Logger
	hub           Broadcaster
	clock         marketclock.Clock
	watchlist     []string
	log           zerolog.Logger
	failureBudget *failureBudget
}

func NewPortfolioMonitor(
	broker BrokerClient,
	quotes QuoteSource,
	ticks TickCache,
	cache *kv.Store,
	events *eventlog.Logger,
	hub Broadcaster,
	clock marketclock.Clock,
	watchlist []string,
	maxBackoff time.Duration,
	log zerolog.Logger,
) *PortfolioMonitor {
	return &PortfolioMonitor{
		broker:        broker,
		quotes:        quotes,
		ticks:         ticks,
		agent:         &AutoMonitoringAgent{},
		cache:         cache,
		events:        events,
		hub:           hub,
		clock:         clock,
		watchlist:     watchlist,
		log:           log.With().Str("component", "portfolio_monitor").Logger(),
		failureBudget: newFailureBudget(maxBackoff),
	}
}

// Cycle runs one pass over broker positions, holdings and the watchlist.
// Closed market is a no-op.
func (m *PortfolioMonitor) Cycle(ctx context.Context) error {
	now := m.clock.Now()
	if !marketclock.IsMarketOpen(now) {
		return nil
	}
	if !m.failureBudget.allow(now) {
		return nil
	}

	positions, err := m.logicalPositions(ctx)
	if err != nil {
		m.failureBudget.recordFailure(now)
		return err
	}
	m.failureBudget.recordSuccess()

	m.refreshPrices(ctx, positions)

	healths := make([]Health, 0, len(positions))
	for _, pos := range positions {
		if pos.CurrentPrice <= 0 {
			continue
		}
		healths = append(healths, m.agent.Check(pos))
	}

	watch := m.watchlistQuotes(ctx)
	m.publish(ctx, healths, watch, now)
	return nil
}

// logicalPositions merges net positions and holdings into the monitor's
// logical shape, skipping flat rows. Product codes pick the mode.
func (m *PortfolioMonitor) logicalPositions(ctx context.Context) ([]LogicalPosition, error) {
	net, err := m.broker.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	var out []LogicalPosition
	for _, p := range net {
		if p.Quantity == 0 {
			continue
		}
		dir := domain.Long
		if p.Quantity < 0 {
			dir = domain.Short
		}
		out = append(out, LogicalPosition{
			Symbol:       p.Symbol,
			Mode:         domain.ModeForProduct(p.Product),
			Direction:    dir,
			Quantity:     float64(p.Quantity),
			EntryPrice:   p.AveragePrice,
			CurrentPrice: p.LastPrice,
			Source:       "broker_position",
		})
	}

	holdings, err := m.broker.GetHoldings(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("holdings fetch failed")
		return out, nil
	}
	for _, h := range holdings {
		if h.Quantity == 0 {
			continue
		}
		out = append(out, LogicalPosition{
			Symbol:       h.Symbol,
			Mode:         domain.ModeSwing,
			Direction:    domain.Long,
			Quantity:     float64(h.Quantity),
			EntryPrice:   h.AveragePrice,
			CurrentPrice: h.LastPrice,
			Source:       "holding",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// refreshPrices upgrades stale broker prices from the tick cache first and
// a quote batch for whatever the feed does not cover.
func (m *PortfolioMonitor) refreshPrices(ctx context.Context, positions []LogicalPosition) {
	var missing []string
	missingIdx := map[string][]int{}
	for i := range positions {
		sym := positions[i].Symbol
		if m.ticks != nil {
			if tick, ok := m.ticks.LastTick(sym); ok && tick.LastPrice > 0 {
				positions[i].CurrentPrice = tick.LastPrice
				continue
			}
		}
		if len(missingIdx[sym]) == 0 {
			missing = append(missing, sym)
		}
		missingIdx[sym] = append(missingIdx[sym], i)
	}
	if len(missing) == 0 {
		return
	}
	quotes, err := m.quotes.GetQuote(ctx, missing)
	if err != nil {
		m.log.Debug().Err(err).Msg("quote fallback failed")
		return
	}
	for sym, quote := range quotes {
		if quote.Price <= 0 {
			continue
		}
		for _, i := range missingIdx[sym] {
			positions[i].CurrentPrice = quote.Price
		}
	}
}

// watchlistQuotes snapshots the configured watchlist, tick cache first.
func (m *PortfolioMonitor) watchlistQuotes(ctx context.Context) []domain.Quote {
	if len(m.watchlist) == 0 {
		return nil
	}
	out := make([]domain.Quote, 0, len(m.watchlist))
	var missing []string
	for _, sym := range m.watchlist {
		if m.ticks != nil {
			if tick, ok := m.ticks.LastTick(sym); ok && tick.LastPrice > 0 {
				out = append(out, domain.Quote{
					Symbol:        sym,
					Price:         tick.LastPrice,
					ChangePercent: tick.ChangePercent,
					Volume:        tick.Volume,
					Timestamp:     tick.Timestamp,
				})
				continue
			}
		}
		missing = append(missing, sym)
	}
	if len(missing) > 0 {
		if quotes, err := m.quotes.GetQuote(ctx, missing); err == nil {
			for _, sym := range missing {
				if quote, ok := quotes[sym]; ok && quote.Price > 0 {
					out = append(out, quote)
				}
			}
		} else {
			m.log.Debug().Err(err).Msg("watchlist quote fetch failed")
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *PortfolioMonitor) publish(ctx context.Context, healths []Health, watch []domain.Quote, now time.Time) {
	snapshot := map[string]any{
		"type":      "portfolio_monitor_update",
		"positions": healths,
		"watchlist": watch,
		"as_of":     now.UTC(),
	}
	if m.hub != nil {
		m.hub.BroadcastAll(snapshot)
	}
	if err := m.cache.SetJSON(ctx, kv.KeyPortfolioPositionsLast, snapshot, kv.TTLMonitorSnapshot); err != nil && err != kv.ErrUnavailable {
		m.log.Debug().Err(err).Msg("portfolio snapshot write failed")
	}
	watchSnap := map[string]any{"quotes": watch, "as_of": now.UTC()}
	if err := m.cache.SetJSON(ctx, kv.KeyPortfolioWatchlistLast, watchSnap, kv.TTLMonitorSnapshot); err != nil && err != kv.ErrUnavailable {
		m.log.Debug().Err(err).Msg("watchlist snapshot write failed")
	}
	if m.events != nil {
		m.events.Log(eventlog.TypeMonitorSnapshot, "portfolio_monitor", map[string]any{
			"positions": len(healths),
			"watchlist": len(watch),
		})
	}
}
