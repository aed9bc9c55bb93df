package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arise-trading-engine/internal/candlecache"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
	"arise-trading-engine/internal/universe"
)

// Indices served by GetIndicesQuote.
var IndexNames = []string{"NIFTY50", "BANKNIFTY", "SENSEX"}

// MarketStatus is the session snapshot served to the dashboard.
type MarketStatus struct {
	Open      bool      `json:"open"`
	Segment   string    `json:"segment"`
	TradeDate string    `json:"trade_date"`
	AsOf      time.Time `json:"as_of"`
}

// UnifiedProvider is the single market-data entry point. Primary first, then
// fallback; every call degrades independently and callers only see an error
// when neither source can supply anything safe.
type UnifiedProvider struct {
	kite  *KiteClient
	yahoo *YahooClient
	cache *candlecache.Cache
	clock marketclock.Clock
	log   zerolog.Logger

	mu          sync.RWMutex
	primaryDown bool
}

func NewUnifiedProvider(kite *KiteClient, yahoo *YahooClient, cache *candlecache.Cache, clock marketclock.Clock, log zerolog.Logger) *UnifiedProvider {
	return &UnifiedProvider{
		kite:  kite,
		yahoo: yahoo,
		cache: cache,
		clock: clock,
		log:   log.With().Str("component", "provider").Logger(),
	}
}

// UpgradeAuth installs a fresh broker token at runtime so the provider
// returns to primary on the next call, no restart needed.
func (p *UnifiedProvider) UpgradeAuth(accessToken string) {
	p.kite.SetAccessToken(accessToken)
	p.mu.Lock()
	p.primaryDown = false
	p.mu.Unlock()
	p.log.Info().Msg("primary auth upgraded, resuming broker data")
}

// primaryUsable reports whether the broker should be tried at all.
func (p *UnifiedProvider) primaryUsable() bool {
	if !p.kite.HasAuth() {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.primaryDown
}

// notePrimaryError downgrades to fallback for the session when the error
// text shows an expired broker session.
func (p *UnifiedProvider) notePrimaryError(err error) {
	if !IsAuthError(err) {
		return
	}
	p.mu.Lock()
	wasDown := p.primaryDown
	p.primaryDown = true
	p.mu.Unlock()
	if !wasDown {
		p.log.Warn().Err(err).Msg("primary auth expired, downgrading to fallback")
	}
}

// GetQuote returns a quote per symbol. NFO symbols the fallback cannot serve
// come back zero-filled so position math stays total.
func (p *UnifiedProvider) GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	if p.primaryUsable() {
		quotes, err := p.kite.GetQuote(ctx, symbols)
		if err == nil && len(quotes) > 0 {
			return quotes, nil
		}
		if err != nil {
			p.notePrimaryError(err)
			p.log.Debug().Err(err).Msg("primary quote failed, falling back")
		}
	}

	quotes, err := p.yahoo.GetQuote(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("all quote sources failed: %w", err)
	}
	now := p.clock.Now().UTC()
	for _, sym := range symbols {
		if _, ok := quotes[sym]; !ok {
			quotes[sym] = domain.Quote{Symbol: sym, Timestamp: now}
		}
	}
	return quotes, nil
}

// GetHistorical returns OHLCV bars, consulting the candle cache first.
// Successful fetches are written back tagged with their source.
func (p *UnifiedProvider) GetHistorical(ctx context.Context, symbol string, from, to time.Time, interval string, useCache bool) ([]domain.Candle, error) {
	if useCache && p.cache != nil {
		for _, source := range []string{"kite", "yahoo"} {
			if candles, ok := p.cache.Get(symbol, interval, from, to, source); ok {
				return candles, nil
			}
		}
	}

	if p.primaryUsable() {
		candles, err := p.kite.GetHistorical(ctx, symbol, from, to, interval)
		if err == nil && len(candles) > 0 {
			p.storeCandles(symbol, interval, from, to, "kite", candles)
			return candles, nil
		}
		if err != nil {
			p.notePrimaryError(err)
			p.log.Debug().Err(err).Str("symbol", symbol).Msg("primary historical failed, falling back")
		}
	}

	candles, err := p.yahoo.GetHistorical(ctx, symbol, from, to, interval)
	if err != nil {
		return nil, fmt.Errorf("all historical sources failed for %s: %w", symbol, err)
	}
	p.storeCandles(symbol, interval, from, to, "yahoo", candles)
	return candles, nil
}

func (p *UnifiedProvider) storeCandles(symbol, interval string, from, to time.Time, source string, candles []domain.Candle) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(symbol, interval, from, to, source, candles); err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("candle cache write failed")
	}
}

// GetIndicesQuote returns the tracked index quotes. Primary first, then the
// near-real-time chart endpoint per index.
func (p *UnifiedProvider) GetIndicesQuote(ctx context.Context) (map[string]domain.Quote, error) {
	if p.primaryUsable() {
		instruments := []string{"NIFTY 50", "NIFTY BANK", "SENSEX"}
		quotes, err := p.kite.GetQuote(ctx, instruments)
		if err == nil && len(quotes) > 0 {
			out := make(map[string]domain.Quote, len(IndexNames))
			for i, name := range IndexNames {
				if q, ok := quotes[instruments[i]]; ok {
					q.Symbol = name
					out[name] = q
				}
			}
			if len(out) > 0 {
				return out, nil
			}
		}
		if err != nil {
			p.notePrimaryError(err)
		}
	}

	out := make(map[string]domain.Quote, len(IndexNames))
	for _, name := range IndexNames {
		quote, err := p.yahoo.GetIndexQuote(ctx, name)
		if err != nil {
			p.log.Debug().Err(err).Str("index", name).Msg("index fallback failed")
			continue
		}
		out[name] = quote
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("all index sources failed")
	}
	return out, nil
}

// GetMarketStatus derives the session state from the trading clock.
func (p *UnifiedProvider) GetMarketStatus() MarketStatus {
	now := p.clock.Now()
	return MarketStatus{
		Open:      marketclock.IsMarketOpen(now),
		Segment:   marketclock.SessionSegment(now),
		TradeDate: marketclock.TradeDate(now),
		AsOf:      now.UTC(),
	}
}

// Exchange re-exports symbol routing for callers that log it.
func (p *UnifiedProvider) Exchange(symbol string) string {
	return universe.Exchange(symbol)
}
