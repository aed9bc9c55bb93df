// Package srlevels computes floor-pivot support/resistance levels per
// (symbol, scope) with scope-aware staleness and KV caching.
package srlevels

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/kv"
	"arise-trading-engine/internal/marketclock"
)

// Scopes and their candle windows in trading days.
const (
	ScopeYearly  = "Y"
	ScopeMonthly = "M"
	ScopeWeekly  = "W"
	ScopeDaily   = "D"
)

var scopeWindows = map[string]int{
	ScopeYearly:  252,
	ScopeMonthly: 22,
	ScopeWeekly:  5,
	ScopeDaily:   1,
}

// WindowFor returns the trading-day window for a scope, 0 if unknown.
func WindowFor(scope string) int { return scopeWindows[scope] }

// Levels is the computed pivot set for one symbol and scope.
type Levels struct {
	Symbol     string    `json:"symbol"`
	Scope      string    `json:"scope"`
	Pivot      float64   `json:"pivot"`
	R1         float64   `json:"r1"`
	R2         float64   `json:"r2"`
	R3         float64   `json:"r3"`
	S1         float64   `json:"s1"`
	S2         float64   `json:"s2"`
	S3         float64   `json:"s3"`
	WindowHigh float64   `json:"window_high"`
	WindowLow  float64   `json:"window_low"`
	WindowLast float64   `json:"window_last"`
	ComputedAt time.Time `json:"computed_at"`
}

// Compute derives floor pivots from the last windowDays candles. H and L are
// the window extremes, C the final close.
func Compute(symbol, scope string, candles []domain.Candle, now time.Time) (Levels, error) {
	window := WindowFor(scope)
	if window == 0 {
		return Levels{}, fmt.Errorf("unknown scope %q", scope)
	}
	if len(candles) == 0 {
		return Levels{}, fmt.Errorf("no candles for %s %s levels", symbol, scope)
	}
	if len(candles) > window {
		candles = candles[len(candles)-window:]
	}

	high, low := candles[0].High, candles[0].Low
	for _, c := range candles {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	closePrice := candles[len(candles)-1].Close

	p := (high + low + closePrice) / 3
	return Levels{
		Symbol:     symbol,
		Scope:      scope,
		Pivot:      p,
		R1:         2*p - low,
		S1:         2*p - high,
		R2:         p + (high - low),
		S2:         p - (high - low),
		R3:         high + 2*(p-low),
		S3:         low - 2*(high-p),
		WindowHigh: high,
		WindowLow:  low,
		WindowLast: closePrice,
		ComputedAt: now.UTC(),
	}, nil
}

// IsStale applies the per-scope refresh policy at IST boundaries: yearly
// levels live a week, weekly until the ISO week turns, monthly and daily
// until the IST date turns. The monthly window is wide but its source
// candle set shifts every session, so it refreshes daily like D.
func IsStale(levels Levels, now time.Time) bool {
	if levels.ComputedAt.IsZero() {
		return true
	}
	switch levels.Scope {
	case ScopeYearly:
		return now.Sub(levels.ComputedAt) > 7*24*time.Hour
	case ScopeWeekly:
		return !marketclock.SameISOWeek(levels.ComputedAt, now)
	default:
		return !marketclock.SameISTDate(levels.ComputedAt, now)
	}
}

// ScoreAtPrice maps a price to [10,95] by the level band it occupies:
// deep support scores high (bounce odds), deep resistance scores low.
func ScoreAtPrice(levels Levels, price float64) float64 {
	switch {
	case price <= levels.S3:
		return 95
	case price <= levels.S2:
		return 85
	case price <= levels.S1:
		return 72
	case price < levels.Pivot:
		return 58
	case price < levels.R1:
		return 45
	case price < levels.R2:
		return 30
	case price < levels.R3:
		return 18
	default:
		return 10
	}
}

// CandleFetcher supplies the daily history a scope window needs.
type CandleFetcher interface {
	GetHistorical(ctx context.Context, symbol string, from, to time.Time, interval string, useCache bool) ([]domain.Candle, error)
}

// Service caches computed levels in KV under sr:levels:{symbol}:{scope}.
type Service struct {
	provider CandleFetcher
	store    *kv.Store
	clock    marketclock.Clock
	log      zerolog.Logger
}

func NewService(provider CandleFetcher, store *kv.Store, clock marketclock.Clock, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		store:    store,
		clock:    clock,
		log:      log.With().Str("component", "srlevels").Logger(),
	}
}

// scopeTTL bounds KV entries; staleness checks are the real authority.
func scopeTTL(scope string) time.Duration {
	switch scope {
	case ScopeYearly:
		return 8 * 24 * time.Hour
	case ScopeMonthly:
		return 32 * 24 * time.Hour
	case ScopeWeekly:
		return 8 * 24 * time.Hour
	default:
		return 2 * 24 * time.Hour
	}
}

// Get returns fresh levels for (symbol, scope), recomputing past the IST
// boundary and writing back to KV.
func (s *Service) Get(ctx context.Context, symbol, scope string) (Levels, error) {
	now := s.clock.Now()
	key := kv.KeySRLevels(symbol, scope)

	var cached Levels
	if err := s.store.GetJSON(ctx, key, &cached); err == nil && !IsStale(cached, now) {
		return cached, nil
	}

	window := WindowFor(scope)
	if window == 0 {
		return Levels{}, fmt.Errorf("unknown scope %q", scope)
	}
	// Calendar span padded to cover weekends and holidays.
	from := now.AddDate(0, 0, -(window*7/5 + 10))
	candles, err := s.provider.GetHistorical(ctx, symbol, from, now, domain.Interval1d, true)
	if err != nil {
		// Serve stale levels over nothing when the provider is down.
		if !cached.ComputedAt.IsZero() {
			s.log.Warn().Err(err).Str("symbol", symbol).Str("scope", scope).Msg("serving stale levels")
			return cached, nil
		}
		return Levels{}, fmt.Errorf("error fetching candles for %s %s levels: %w", symbol, scope, err)
	}

	levels, err := Compute(symbol, scope, candles, now)
	if err != nil {
		return Levels{}, err
	}
	if err := s.store.SetJSON(ctx, key, levels, scopeTTL(scope)); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("levels cache write skipped")
	}
	return levels, nil
}
