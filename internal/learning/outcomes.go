package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"arise-trading-engine/internal/database"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

// BenchmarkSymbol is the index used for relative-return context.
const BenchmarkSymbol = "NIFTY50"

// outcome label deadband on ret_close_pct, in percent.
const breakevenBandPct = 0.5

// PickStore is the slice of the repository the evaluator needs.
type PickStore interface {
	PicksWithoutOutcome(ctx context.Context, tradeDate, horizon string) ([]database.PickEvent, error)
	UpsertOutcome(ctx context.Context, o database.PickOutcome) error
}

// CandleFetcher fetches history for outcome computation.
type CandleFetcher interface {
	GetHistorical(ctx context.Context, symbol string, from, to time.Time, interval string, useCache bool) ([]domain.Candle, error)
}

// OutcomeEvaluator backfills PickOutcomes once a horizon has elapsed.
type OutcomeEvaluator struct {
	store    PickStore
	provider CandleFetcher
	log      zerolog.Logger
}

func NewOutcomeEvaluator(store PickStore, provider CandleFetcher, log zerolog.Logger) *OutcomeEvaluator {
	return &OutcomeEvaluator{
		store:    store,
		provider: provider,
		log:      log.With().Str("component", "outcome_evaluator").Logger(),
	}
}

// EvaluateDay computes EOD outcomes for every unevaluated pick on an IST
// trade date. Per-pick failures are logged and skipped; the day's pass
// never aborts on one bad symbol.
func (e *OutcomeEvaluator) EvaluateDay(ctx context.Context, tradeDate string) (int, error) {
	picks, err := e.store.PicksWithoutOutcome(ctx, tradeDate, database.HorizonEOD)
	if err != nil {
		return 0, fmt.Errorf("listing unevaluated picks for %s: %w", tradeDate, err)
	}
	if len(picks) == 0 {
		return 0, nil
	}

	dayStart, dayEnd, err := istDayBounds(tradeDate)
	if err != nil {
		return 0, err
	}

	benchmarkRet := e.benchmarkReturn(ctx, dayStart, dayEnd)

	evaluated := 0
	for _, pick := range picks {
		outcome, err := e.evaluatePick(ctx, pick, dayStart, dayEnd, benchmarkRet)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", pick.Symbol).Str("pick_uuid", pick.PickUUID).Msg("outcome evaluation skipped")
			continue
		}
		if err := e.store.UpsertOutcome(ctx, outcome); err != nil {
			e.log.Warn().Err(err).Str("pick_uuid", pick.PickUUID).Msg("outcome upsert failed")
			continue
		}
		evaluated++
	}

	e.log.Info().Str("trade_date", tradeDate).Int("evaluated", evaluated).Int("picks", len(picks)).Msg("outcome pass complete")
	return evaluated, nil
}

func istDayBounds(tradeDate string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", tradeDate, marketclock.IST)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad trade date %q: %w", tradeDate, err)
	}
	return day, day.AddDate(0, 0, 1), nil
}

// benchmarkReturn is best-effort; a nil return means no benchmark context.
func (e *OutcomeEvaluator) benchmarkReturn(ctx context.Context, dayStart, dayEnd time.Time) *float64 {
	candles, err := e.provider.GetHistorical(ctx, BenchmarkSymbol, dayStart, dayEnd, domain.Interval5m, true)
	if err != nil || len(candles) == 0 {
		e.log.Debug().Err(err).Msg("benchmark candles unavailable")
		return nil
	}
	candles = filterToISTDate(candles, dayStart)
	if len(candles) < 2 {
		return nil
	}
	first, last := candles[0].Close, candles[len(candles)-1].Close
	if first <= 0 {
		return nil
	}
	ret := (last - first) / first * 100
	return &ret
}

// filterToISTDate keeps candles whose IST calendar date matches dayStart.
func filterToISTDate(candles []domain.Candle, dayStart time.Time) []domain.Candle {
	want := marketclock.TradeDate(dayStart)
	out := candles[:0:0]
	for _, c := range candles {
		if marketclock.TradeDate(c.Timestamp) == want {
			out = append(out, c)
		}
	}
	return out
}

func (e *OutcomeEvaluator) evaluatePick(ctx context.Context, pick database.PickEvent, dayStart, dayEnd time.Time, benchmarkRet *float64) (database.PickOutcome, error) {
	candles, err := e.provider.GetHistorical(ctx, pick.Symbol, dayStart, dayEnd, domain.Interval5m, true)
	if err != nil {
		return database.PickOutcome{}, fmt.Errorf("fetching candles: %w", err)
	}
	candles = filterToISTDate(candles, dayStart)
	if len(candles) == 0 {
		return database.PickOutcome{}, fmt.Errorf("no candles for %s on %s", pick.Symbol, pick.TradeDate)
	}

	return BuildOutcome(pick, candles, database.HorizonEOD, dayEnd, benchmarkRet), nil
}

// BuildOutcome computes the outcome record from a pick and its day candles.
// Returns, runup, and drawdown are signed by direction so SHORT picks score
// symmetrically.
func BuildOutcome(pick database.PickEvent, candles []domain.Candle, horizon string, horizonEnd time.Time, benchmarkRet *float64) database.PickOutcome {
	sign := pick.Direction.Sign()
	entry := pick.SignalPrice

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

	retClose := 0.0
	maxRunup := 0.0
	maxDrawdown := 0.0
	if entry > 0 {
		retClose = sign * (closePrice - entry) / entry * 100
		if pick.Direction == domain.Short {
			maxRunup = (entry - low) / entry * 100
			maxDrawdown = (entry - high) / entry * 100
		} else {
			maxRunup = (high - entry) / entry * 100
			maxDrawdown = (low - entry) / entry * 100
		}
	}

	hitTarget := false
	if pick.RecommendedTarget != nil {
		if pick.Direction == domain.Short {
			hitTarget = low <= *pick.RecommendedTarget
		} else {
			hitTarget = high >= *pick.RecommendedTarget
		}
	}
	hitStop := false
	if pick.RecommendedStop != nil {
		if pick.Direction == domain.Short {
			hitStop = high >= *pick.RecommendedStop
		} else {
			hitStop = low <= *pick.RecommendedStop
		}
	}

	label := database.OutcomeBreakeven
	switch {
	case retClose > breakevenBandPct:
		label = database.OutcomeWin
	case retClose < -breakevenBandPct:
		label = database.OutcomeLoss
	}

	notes := map[string]any{}
	if maxRunup > 0 {
		notes["capture_ratio"] = clip(retClose/maxRunup, 0, 1)
	}

	outcome := database.PickOutcome{
		PickUUID:          pick.PickUUID,
		EvaluationHorizon: horizon,
		HorizonEndTS:      horizonEnd.UTC(),
		PriceClose:        closePrice,
		PriceHigh:         high,
		PriceLow:          low,
		RetClosePct:       retClose,
		MaxRunupPct:       maxRunup,
		MaxDrawdownPct:    maxDrawdown,
		HitTarget:         hitTarget,
		HitStop:           hitStop,
		OutcomeLabel:      label,
		Notes:             notes,
	}
	if benchmarkRet != nil {
		outcome.BenchmarkSymbol = BenchmarkSymbol
		outcome.BenchmarkRetPct = benchmarkRet
	}
	return outcome
}
