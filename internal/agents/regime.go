package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// Regime labels surfaced in pick metadata and bandit context.
const (
	RegimeTrendingUp   = "TRENDING_UP"
	RegimeTrendingDown = "TRENDING_DOWN"
	RegimeRangeBound   = "RANGE_BOUND"
	RegimeVolatile     = "VOLATILE"
)

// MarketRegimeAgent classifies the symbol's regime from ADX, EMA slope and
// return dispersion, and scores alignment between regime and momentum.
type MarketRegimeAgent struct{}

func (MarketRegimeAgent) Name() string    { return "regime" }
func (MarketRegimeAgent) Weight() float64 { return 0.15 }

func (a MarketRegimeAgent) Analyze(_ context.Context, in Input) (Result, error) {
	candles := in.Daily
	if len(candles) < 30 {
		return Result{}, fmt.Errorf("need 30 daily candles for %s, have %d", in.Symbol, len(candles))
	}

	closes := closesOf(candles)
	highs := highsOf(candles)
	lows := lowsOf(candles)

	adx := lastValid(talib.Adx(highs, lows, closes, 14))
	emaSlow := talib.Ema(closes, 21)
	slope := 0.0
	if n := len(emaSlow); n >= 6 && !math.IsNaN(emaSlow[n-1]) && !math.IsNaN(emaSlow[n-6]) && emaSlow[n-6] != 0 {
		slope = (emaSlow[n-1] - emaSlow[n-6]) / emaSlow[n-6] * 100
	}

	// Dispersion of daily returns over the last 20 bars.
	returns := make([]float64, 0, 20)
	start := len(closes) - 21
	if start < 1 {
		start = 1
	}
	for i := start; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1]*100)
		}
	}
	volStd := stat.StdDev(returns, nil)

	regime := RegimeRangeBound
	switch {
	case volStd > 2.5:
		regime = RegimeVolatile
	case !math.IsNaN(adx) && adx > 25 && slope > 0:
		regime = RegimeTrendingUp
	case !math.IsNaN(adx) && adx > 25 && slope < 0:
		regime = RegimeTrendingDown
	}

	score := 50.0
	switch regime {
	case RegimeTrendingUp:
		score += 15 + min(slope*2, 10)
	case RegimeTrendingDown:
		score -= 15 + min(-slope*2, 10)
	case RegimeVolatile:
		// Volatile regimes are tradable both ways; lean on short-term momentum.
		if slope > 0 {
			score += 5
		} else {
			score -= 5
		}
	}

	score = clampScore(score)
	return Result{
		Score:      score,
		Confidence: confidenceFromDistance(score),
		Signals: []Signal{
			{Type: "ADX", Value: nanToZero(adx), Signal: regime},
			{Type: "EMA21_SLOPE", Value: slope, Signal: regime},
		},
		Reasoning: fmt.Sprintf("regime %s (ADX %.1f, 5-bar EMA21 slope %.2f%%, ret stddev %.2f)", regime, nanToZero(adx), slope, volStd),
		Metadata: map[string]any{
			"regime":         regime,
			"adx":            nanToZero(adx),
			"return_stddev":  volStd,
			"ema21_slope_5d": slope,
		},
	}, nil
}

func nanToZero(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return f
}
