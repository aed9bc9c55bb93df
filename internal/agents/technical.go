package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"arise-trading-engine/internal/domain"
)

// TechnicalAgent scores momentum and trend from daily candles using RSI,
// EMA crossover, parabolic SAR and ATR-relative positioning.
type TechnicalAgent struct{}

func (TechnicalAgent) Name() string    { return "technical" }
func (TechnicalAgent) Weight() float64 { return 0.20 }

func (a TechnicalAgent) Analyze(_ context.Context, in Input) (Result, error) {
	candles := in.Daily
	if len(candles) < 30 {
		return Result{}, fmt.Errorf("need 30 daily candles for %s, have %d", in.Symbol, len(candles))
	}

	closes := closesOf(candles)
	highs := highsOf(candles)
	lows := lowsOf(candles)
	price := closes[len(closes)-1]
	if in.Quote.Price > 0 {
		price = in.Quote.Price
	}

	score := 50.0
	signals := make([]Signal, 0, 4)

	rsiSeries := talib.Rsi(closes, 14)
	rsi := lastValid(rsiSeries)
	if !math.IsNaN(rsi) {
		switch {
		case rsi < 30:
			score += 15
			signals = append(signals, Signal{Type: "RSI", Value: rsi, Signal: "OVERSOLD"})
		case rsi > 70:
			score -= 15
			signals = append(signals, Signal{Type: "RSI", Value: rsi, Signal: "OVERBOUGHT"})
		case rsi > 50:
			score += 5
			signals = append(signals, Signal{Type: "RSI", Value: rsi, Signal: "BULLISH"})
		default:
			score -= 5
			signals = append(signals, Signal{Type: "RSI", Value: rsi, Signal: "BEARISH"})
		}
	}

	emaFast := lastValid(talib.Ema(closes, 9))
	emaSlow := lastValid(talib.Ema(closes, 21))
	if !math.IsNaN(emaFast) && !math.IsNaN(emaSlow) {
		if emaFast > emaSlow {
			score += 12
			signals = append(signals, Signal{Type: "EMA_CROSS", Value: emaFast - emaSlow, Signal: "BULLISH"})
		} else {
			score -= 12
			signals = append(signals, Signal{Type: "EMA_CROSS", Value: emaFast - emaSlow, Signal: "BEARISH"})
		}
	}

	sar := lastValid(talib.Sar(highs, lows, 0.02, 0.2))
	if !math.IsNaN(sar) && sar > 0 {
		if price > sar {
			score += 8
			signals = append(signals, Signal{Type: "SAR", Value: sar, Signal: "UPTREND"})
		} else {
			score -= 8
			signals = append(signals, Signal{Type: "SAR", Value: sar, Signal: "DOWNTREND"})
		}
	}

	atr := lastValid(talib.Atr(highs, lows, closes, 14))
	atrPct := 0.0
	if !math.IsNaN(atr) && price > 0 {
		atrPct = atr / price * 100
		signals = append(signals, Signal{Type: "ATR_PCT", Value: atrPct, Signal: volatilityLabel(atrPct)})
	}

	score = clampScore(score)
	return Result{
		Score:      score,
		Confidence: confidenceFromDistance(score),
		Signals:    signals,
		Reasoning:  fmt.Sprintf("RSI %.1f, EMA9/21 %s, price vs SAR %s", rsi, crossLabel(emaFast, emaSlow), trendLabel(price, sar)),
		Metadata: map[string]any{
			"rsi":     rsi,
			"atr_pct": atrPct,
		},
	}, nil
}

// ATRPercent computes ATR as a percent of last close, used by the engine
// for scalping exit sizing. Returns false with thin history.
func ATRPercent(candles []domain.Candle, period int) (float64, bool) {
	if len(candles) < period+1 {
		return 0, false
	}
	atr := lastValid(talib.Atr(highsOf(candles), lowsOf(candles), closesOf(candles), period))
	last := candles[len(candles)-1].Close
	if math.IsNaN(atr) || last <= 0 {
		return 0, false
	}
	return atr / last * 100, true
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && series[i] != 0 {
			return series[i]
		}
	}
	return math.NaN()
}

func volatilityLabel(atrPct float64) string {
	switch {
	case atrPct >= 3:
		return "HIGH"
	case atrPct >= 1.5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func crossLabel(fast, slow float64) string {
	if math.IsNaN(fast) || math.IsNaN(slow) {
		return "unknown"
	}
	if fast > slow {
		return "bullish"
	}
	return "bearish"
}

func trendLabel(price, sar float64) string {
	if math.IsNaN(sar) {
		return "unknown"
	}
	if price > sar {
		return "above"
	}
	return "below"
}
