package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/srlevels"
)

var advisoryAt = time.Date(2026, 8, 18, 5, 30, 0, 0, time.UTC) // 11:00 IST

func trendCandles(start, step float64, n int) []domain.Candle {
	out := make([]domain.Candle, n)
	ts := advisoryAt.Add(-time.Duration(n) * 5 * time.Minute)
	for i := range out {
		px := start + step*float64(i)
		out[i] = domain.Candle{
			Timestamp: ts.Add(time.Duration(i) * 5 * time.Minute),
			Open:      px, High: px + 0.2, Low: px - 0.2, Close: px,
			Volume: 1000,
		}
	}
	return out
}

func TestS1StopBreachInvalidatesContext(t *testing.T) {
	p := healthyLong()
	p.CurrentPrice = 89

	adv, ok := EvaluateS1(p, 50, advisoryAt)
	require.True(t, ok)
	assert.Equal(t, StrategyS1Momentum, adv.StrategyID)
	assert.Equal(t, domain.KindContextInvalidated, adv.Kind)
	assert.Equal(t, domain.SeverityHigh, adv.Severity)
	assert.True(t, adv.IsExit)
	assert.Equal(t, domain.EnforcementAdvisoryOnly, adv.Enforcement)
	assert.Equal(t, 89.0, adv.RecommendedExitPrice)
}

func TestS1StretchedWinnerNeedsExtremeRSI(t *testing.T) {
	p := healthyLong()
	p.CurrentPrice = 103 // +3%

	_, ok := EvaluateS1(p, 60, advisoryAt)
	assert.False(t, ok)

	adv, ok := EvaluateS1(p, 80, advisoryAt)
	require.True(t, ok)
	assert.Equal(t, domain.KindPriceStretched, adv.Kind)
	assert.Equal(t, domain.SeverityWarning, adv.Severity)
	assert.False(t, adv.IsExit)
}

func TestS1ShortUsesOversoldRSI(t *testing.T) {
	p := healthyLong()
	p.Direction = domain.Short
	p.StopLoss = 110
	p.CurrentPrice = 97 // +3% for a short

	adv, ok := EvaluateS1(p, 20, advisoryAt)
	require.True(t, ok)
	assert.Equal(t, domain.KindPriceStretched, adv.Kind)
}

func TestS2StackFlipAgainstLong(t *testing.T) {
	p := healthyLong()
	candles := trendCandles(110, -0.5, 30) // steady decline, ema9 < ema21

	adv, ok := EvaluateS2(p, candles, advisoryAt)
	require.True(t, ok)
	assert.Equal(t, StrategyS2EMAStack, adv.StrategyID)
	assert.Equal(t, domain.KindTrendWeakening, adv.Kind)
	assert.True(t, adv.Indicators["ema_fast"] < adv.Indicators["ema_slow"])
}

func TestS2VolumeFadeWhileInProfit(t *testing.T) {
	p := healthyLong()
	p.CurrentPrice = 102
	candles := trendCandles(95, 0.3, 30) // uptrend keeps the stack aligned
	candles[len(candles)-1].Volume = 400 // under 60% of the 1000 average

	adv, ok := EvaluateS2(p, candles, advisoryAt)
	require.True(t, ok)
	assert.Equal(t, domain.KindVolumeFade, adv.Kind)
	assert.Equal(t, domain.SeverityInfo, adv.Severity)
	assert.False(t, adv.IsExit)
}

func TestS2NeedsEnoughHistory(t *testing.T) {
	p := healthyLong()
	_, ok := EvaluateS2(p, trendCandles(100, -1, 21), advisoryAt)
	assert.False(t, ok)
}

func TestS3LadderLevels(t *testing.T) {
	p := healthyLong()
	p.StopLoss = 98 // 2% initial risk

	p.CurrentPrice = 103.2 // +3.2% = 1.6R
	adv, ok := EvaluateS3(p, advisoryAt)
	require.True(t, ok)
	assert.Equal(t, domain.KindPartialProfit, adv.Kind)
	assert.InDelta(t, 1.6, adv.RRMultiple, 1e-9)

	p.CurrentPrice = 97.8 // -2.2% = -1.1R
	adv, ok = EvaluateS3(p, advisoryAt)
	require.True(t, ok)
	assert.Equal(t, domain.KindContextInvalidated, adv.Kind)
	assert.Equal(t, domain.SeverityCritical, adv.Severity)

	p.CurrentPrice = 101 // 0.5R, quiet zone
	_, ok = EvaluateS3(p, advisoryAt)
	assert.False(t, ok)
}

func TestS3NeedsDefinedRisk(t *testing.T) {
	p := healthyLong()
	p.StopLoss = 0
	_, ok := EvaluateS3(p, advisoryAt)
	assert.False(t, ok)
}

func srBand() srlevels.Levels {
	return srlevels.Levels{
		Symbol: "RELIANCE", Scope: srlevels.ScopeDaily,
		S3: 90, S2: 92, S1: 95, Pivot: 100, R1: 105, R2: 108, R3: 110,
	}
}

func TestSRFlagsLongPressedAtResistance(t *testing.T) {
	p := healthyLong()
	p.CurrentPrice = 109 // between R2 and R3, score 18

	adv, ok := EvaluateSR(p, srBand(), advisoryAt)
	require.True(t, ok)
	assert.Equal(t, StrategySRExit, adv.StrategyID)
	assert.Equal(t, domain.KindPartialProfit, adv.Kind)
	assert.NotEmpty(t, adv.SRReason)

	p.CurrentPrice = 101 // mid band, quiet
	_, ok = EvaluateSR(p, srBand(), advisoryAt)
	assert.False(t, ok)
}

func TestSRFlagsShortPressedAtSupport(t *testing.T) {
	p := healthyLong()
	p.Direction = domain.Short
	p.CurrentPrice = 91 // below S2, score 85

	adv, ok := EvaluateSR(p, srBand(), advisoryAt)
	require.True(t, ok)
	assert.Equal(t, 85.0, adv.Indicators["sr_score"])
}

func TestNewsRiskTiers(t *testing.T) {
	p := healthyLong()

	_, ok := EvaluateNews(p, 30, "quiet", advisoryAt)
	assert.False(t, ok)

	adv, ok := EvaluateNews(p, 60, "downgrade chatter", advisoryAt)
	require.True(t, ok)
	assert.Equal(t, domain.KindPartialProfit, adv.Kind)
	assert.Equal(t, domain.SeverityWarning, adv.Severity)
	assert.False(t, adv.IsExit)

	adv, ok = EvaluateNews(p, 80, "fraud probe", advisoryAt)
	require.True(t, ok)
	assert.Equal(t, domain.KindContextInvalidated, adv.Kind)
	assert.Equal(t, domain.SeverityHigh, adv.Severity)
	assert.True(t, adv.IsExit)
	assert.Equal(t, "fraud probe", adv.NewsReason)

	adv, ok = EvaluateNews(p, 95, "regulator action", advisoryAt)
	require.True(t, ok)
	assert.Equal(t, domain.SeverityCritical, adv.Severity)
}
