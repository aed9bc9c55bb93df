package monitor

import (
	"fmt"
	"time"

	"github.com/markcheno/go-talib"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/srlevels"
)

// Strategy identifiers stamped on advisories.
const (
	StrategyS1Momentum = "S1_MOMENTUM"
	StrategyS2EMAStack = "S2_EMA_STACK"
	StrategyS3RRLadder = "S3_RR_LADDER"
	StrategySRExit     = "SR_EXIT"
	StrategyNewsExit   = "NEWS_EXIT"
)

// Evaluator tuning.
const (
	s1StretchRetPct    = 2.0
	s1RSIOverbought    = 75.0
	s1RSIOversold      = 25.0
	s2VolumeFadeRatio  = 0.6
	s3PartialProfitRR  = 1.5
	s3InvalidationRR   = -1.0
	newsExitScore      = 75.0
	newsWarnFloorScore = 50.0
)

func baseAdvisory(p LogicalPosition, strategyID, kind, severity string, at time.Time) domain.Advisory {
	return domain.Advisory{
		StrategyID:  strategyID,
		Kind:        kind,
		Severity:    severity,
		Enforcement: domain.EnforcementAdvisoryOnly,
		IsExit:      true,
		Symbol:      p.Symbol,
		Direction:   p.Direction,
		Price:       p.CurrentPrice,
		EntryPrice:  p.EntryPrice,
		InitialSL:   p.StopLoss,
		Mode:        p.Mode,
		GeneratedAt: at.UTC(),
	}
}

// riskRewardMultiple is the open return expressed in initial-risk units.
func riskRewardMultiple(p LogicalPosition) (float64, bool) {
	if p.EntryPrice <= 0 || p.StopLoss <= 0 {
		return 0, false
	}
	riskPct := absFloat(p.EntryPrice-p.StopLoss) / p.EntryPrice * 100
	if riskPct <= 0 {
		return 0, false
	}
	return p.ReturnPct() / riskPct, true
}

// EvaluateS1 is the momentum-stretch evaluator: a stretched winner with an
// extreme RSI suggests banking part of the position; a close through the
// initial stop invalidates the setup outright.
func EvaluateS1(p LogicalPosition, rsi float64, at time.Time) (domain.Advisory, bool) {
	ret := p.ReturnPct()

	if p.StopLoss > 0 {
		breached := p.Direction == domain.Long && p.CurrentPrice < p.StopLoss ||
			p.Direction == domain.Short && p.CurrentPrice > p.StopLoss
		if breached {
			adv := baseAdvisory(p, StrategyS1Momentum, domain.KindContextInvalidated, domain.SeverityHigh, at)
			adv.Message = fmt.Sprintf("price %.2f through initial stop %.2f", p.CurrentPrice, p.StopLoss)
			adv.RecommendedActions = []string{"exit position"}
			adv.RecommendedExitPrice = p.CurrentPrice
			adv.Indicators = map[string]float64{"ret_pct": ret, "rsi": rsi}
			return adv, true
		}
	}

	stretched := ret >= s1StretchRetPct &&
		(p.Direction == domain.Long && rsi >= s1RSIOverbought ||
			p.Direction == domain.Short && rsi <= s1RSIOversold)
	if !stretched {
		return domain.Advisory{}, false
	}

	adv := baseAdvisory(p, StrategyS1Momentum, domain.KindPriceStretched, domain.SeverityWarning, at)
	adv.IsExit = false
	adv.Message = fmt.Sprintf("up %.2f%% with RSI %.1f, momentum stretched", ret, rsi)
	adv.RecommendedActions = []string{"book partial profit", "tighten stop"}
	adv.RecommendedExitPrice = p.CurrentPrice
	adv.Indicators = map[string]float64{"ret_pct": ret, "rsi": rsi}
	return adv, true
}

// EvaluateS2 is the EMA-stack evaluator. The fast/slow stack flipping
// against the position signals trend weakening; shrinking volume while in
// profit signals the move is fading. Both checks live here and only here.
func EvaluateS2(p LogicalPosition, candles []domain.Candle, at time.Time) (domain.Advisory, bool) {
	if len(candles) < 22 {
		return domain.Advisory{}, false
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	efNow := talib.Ema(closes, 9)[len(closes)-1]
	esNow := talib.Ema(closes, 21)[len(closes)-1]
	upStack := efNow > esNow

	stackAgainst := p.Direction == domain.Long && !upStack ||
		p.Direction == domain.Short && upStack
	if stackAgainst {
		adv := baseAdvisory(p, StrategyS2EMAStack, domain.KindTrendWeakening, domain.SeverityWarning, at)
		adv.Message = fmt.Sprintf("ema stack flipped against %s (ema9 %.2f vs ema21 %.2f)", p.Direction, efNow, esNow)
		adv.RecommendedActions = []string{"tighten stop", "review position"}
		adv.RecommendedExitPrice = p.CurrentPrice
		adv.Indicators = map[string]float64{"ema_fast": efNow, "ema_slow": esNow}
		return adv, true
	}

	if p.ReturnPct() > 0 {
		window := volumes[len(volumes)-11 : len(volumes)-1]
		avg := 0.0
		for _, v := range window {
			avg += v
		}
		avg /= float64(len(window))
		last := volumes[len(volumes)-1]
		if avg > 0 && last < s2VolumeFadeRatio*avg {
			adv := baseAdvisory(p, StrategyS2EMAStack, domain.KindVolumeFade, domain.SeverityInfo, at)
			adv.IsExit = false
			adv.Message = fmt.Sprintf("volume %.0f under %.0f%% of recent average while in profit", last, s2VolumeFadeRatio*100)
			adv.RecommendedActions = []string{"book partial profit"}
			adv.RecommendedExitPrice = p.CurrentPrice
			adv.Indicators = map[string]float64{"volume": last, "volume_avg": avg}
			return adv, true
		}
	}
	return domain.Advisory{}, false
}

// EvaluateS3 is the risk-reward ladder: past 1.5R suggest scaling out; a
// full -1R excursion invalidates the trade.
func EvaluateS3(p LogicalPosition, at time.Time) (domain.Advisory, bool) {
	rr, ok := riskRewardMultiple(p)
	if !ok {
		return domain.Advisory{}, false
	}

	switch {
	case rr <= s3InvalidationRR:
		adv := baseAdvisory(p, StrategyS3RRLadder, domain.KindContextInvalidated, domain.SeverityCritical, at)
		adv.RRMultiple = rr
		adv.Message = fmt.Sprintf("trade at %.2fR, full initial risk consumed", rr)
		adv.RecommendedActions = []string{"exit position"}
		adv.RecommendedExitPrice = p.CurrentPrice
		return adv, true
	case rr >= s3PartialProfitRR:
		adv := baseAdvisory(p, StrategyS3RRLadder, domain.KindPartialProfit, domain.SeverityInfo, at)
		adv.IsExit = false
		adv.RRMultiple = rr
		adv.Message = fmt.Sprintf("trade at %.2fR, ladder level reached", rr)
		adv.RecommendedActions = []string{"book partial profit", "trail remainder"}
		adv.RecommendedExitPrice = p.CurrentPrice
		return adv, true
	}
	return domain.Advisory{}, false
}

// EvaluateSR flags price pressed against a pivot level working against the
// position: resistance bands for longs, support bands for shorts.
func EvaluateSR(p LogicalPosition, levels srlevels.Levels, at time.Time) (domain.Advisory, bool) {
	if p.CurrentPrice <= 0 {
		return domain.Advisory{}, false
	}
	score := srlevels.ScoreAtPrice(levels, p.CurrentPrice)

	// Deep support scores high and deep resistance low, so longs are
	// pressed at the low end and shorts at the high end.
	against := p.Direction == domain.Long && score <= 18 ||
		p.Direction == domain.Short && score >= 85
	if !against {
		return domain.Advisory{}, false
	}

	adv := baseAdvisory(p, StrategySRExit, domain.KindPartialProfit, domain.SeverityWarning, at)
	adv.IsExit = false
	adv.SRReason = fmt.Sprintf("price %.2f in %s pivot band (score %.0f)", p.CurrentPrice, levels.Scope, score)
	adv.Message = adv.SRReason
	adv.RecommendedActions = []string{"book partial profit near pivot"}
	adv.RecommendedExitPrice = p.CurrentPrice
	adv.Indicators = map[string]float64{"sr_score": score, "pivot": levels.Pivot}
	return adv, true
}

// EvaluateNews maps a news risk score to an advisory: high risk is an
// exit-driving invalidation, moderate risk a partial-profit warning.
func EvaluateNews(p LogicalPosition, newsRiskScore float64, reason string, at time.Time) (domain.Advisory, bool) {
	if newsRiskScore < newsWarnFloorScore {
		return domain.Advisory{}, false
	}

	if newsRiskScore >= newsExitScore {
		severity := domain.SeverityHigh
		if newsRiskScore >= 90 {
			severity = domain.SeverityCritical
		}
		adv := baseAdvisory(p, StrategyNewsExit, domain.KindContextInvalidated, severity, at)
		adv.NewsReason = reason
		adv.Message = fmt.Sprintf("news risk %.0f, adverse coverage", newsRiskScore)
		adv.RecommendedActions = []string{"exit position"}
		adv.RecommendedExitPrice = p.CurrentPrice
		adv.Indicators = map[string]float64{"news_risk_score": newsRiskScore}
		return adv, true
	}

	adv := baseAdvisory(p, StrategyNewsExit, domain.KindPartialProfit, domain.SeverityWarning, at)
	adv.IsExit = false
	adv.NewsReason = reason
	adv.Message = fmt.Sprintf("news risk %.0f, consider reducing exposure", newsRiskScore)
	adv.RecommendedActions = []string{"book partial profit"}
	adv.RecommendedExitPrice = p.CurrentPrice
	adv.Indicators = map[string]float64{"news_risk_score": newsRiskScore}
	return adv, true
}
