package agents

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"arise-trading-engine/internal/domain"
)

// WatchlistIntelligenceAgent gives a small bump to symbols the user already
// tracks; familiarity correlates with follow-through on advisories.
type WatchlistIntelligenceAgent struct{}

func (WatchlistIntelligenceAgent) Name() string    { return "watchlist" }
func (WatchlistIntelligenceAgent) Weight() float64 { return 0.03 }

func (a WatchlistIntelligenceAgent) Analyze(_ context.Context, in Input) (Result, error) {
	score := 50.0
	var signals []Signal
	if in.Watchlist[in.Symbol] {
		score = 62
		signals = append(signals, Signal{Type: "WATCHLIST", Value: 1, Signal: "TRACKED"})
	}
	return Result{
		Score:      score,
		Confidence: domain.ConfidenceLow,
		Signals:    signals,
		Reasoning:  "watchlist membership",
	}, nil
}

// MicrostructureAgent reads the intraday tape: where price sits in the
// session range and whether prints cluster near highs or lows.
type MicrostructureAgent struct{}

func (MicrostructureAgent) Name() string    { return "microstructure" }
func (MicrostructureAgent) Weight() float64 { return 0.01 }

func (a MicrostructureAgent) Analyze(_ context.Context, in Input) (Result, error) {
	bars := in.Intraday
	if len(bars) < 5 {
		return Result{}, fmt.Errorf("need 5 intraday bars for %s, have %d", in.Symbol, len(bars))
	}

	sessionHigh, sessionLow := bars[0].High, bars[0].Low
	for _, b := range bars {
		if b.High > sessionHigh {
			sessionHigh = b.High
		}
		if b.Low < sessionLow {
			sessionLow = b.Low
		}
	}
	last := bars[len(bars)-1].Close
	score := 50.0
	position := 0.5
	if sessionHigh > sessionLow {
		position = (last - sessionLow) / (sessionHigh - sessionLow)
		score = 30 + position*40
	}
	return Result{
		Score:      clampScore(score),
		Confidence: domain.ConfidenceLow,
		Signals:    []Signal{{Type: "RANGE_POSITION", Value: position, Signal: rangeLabel(position)}},
		Reasoning:  fmt.Sprintf("price at %.0f%% of session range", position*100),
	}, nil
}

func rangeLabel(position float64) string {
	switch {
	case position >= 0.8:
		return "NEAR_HIGH"
	case position <= 0.2:
		return "NEAR_LOW"
	default:
		return "MID_RANGE"
	}
}

// RiskAgent penalizes symbols whose recent drawdowns or dispersion make
// position sizing unattractive regardless of direction.
type RiskAgent struct{}

func (RiskAgent) Name() string    { return "risk" }
func (RiskAgent) Weight() float64 { return 0.01 }

func (a RiskAgent) Analyze(_ context.Context, in Input) (Result, error) {
	candles := in.Daily
	if len(candles) < 20 {
		return Result{}, fmt.Errorf("need 20 daily candles for %s, have %d", in.Symbol, len(candles))
	}

	returns := make([]float64, 0, 20)
	for i := len(candles) - 19; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev > 0 {
			returns = append(returns, (candles[i].Close-prev)/prev*100)
		}
	}
	volStd := stat.StdDev(returns, nil)

	score := 50.0
	switch {
	case volStd > 3.5:
		score = 30
	case volStd > 2:
		score = 42
	case volStd < 1:
		score = 58
	}
	return Result{
		Score:      score,
		Confidence: domain.ConfidenceLow,
		Signals:    []Signal{{Type: "RETURN_STDDEV", Value: volStd, Signal: volatilityLabel(volStd)}},
		Reasoning:  fmt.Sprintf("20-bar return stddev %.2f", volStd),
		Metadata:   map[string]any{"return_stddev": volStd},
	}, nil
}

// Zero-weight slots keep their place in the declared order so policy files
// can weight them in later without a code change.

type TradeStrategyAgent struct{}

func (TradeStrategyAgent) Name() string    { return "tradestrategy" }
func (TradeStrategyAgent) Weight() float64 { return 0 }
func (TradeStrategyAgent) Analyze(_ context.Context, in Input) (Result, error) {
	return Result{Score: 50, Confidence: domain.ConfidenceLow, Reasoning: "strategy slot inactive"}, nil
}

type AutoMonitoringSlotAgent struct{}

func (AutoMonitoringSlotAgent) Name() string    { return "automonitoring" }
func (AutoMonitoringSlotAgent) Weight() float64 { return 0 }
func (AutoMonitoringSlotAgent) Analyze(_ context.Context, in Input) (Result, error) {
	return Result{Score: 50, Confidence: domain.ConfidenceLow, Reasoning: "monitoring slot inactive"}, nil
}

type PersonalizationAgent struct{}

func (PersonalizationAgent) Name() string    { return "personalization" }
func (PersonalizationAgent) Weight() float64 { return 0 }
func (PersonalizationAgent) Analyze(_ context.Context, in Input) (Result, error) {
	return Result{Score: 50, Confidence: domain.ConfidenceLow, Reasoning: "personalization slot inactive"}, nil
}

// DefaultEnsemble builds the registered agent set in declared order.
func DefaultEnsemble(sentiment SentimentProvider) []Agent {
	return []Agent{
		TechnicalAgent{},
		NewPatternAgent(),
		MarketRegimeAgent{},
		GlobalMarketAgent{},
		OptionsAgent{},
		SentimentAgent{Provider: sentiment},
		PolicyMacroAgent{},
		WatchlistIntelligenceAgent{},
		MicrostructureAgent{},
		RiskAgent{},
		TradeStrategyAgent{},
		AutoMonitoringSlotAgent{},
		PersonalizationAgent{},
	}
}
