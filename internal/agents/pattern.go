package agents

import (
	"context"
	"fmt"
	"strings"

	"arise-trading-engine/internal/domain"
)

// PatternAgent scores recent candlestick patterns on the daily series.
// Bullish reversals lift the score, bearish ones cut it, and older bars
// count less than the latest one.
type PatternAgent struct {
	// Body must be under this fraction of range to count as a doji.
	DojiBodyRatio float64
	// Rejection wick must be at least this multiple of the body.
	WickRatio float64
}

func NewPatternAgent() PatternAgent {
	return PatternAgent{DojiBodyRatio: 0.1, WickRatio: 2.0}
}

func (PatternAgent) Name() string    { return "pattern" }
func (PatternAgent) Weight() float64 { return 0.18 }

type patternHit struct {
	name    string
	points  float64
	bullish bool
}

// lookback bars considered, newest weighted strongest.
const patternLookback = 5

func (a PatternAgent) Analyze(_ context.Context, in Input) (Result, error) {
	candles := in.Daily
	if len(candles) < 20 {
		return Result{}, fmt.Errorf("need 20 daily candles for %s, have %d", in.Symbol, len(candles))
	}

	score := 50.0
	signals := make([]Signal, 0, 4)
	var found []string

	for age := 0; age < patternLookback; age++ {
		idx := len(candles) - 1 - age
		if idx < 1 {
			break
		}
		decay := 1.0 - float64(age)*0.15
		for _, hit := range a.detect(candles[idx-1], candles[idx]) {
			direction := 1.0
			label := "BULLISH"
			if !hit.bullish {
				direction = -1
				label = "BEARISH"
			}
			score += direction * hit.points * decay
			signals = append(signals, Signal{Type: hit.name, Value: decay, Signal: label})
			found = append(found, fmt.Sprintf("%s(%s)", hit.name, strings.ToLower(label)))
		}
	}

	score = clampScore(score)
	reasoning := "no significant candlestick patterns in recent bars"
	if len(found) > 0 {
		reasoning = "patterns: " + strings.Join(found, ", ")
	}
	return Result{
		Score:      score,
		Confidence: confidenceFromDistance(score),
		Signals:    signals,
		Reasoning:  reasoning,
	}, nil
}

// detect evaluates single and two-bar patterns on the bar pair (prev, cur).
func (a PatternAgent) detect(prev, cur domain.Candle) []patternHit {
	var hits []patternHit

	body := abs(cur.Close - cur.Open)
	rng := cur.High - cur.Low
	if rng <= 0 {
		return nil
	}
	upperWick := cur.High - max(cur.Open, cur.Close)
	lowerWick := min(cur.Open, cur.Close) - cur.Low

	prevBody := abs(prev.Close - prev.Open)
	prevBearish := prev.Close < prev.Open
	prevBullish := prev.Close > prev.Open

	// Engulfing: current body fully covers the previous body, opposite color.
	if prevBody > 0 && body > prevBody {
		if prevBearish && cur.Close > cur.Open && cur.Open <= prev.Close && cur.Close >= prev.Open {
			hits = append(hits, patternHit{"BULLISH_ENGULFING", 12, true})
		}
		if prevBullish && cur.Close < cur.Open && cur.Open >= prev.Close && cur.Close <= prev.Open {
			hits = append(hits, patternHit{"BEARISH_ENGULFING", 12, false})
		}
	}

	// Hammer family: one long rejection wick against a small body.
	if body > 0 && body/rng < 0.35 {
		if lowerWick >= body*a.WickRatio && upperWick <= body {
			hits = append(hits, patternHit{"HAMMER", 10, true})
		}
		if upperWick >= body*a.WickRatio && lowerWick <= body {
			hits = append(hits, patternHit{"SHOOTING_STAR", 10, false})
		}
	}

	// Doji: indecision unless one wick dominates.
	if body/rng <= a.DojiBodyRatio {
		switch {
		case lowerWick >= rng*0.6:
			hits = append(hits, patternHit{"DRAGONFLY_DOJI", 8, true})
		case upperWick >= rng*0.6:
			hits = append(hits, patternHit{"GRAVESTONE_DOJI", 8, false})
		default:
			// Neutral doji softens conviction slightly toward 50 on the
			// dominant side; scored as a small counter to the prior bar.
			if prevBullish {
				hits = append(hits, patternHit{"DOJI", 3, false})
			} else if prevBearish {
				hits = append(hits, patternHit{"DOJI", 3, true})
			}
		}
	}

	return hits
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
