package agents

import (
	"context"
	"fmt"
)

// GlobalMarketAgent scores broad market tailwind from the tracked indices.
// A stock rarely fights the index for long; the agent leans the whole
// universe toward the session's index tone.
type GlobalMarketAgent struct{}

func (GlobalMarketAgent) Name() string    { return "global" }
func (GlobalMarketAgent) Weight() float64 { return 0.12 }

func (a GlobalMarketAgent) Analyze(_ context.Context, in Input) (Result, error) {
	if len(in.Indices) == 0 {
		return Result{}, fmt.Errorf("no index quotes available")
	}

	score := 50.0
	signals := make([]Signal, 0, len(in.Indices))
	for _, name := range []string{"NIFTY50", "BANKNIFTY", "SENSEX"} {
		q, ok := in.Indices[name]
		if !ok {
			continue
		}
		weight := 6.0
		if name == "NIFTY50" {
			weight = 10.0
		}
		chg := q.ChangePercent
		if chg > 2 {
			chg = 2
		}
		if chg < -2 {
			chg = -2
		}
		score += chg / 2 * weight
		signals = append(signals, Signal{Type: "INDEX_" + name, Value: q.ChangePercent, Signal: toneLabel(q.ChangePercent)})
	}

	score = clampScore(score)
	return Result{
		Score:      score,
		Confidence: confidenceFromDistance(score),
		Signals:    signals,
		Reasoning:  fmt.Sprintf("index tone from %d indices", len(signals)),
	}, nil
}

func toneLabel(changePct float64) string {
	switch {
	case changePct >= 0.5:
		return "RISK_ON"
	case changePct <= -0.5:
		return "RISK_OFF"
	default:
		return "FLAT"
	}
}
