package agents

import (
	"context"
	"fmt"
)

// SentimentAgent wraps the pluggable news provider. Without one it degrades
// to neutral rather than failing the blend.
type SentimentAgent struct {
	Provider SentimentProvider
}

func (SentimentAgent) Name() string    { return "sentiment" }
func (SentimentAgent) Weight() float64 { return 0.10 }

func (a SentimentAgent) Analyze(ctx context.Context, in Input) (Result, error) {
	if a.Provider == nil {
		return Result{}, fmt.Errorf("no sentiment provider configured")
	}
	res, err := a.Provider.AnalyzeNewsSentiment(ctx, in.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("sentiment analysis failed: %w", err)
	}
	res.Score = clampScore(res.Score)
	if res.Confidence == "" {
		res.Confidence = confidenceFromDistance(res.Score)
	}
	return res, nil
}

// NewsRiskScore extracts the risk score monitors use for NEWS_EXIT
// advisories: high when sentiment is strongly negative.
func NewsRiskScore(res Result) float64 {
	return clampScore(100 - res.Score)
}
