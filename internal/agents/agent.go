// Package agents implements the analysis ensemble: independent per-symbol
// agents whose scores the coordinator blends into a single actionable view.
package agents

import (
	"context"
	"time"

	"arise-trading-engine/internal/domain"
)

// Signal is one discrete observation an agent contributes.
type Signal struct {
	Type   string  `json:"type"`
	Value  float64 `json:"value"`
	Signal string  `json:"signal"`
}

// Result is the normalized output of one agent for one symbol.
type Result struct {
	AgentType  string         `json:"agent_type"`
	Symbol     string         `json:"symbol"`
	Score      float64        `json:"score"`
	Confidence string         `json:"confidence"`
	Signals    []Signal       `json:"signals"`
	Reasoning  string         `json:"reasoning"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Input carries everything an agent may need for one symbol. Candle history
// and index context are fetched once per run and shared across agents.
type Input struct {
	Symbol    string
	Mode      domain.Mode
	Quote     domain.Quote
	Daily     []domain.Candle
	Intraday  []domain.Candle
	Indices   map[string]domain.Quote
	Watchlist map[string]bool
	AsOf      time.Time
}

// Agent analyzes one symbol. Implementations must be safe for concurrent
// calls across symbols.
type Agent interface {
	Name() string
	Weight() float64
	Analyze(ctx context.Context, in Input) (Result, error)
}

// SentimentProvider is the pluggable news-analysis boundary.
type SentimentProvider interface {
	AnalyzeNewsSentiment(ctx context.Context, symbol string) (Result, error)
}

// closesOf extracts the close series from candles, oldest first.
func closesOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highsOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func lowsOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func volumesOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// clampScore bounds a score to [0,100].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// confidenceFromDistance labels conviction by how far a score sits from the
// neutral 50 line.
func confidenceFromDistance(score float64) string {
	dist := score - 50
	if dist < 0 {
		dist = -dist
	}
	switch {
	case dist >= 25:
		return domain.ConfidenceHigh
	case dist >= 10:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
