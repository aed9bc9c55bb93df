package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/agents"
)

// SentimentClient calls the external news-analysis service. The contract is
// one GET per symbol returning a 0-100 bullishness score with headlines.
type SentimentClient struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewSentimentClient returns nil when the service is not configured, which
// the ensemble treats as no sentiment coverage.
func NewSentimentClient(cfg config.SentimentConfig, log zerolog.Logger) *SentimentClient {
	if !cfg.Enabled || cfg.BaseURL == "" {
		return nil
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(8 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(time.Second)

	return &SentimentClient{
		http: httpClient,
		log:  log.With().Str("component", "sentiment").Logger(),
	}
}

type sentimentResponse struct {
	Symbol     string   `json:"symbol"`
	Score      float64  `json:"score"`
	Confidence string   `json:"confidence"`
	Summary    string   `json:"summary"`
	Headlines  []string `json:"headlines"`
}

// AnalyzeNewsSentiment fetches the current news score for one symbol.
func (c *SentimentClient) AnalyzeNewsSentiment(ctx context.Context, symbol string) (agents.Result, error) {
	var body sentimentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/v1/sentiment/" + url.PathEscape(symbol))
	if err != nil {
		return agents.Result{}, fmt.Errorf("sentiment request failed: %w", err)
	}
	if resp.IsError() {
		return agents.Result{}, fmt.Errorf("sentiment error for %s: status %d", symbol, resp.StatusCode())
	}

	result := agents.Result{
		AgentType:  "sentiment",
		Symbol:     symbol,
		Score:      body.Score,
		Confidence: body.Confidence,
		Reasoning:  body.Summary,
	}
	for _, h := range body.Headlines {
		result.Signals = append(result.Signals, agents.Signal{Type: "headline", Signal: h})
	}
	return result, nil
}
