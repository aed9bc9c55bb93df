package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/config"
)

func TestSentimentClientDisabledIsNil(t *testing.T) {
	assert.Nil(t, NewSentimentClient(config.SentimentConfig{Enabled: false}, zerolog.Nop()))
	assert.Nil(t, NewSentimentClient(config.SentimentConfig{Enabled: true}, zerolog.Nop()))
}

func TestSentimentClientParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sentiment/RELIANCE", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"RELIANCE","score":22,"confidence":"HIGH","summary":"regulatory probe announced","headlines":["probe into unit"]}`))
	}))
	defer srv.Close()

	c := NewSentimentClient(config.SentimentConfig{Enabled: true, BaseURL: srv.URL}, zerolog.Nop())
	require.NotNil(t, c)

	res, err := c.AnalyzeNewsSentiment(context.Background(), "RELIANCE")
	require.NoError(t, err)
	assert.Equal(t, "sentiment", res.AgentType)
	assert.Equal(t, 22.0, res.Score)
	assert.Equal(t, "regulatory probe announced", res.Reasoning)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, "headline", res.Signals[0].Type)
}

func TestSentimentClientSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewSentimentClient(config.SentimentConfig{Enabled: true, BaseURL: srv.URL}, zerolog.Nop())
	_, err := c.AnalyzeNewsSentiment(context.Background(), "TCS")
	assert.Error(t, err)
}
