package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/marketclock"
)

func TestIsAuthError(t *testing.T) {
	assert.False(t, IsAuthError(nil))
	assert.False(t, IsAuthError(errors.New("connection refused")))
	assert.True(t, IsAuthError(errors.New("Incorrect `api_key` or `access_token`")))
	assert.True(t, IsAuthError(errors.New("kite quote error (TokenException): invalid access_token")))
}

func TestChartTicker(t *testing.T) {
	assert.Equal(t, "RELIANCE.NS", chartTicker("RELIANCE"))
	assert.Equal(t, "^NSEI", chartTicker("NIFTY50"))
	assert.Equal(t, "^NSEBANK", chartTicker("BANKNIFTY"))
	assert.Equal(t, "^BSESN", chartTicker("SENSEX"))
}

func TestParseKiteCandle(t *testing.T) {
	row := []any{"2026-08-24T09:15:00+05:30", 100.0, 101.5, 99.5, 101.0, 12345.0, 0.0}
	c, ok := parseKiteCandle(row)
	require.True(t, ok)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 101.0, c.Close)
	assert.Equal(t, 12345.0, c.Volume)
	assert.Equal(t, time.UTC, c.Timestamp.Location())

	_, ok = parseKiteCandle([]any{"2026-08-24T09:15:00+05:30", 100.0})
	assert.False(t, ok)
	_, ok = parseKiteCandle([]any{42.0, 100.0, 101.5, 99.5, 101.0, 12345.0})
	assert.False(t, ok)
}

func TestYahooCannotQuoteDerivatives(t *testing.T) {
	c := NewYahooClient(config.ProviderConfig{}, zerolog.Nop())
	assert.True(t, c.CanQuote("RELIANCE"))
	assert.False(t, c.CanQuote("NIFTY26SEP24000CE"))
	assert.False(t, c.CanQuote("BANKNIFTY26AUGFUT"))
}

func newKiteTestClient(t *testing.T, handler http.HandlerFunc) *KiteClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewKiteClient(config.ProviderConfig{
		KiteAPIKey:      "key",
		KiteAccessToken: "token",
		KiteBaseURL:     srv.URL,
	}, zerolog.Nop())
}

func TestKiteQuoteParsing(t *testing.T) {
	kite := newKiteTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Contains(t, r.URL.Query()["i"], "NSE:RELIANCE")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"NSE:RELIANCE":{
			"last_price":2875.5,"volume":100000,
			"ohlc":{"open":2850,"high":2880,"low":2840,"close":2860}}}}`))
	})

	quotes, err := kite.GetQuote(context.Background(), []string{"RELIANCE"})
	require.NoError(t, err)
	q, ok := quotes["RELIANCE"]
	require.True(t, ok)
	assert.Equal(t, 2875.5, q.Price)
	assert.InDelta(t, (2875.5-2860)/2860*100, q.ChangePercent, 1e-9)
}

func TestKiteAuthErrorSurfaces(t *testing.T) {
	kite := newKiteTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","error_type":"TokenException","message":"Invalid access_token"}`))
	})

	_, err := kite.GetQuote(context.Background(), []string{"RELIANCE"})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestUnifiedDowngradesOnAuthExpiry(t *testing.T) {
	kiteCalls := 0
	kite := newKiteTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		kiteCalls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","error_type":"TokenException","message":"Invalid access_token"}`))
	})

	yahooSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chart":{"result":[{"meta":{
			"regularMarketPrice":2875.5,"chartPreviousClose":2860,"regularMarketTime":1756182600}}]}}`))
	}))
	defer yahooSrv.Close()
	yahoo := NewYahooClient(config.ProviderConfig{YahooBaseURL: yahooSrv.URL}, zerolog.Nop())

	clock := marketclock.Frozen{At: time.Date(2026, 8, 26, 11, 0, 0, 0, marketclock.IST)}
	p := NewUnifiedProvider(kite, yahoo, nil, clock, zerolog.Nop())

	quotes, err := p.GetQuote(context.Background(), []string{"RELIANCE"})
	require.NoError(t, err)
	assert.Equal(t, 2875.5, quotes["RELIANCE"].Price)
	firstCalls := kiteCalls

	// Session is downgraded; the broker is not retried until auth upgrade.
	_, err = p.GetQuote(context.Background(), []string{"RELIANCE"})
	require.NoError(t, err)
	assert.Equal(t, firstCalls, kiteCalls)

	p.UpgradeAuth("fresh-token")
	_, _ = p.GetQuote(context.Background(), []string{"RELIANCE"})
	assert.Greater(t, kiteCalls, firstCalls)
}

func TestUnifiedZeroFillsDerivatives(t *testing.T) {
	yahooSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"chart":{"result":[{"meta":{
			"regularMarketPrice":612.4,"chartPreviousClose":610,"regularMarketTime":1756182600}}]}}`))
	}))
	defer yahooSrv.Close()

	kite := NewKiteClient(config.ProviderConfig{KiteAPIKey: "key"}, zerolog.Nop()) // no token, skip primary
	yahoo := NewYahooClient(config.ProviderConfig{YahooBaseURL: yahooSrv.URL}, zerolog.Nop())
	clock := marketclock.Frozen{At: time.Date(2026, 8, 26, 11, 0, 0, 0, marketclock.IST)}
	p := NewUnifiedProvider(kite, yahoo, nil, clock, zerolog.Nop())

	quotes, err := p.GetQuote(context.Background(), []string{"SBIN", "NIFTY26SEP24000CE"})
	require.NoError(t, err)
	assert.Equal(t, 612.4, quotes["SBIN"].Price)

	nfo, ok := quotes["NIFTY26SEP24000CE"]
	require.True(t, ok)
	assert.Zero(t, nfo.Price)
	assert.Equal(t, "NIFTY26SEP24000CE", nfo.Symbol)
}

func TestGetMarketStatusFromClock(t *testing.T) {
	kite := NewKiteClient(config.ProviderConfig{}, zerolog.Nop())
	yahoo := NewYahooClient(config.ProviderConfig{}, zerolog.Nop())

	open := marketclock.Frozen{At: time.Date(2026, 8, 26, 11, 0, 0, 0, marketclock.IST)}
	p := NewUnifiedProvider(kite, yahoo, nil, open, zerolog.Nop())
	status := p.GetMarketStatus()
	assert.True(t, status.Open)
	assert.Equal(t, "2026-08-26", status.TradeDate)

	closed := marketclock.Frozen{At: time.Date(2026, 8, 29, 11, 0, 0, 0, marketclock.IST)} // Saturday
	p2 := NewUnifiedProvider(kite, yahoo, nil, closed, zerolog.Nop())
	assert.False(t, p2.GetMarketStatus().Open)
}
