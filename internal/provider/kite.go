// Package provider supplies quotes, indices and historical candles from the
// primary broker API with automatic fallback to a public chart endpoint.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
	"arise-trading-engine/internal/universe"
)

const defaultKiteBaseURL = "https://api.kite.trade"

// kite interval names for canonical intervals.
var kiteIntervals = map[string]string{
	domain.Interval1m:  "minute",
	domain.Interval3m:  "3minute",
	domain.Interval5m:  "5minute",
	domain.Interval15m: "15minute",
	domain.Interval30m: "30minute",
	domain.Interval1h:  "60minute",
	domain.Interval1d:  "day",
}

// KiteClient talks to the broker REST API. It carries no session state
// beyond the auth header; token rotation goes through SetAccessToken.
type KiteClient struct {
	http   *resty.Client
	apiKey string
	log    zerolog.Logger
}

// NewKiteClient builds the primary client. An empty access token is allowed;
// calls will fail with an auth error until SetAccessToken upgrades it.
func NewKiteClient(cfg config.ProviderConfig, log zerolog.Logger) *KiteClient {
	baseURL := cfg.KiteBaseURL
	if baseURL == "" {
		baseURL = defaultKiteBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("X-Kite-Version", "3")

	c := &KiteClient{
		http:   httpClient,
		apiKey: cfg.KiteAPIKey,
		log:    log.With().Str("component", "kite").Logger(),
	}
	c.SetAccessToken(cfg.KiteAccessToken)
	return c
}

// SetAccessToken swaps the session token. Passing "" clears auth, which the
// unified provider uses to force fallback.
func (c *KiteClient) SetAccessToken(token string) {
	if token == "" {
		c.http.Header.Del("Authorization")
		return
	}
	c.http.SetHeader("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, token))
}

// HasAuth reports whether an access token is currently set.
func (c *KiteClient) HasAuth() bool {
	return c.http.Header.Get("Authorization") != ""
}

// IsAuthError reports whether err looks like an expired or missing broker
// session. The broker reports these in the message text.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "api_key") || strings.Contains(msg, "access_token")
}

type kiteQuote struct {
	LastPrice float64 `json:"last_price"`
	Volume    float64 `json:"volume"`
	OI        float64 `json:"oi"`
	OHLC      struct {
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	} `json:"ohlc"`
}

type kiteQuoteEnvelope struct {
	Status    string               `json:"status"`
	Message   string               `json:"message"`
	ErrorType string               `json:"error_type"`
	Data      map[string]kiteQuote `json:"data"`
}

// GetQuote fetches quotes for up to 500 instruments in one call. Symbols are
// routed to NSE or NFO by shape.
func (c *KiteClient) GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	params := url.Values{}
	for _, sym := range symbols {
		params.Add("i", fmt.Sprintf("%s:%s", universe.Exchange(sym), sym))
	}

	var env kiteQuoteEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetResult(&env).
		SetError(&env).
		Get("/quote")
	if err != nil {
		return nil, fmt.Errorf("kite quote request failed: %w", err)
	}
	if resp.IsError() || env.Status == "error" {
		return nil, fmt.Errorf("kite quote error (%s): %s", env.ErrorType, env.Message)
	}

	now := time.Now().UTC()
	out := make(map[string]domain.Quote, len(env.Data))
	for instrument, q := range env.Data {
		sym := instrument
		if i := strings.IndexByte(instrument, ':'); i >= 0 {
			sym = instrument[i+1:]
		}
		quote := domain.Quote{
			Symbol:    sym,
			Price:     q.LastPrice,
			Open:      q.OHLC.Open,
			High:      q.OHLC.High,
			Low:       q.OHLC.Low,
			Close:     q.OHLC.Close,
			Volume:    q.Volume,
			OI:        q.OI,
			Timestamp: now,
		}
		if q.OHLC.Close > 0 {
			quote.ChangePercent = (q.LastPrice - q.OHLC.Close) / q.OHLC.Close * 100
		}
		out[sym] = quote
	}
	return out, nil
}

type kiteHistoricalEnvelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Data      struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
}

// GetHistorical fetches OHLCV bars. The broker returns candles as positional
// arrays [timestamp, o, h, l, c, v, oi?].
func (c *KiteClient) GetHistorical(ctx context.Context, symbol string, from, to time.Time, interval string) ([]domain.Candle, error) {
	kiteInterval, ok := kiteIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	var env kiteHistoricalEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from": from.In(marketclock.IST).Format("2006-01-02 15:04:05"),
			"to":   to.In(marketclock.IST).Format("2006-01-02 15:04:05"),
			"oi":   "1",
		}).
		SetResult(&env).
		SetError(&env).
		Get(fmt.Sprintf("/instruments/historical/%s/%s", url.PathEscape(symbol), kiteInterval))
	if err != nil {
		return nil, fmt.Errorf("kite historical request failed: %w", err)
	}
	if resp.IsError() || env.Status == "error" {
		return nil, fmt.Errorf("kite historical error (%s): %s", env.ErrorType, env.Message)
	}

	candles := make([]domain.Candle, 0, len(env.Data.Candles))
	for _, row := range env.Data.Candles {
		candle, ok := parseKiteCandle(row)
		if !ok {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

type kitePosition struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Product       string  `json:"product"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

type kitePositionsEnvelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Data      struct {
		Net []kitePosition `json:"net"`
	} `json:"data"`
}

// GetPositions fetches the day's net broker positions.
func (c *KiteClient) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var env kitePositionsEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env).
		Get("/portfolio/positions")
	if err != nil {
		return nil, fmt.Errorf("kite positions request failed: %w", err)
	}
	if resp.IsError() || env.Status == "error" {
		return nil, fmt.Errorf("kite positions error (%s): %s", env.ErrorType, env.Message)
	}

	out := make([]domain.BrokerPosition, 0, len(env.Data.Net))
	for _, p := range env.Data.Net {
		out = append(out, domain.BrokerPosition{
			Symbol:       p.TradingSymbol,
			Exchange:     p.Exchange,
			Product:      p.Product,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
			PnL:          p.PnL,
		})
	}
	return out, nil
}

type kiteHolding struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

type kiteHoldingsEnvelope struct {
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	ErrorType string        `json:"error_type"`
	Data      []kiteHolding `json:"data"`
}

// GetHoldings fetches demat holdings.
func (c *KiteClient) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	var env kiteHoldingsEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env).
		Get("/portfolio/holdings")
	if err != nil {
		return nil, fmt.Errorf("kite holdings request failed: %w", err)
	}
	if resp.IsError() || env.Status == "error" {
		return nil, fmt.Errorf("kite holdings error (%s): %s", env.ErrorType, env.Message)
	}

	out := make([]domain.Holding, 0, len(env.Data))
	for _, h := range env.Data {
		out = append(out, domain.Holding{
			Symbol:       h.TradingSymbol,
			Exchange:     h.Exchange,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			LastPrice:    h.LastPrice,
			PnL:          h.PnL,
		})
	}
	return out, nil
}

func parseKiteCandle(row []any) (domain.Candle, bool) {
	if len(row) < 6 {
		return domain.Candle{}, false
	}
	tsStr, ok := row[0].(string)
	if !ok {
		return domain.Candle{}, false
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return domain.Candle{}, false
	}
	nums := make([]float64, 0, 6)
	for _, v := range row[1:] {
		f, ok := v.(float64)
		if !ok {
			return domain.Candle{}, false
		}
		nums = append(nums, f)
	}
	c := domain.Candle{
		Timestamp: ts.UTC(),
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
	}
	if len(nums) > 5 {
		c.OI = nums[5]
	}
	return c, true
}
