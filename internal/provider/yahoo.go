package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"arise-trading-engine/config"
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/universe"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// yahoo interval names for canonical intervals.
var yahooIntervals = map[string]string{
	domain.Interval1m:  "1m",
	domain.Interval3m:  "2m", // chart API has no 3m granularity
	domain.Interval5m:  "5m",
	domain.Interval15m: "15m",
	domain.Interval30m: "30m",
	domain.Interval1h:  "60m",
	domain.Interval1d:  "1d",
}

// yahooIndexSymbols maps our index names to chart API tickers.
var yahooIndexSymbols = map[string]string{
	"NIFTY50":   "^NSEI",
	"BANKNIFTY": "^NSEBANK",
	"SENSEX":    "^BSESN",
}

// YahooClient is the secondary source. It serves NSE cash symbols via the
// public chart endpoint; derivatives are out of its reach.
type YahooClient struct {
	http *resty.Client
	log  zerolog.Logger
}

func NewYahooClient(cfg config.ProviderConfig, log zerolog.Logger) *YahooClient {
	baseURL := cfg.YahooBaseURL
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == 429
		}).
		SetHeader("User-Agent", "Mozilla/5.0 (compatible; arise/1.0)")

	return &YahooClient{
		http: httpClient,
		log:  log.With().Str("component", "yahoo").Logger(),
	}
}

// CanQuote reports whether the chart API can serve a symbol. NFO contracts
// cannot be quoted here; the unified provider zero-fills them.
func (c *YahooClient) CanQuote(symbol string) bool {
	return !universe.IsDerivative(symbol)
}

// chartTicker maps an NSE symbol or index name to the chart API ticker.
func chartTicker(symbol string) string {
	if ticker, ok := yahooIndexSymbols[symbol]; ok {
		return ticker
	}
	return symbol + ".NS"
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *YahooClient) fetchChart(ctx context.Context, ticker string, params map[string]string) (*yahooChart, error) {
	var chart yahooChart
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&chart).
		Get("/v8/finance/chart/" + url.PathEscape(ticker))
	if err != nil {
		return nil, fmt.Errorf("yahoo chart request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yahoo chart error: status %d", resp.StatusCode())
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart error (%s): %s", chart.Chart.Error.Code, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo chart returned no result for %s", ticker)
	}
	return &chart, nil
}

// GetQuote serves quotable symbols one at a time via the chart endpoint.
// Unquotable symbols are silently skipped; the caller zero-fills them.
func (c *YahooClient) GetQuote(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(symbols))
	for _, sym := range symbols {
		if !c.CanQuote(sym) {
			continue
		}
		quote, err := c.quoteOne(ctx, sym)
		if err != nil {
			c.log.Debug().Err(err).Str("symbol", sym).Msg("fallback quote failed")
			continue
		}
		out[sym] = quote
	}
	if len(out) == 0 && len(symbols) > 0 {
		return nil, fmt.Errorf("yahoo could not quote any of %d symbols", len(symbols))
	}
	return out, nil
}

func (c *YahooClient) quoteOne(ctx context.Context, symbol string) (domain.Quote, error) {
	chart, err := c.fetchChart(ctx, chartTicker(symbol), map[string]string{
		"range":    "1d",
		"interval": "1d",
	})
	if err != nil {
		return domain.Quote{}, err
	}

	result := chart.Chart.Result[0]
	quote := domain.Quote{
		Symbol:    symbol,
		Price:     result.Meta.RegularMarketPrice,
		Close:     result.Meta.ChartPreviousClose,
		Timestamp: time.Unix(result.Meta.RegularMarketTime, 0).UTC(),
	}
	if len(result.Indicators.Quote) > 0 {
		q := result.Indicators.Quote[0]
		if n := len(result.Timestamp); n > 0 {
			last := n - 1
			quote.Open = deref(q.Open, last)
			quote.High = deref(q.High, last)
			quote.Low = deref(q.Low, last)
			quote.Volume = deref(q.Volume, last)
		}
	}
	if quote.Close > 0 {
		quote.ChangePercent = (quote.Price - quote.Close) / quote.Close * 100
	}
	return quote, nil
}

// GetHistorical fetches bars over [from, to].
func (c *YahooClient) GetHistorical(ctx context.Context, symbol string, from, to time.Time, interval string) ([]domain.Candle, error) {
	yInterval, ok := yahooIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	chart, err := c.fetchChart(ctx, chartTicker(symbol), map[string]string{
		"period1":  strconv.FormatInt(from.Unix(), 10),
		"period2":  strconv.FormatInt(to.Unix(), 10),
		"interval": yInterval,
	})
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := result.Indicators.Quote[0]

	candles := make([]domain.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// Rows with missing closes are incomplete bars; drop them.
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      deref(q.Open, i),
			High:      deref(q.High, i),
			Low:       deref(q.Low, i),
			Close:     *q.Close[i],
			Volume:    deref(q.Volume, i),
		})
	}
	return candles, nil
}

// GetIndexQuote serves a near-real-time index quote via the chart endpoint.
func (c *YahooClient) GetIndexQuote(ctx context.Context, index string) (domain.Quote, error) {
	if _, ok := yahooIndexSymbols[index]; !ok {
		return domain.Quote{}, fmt.Errorf("unknown index %q", index)
	}
	return c.quoteOne(ctx, index)
}

func deref(vals []*float64, i int) float64 {
	if i < len(vals) && vals[i] != nil {
		return *vals[i]
	}
	return 0
}
