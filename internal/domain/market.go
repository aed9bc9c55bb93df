package domain

import "time"

// Quote is a normalized symbol quote from any provider.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	OI            float64   `json:"oi"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Candle is one OHLCV bar. Timestamps are timezone-aware UTC; IST is derived
// only for session classification and trade-date bucketing.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OI        float64   `json:"oi,omitempty"`
}

// Tick is one upstream tick normalized from the broker feed.
type Tick struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	Volume        float64   `json:"volume"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	OI            float64   `json:"oi"`
	LastTradeTime time.Time `json:"last_trade_time"`
	Timestamp     time.Time `json:"timestamp"`
}

// Canonical candle intervals accepted across the provider boundary.
const (
	Interval1m  = "1m"
	Interval3m  = "3m"
	Interval5m  = "5m"
	Interval15m = "15m"
	Interval30m = "30m"
	Interval1h  = "1h"
	Interval1d  = "1d"
)

// IsIntradayInterval reports whether the interval is finer than daily.
func IsIntradayInterval(interval string) bool {
	return interval != Interval1d && interval != "day"
}
