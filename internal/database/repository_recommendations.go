package database

import (
	"context"
	"fmt"
	"time"
)

// InsertRecommendation records one pick as an analytics row.
func (r *Repository) InsertRecommendation(ctx context.Context, rec AiRecommendation) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO ai_recommendations (
			pick_uuid, symbol, mode, recommendation, direction,
			entry_price, target_price, stop_price, data_source, trade_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		nullIfEmpty(rec.PickUUID), rec.Symbol, rec.Mode, rec.Recommendation, rec.Direction,
		rec.EntryPrice, rec.TargetPrice, rec.StopPrice, rec.DataSource, rec.TradeDate,
	)
	if err != nil {
		return fmt.Errorf("insert recommendation %s: %w", rec.Symbol, err)
	}
	return nil
}

// MarkExit records the realized exit on the open recommendation row for a
// symbol and trade date. Best effort: zero rows matched is not an error.
func (r *Repository) MarkExit(ctx context.Context, symbol, tradeDate, exitReason string, exitPrice, returnPct float64, exitTime time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE ai_recommendations
		SET exit_price = $1, exit_reason = $2, exit_time = $3, return_pct = $4, updated_at = NOW()
		WHERE symbol = $5 AND trade_date = $6 AND exit_reason IS NULL`,
		exitPrice, exitReason, exitTime.UTC(), returnPct, symbol, tradeDate,
	)
	if err != nil {
		return fmt.Errorf("mark exit %s: %w", symbol, err)
	}
	return nil
}

// WinningTrade is one realized positive-return exit.
type WinningTrade struct {
	Symbol     string     `json:"symbol"`
	Mode       string     `json:"mode"`
	Direction  string     `json:"direction"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	ExitReason string     `json:"exit_reason"`
	ReturnPct  float64    `json:"return_pct"`
	TradeDate  string     `json:"trade_date"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
}

// WinningTrades returns realized winners over a date range. Rows sourced
// from synthetic data feeds are excluded from the analytics.
func (r *Repository) WinningTrades(ctx context.Context, fromDate, toDate string, limit int) ([]WinningTrade, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT symbol, mode, direction, entry_price, exit_price,
			COALESCE(exit_reason, ''), return_pct, to_char(trade_date, 'YYYY-MM-DD'), exit_time
		FROM ai_recommendations
		WHERE exit_price IS NOT NULL
		AND return_pct > 0
		AND data_source <> 'Mock Data'
		AND trade_date BETWEEN $1 AND $2
		ORDER BY return_pct DESC
		LIMIT $3`,
		fromDate, toDate, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query winning trades: %w", err)
	}
	defer rows.Close()

	var trades []WinningTrade
	for rows.Next() {
		var t WinningTrade
		if err := rows.Scan(&t.Symbol, &t.Mode, &t.Direction, &t.EntryPrice, &t.ExitPrice,
			&t.ExitReason, &t.ReturnPct, &t.TradeDate, &t.ExitTime); err != nil {
			return nil, fmt.Errorf("scan winning trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
