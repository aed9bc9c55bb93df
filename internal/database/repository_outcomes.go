package database

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpsertOutcome writes a pick outcome, idempotent on
// (pick_uuid, evaluation_horizon). Re-evaluation overwrites in place.
func (r *Repository) UpsertOutcome(ctx context.Context, o PickOutcome) error {
	notesJSON, err := json.Marshal(o.Notes)
	if err != nil {
		notesJSON = []byte("{}")
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO pick_outcomes (
			pick_uuid, evaluation_horizon, horizon_end_ts,
			price_close, price_high, price_low,
			ret_close_pct, max_runup_pct, max_drawdown_pct,
			benchmark_symbol, benchmark_ret_pct,
			hit_target, hit_stop, outcome_label, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (pick_uuid, evaluation_horizon) DO UPDATE SET
			horizon_end_ts = EXCLUDED.horizon_end_ts,
			price_close = EXCLUDED.price_close,
			price_high = EXCLUDED.price_high,
			price_low = EXCLUDED.price_low,
			ret_close_pct = EXCLUDED.ret_close_pct,
			max_runup_pct = EXCLUDED.max_runup_pct,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			benchmark_symbol = EXCLUDED.benchmark_symbol,
			benchmark_ret_pct = EXCLUDED.benchmark_ret_pct,
			hit_target = EXCLUDED.hit_target,
			hit_stop = EXCLUDED.hit_stop,
			outcome_label = EXCLUDED.outcome_label,
			notes = EXCLUDED.notes,
			updated_at = NOW()`,
		o.PickUUID, o.EvaluationHorizon, o.HorizonEndTS,
		o.PriceClose, o.PriceHigh, o.PriceLow,
		o.RetClosePct, o.MaxRunupPct, o.MaxDrawdownPct,
		nullIfEmpty(o.BenchmarkSymbol), o.BenchmarkRetPct,
		o.HitTarget, o.HitStop, o.OutcomeLabel, notesJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert outcome %s/%s: %w", o.PickUUID, o.EvaluationHorizon, err)
	}
	return nil
}

// OutcomesInRange returns outcomes joined with their pick context for a
// mode and date range, feeding the bandit trainers.
func (r *Repository) OutcomesInRange(ctx context.Context, mode, fromDate, toDate, horizon string) ([]PickOutcomeWithContext, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT o.pick_uuid, o.evaluation_horizon, o.horizon_end_ts,
			COALESCE(o.price_close, 0), COALESCE(o.price_high, 0), COALESCE(o.price_low, 0),
			COALESCE(o.ret_close_pct, 0), COALESCE(o.max_runup_pct, 0), COALESCE(o.max_drawdown_pct, 0),
			o.hit_target, o.hit_stop, COALESCE(o.outcome_label, ''), o.notes,
			p.symbol, p.mode, p.direction, p.extra_context
		FROM pick_outcomes o
		JOIN pick_events p ON p.pick_uuid = o.pick_uuid
		WHERE p.mode = $1 AND p.trade_date BETWEEN $2 AND $3 AND o.evaluation_horizon = $4
		ORDER BY o.horizon_end_ts`,
		mode, fromDate, toDate, horizon,
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes in range: %w", err)
	}
	defer rows.Close()

	var out []PickOutcomeWithContext
	for rows.Next() {
		var row PickOutcomeWithContext
		var notesJSON, extraJSON []byte
		err := rows.Scan(
			&row.PickUUID, &row.EvaluationHorizon, &row.HorizonEndTS,
			&row.PriceClose, &row.PriceHigh, &row.PriceLow,
			&row.RetClosePct, &row.MaxRunupPct, &row.MaxDrawdownPct,
			&row.HitTarget, &row.HitStop, &row.OutcomeLabel, &notesJSON,
			&row.Symbol, &row.Mode, &row.Direction, &extraJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if len(notesJSON) > 0 {
			_ = json.Unmarshal(notesJSON, &row.Notes)
		}
		if len(extraJSON) > 0 {
			_ = json.Unmarshal(extraJSON, &row.ExtraContext)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PickOutcomeWithContext joins an outcome with the pick fields trainers need.
type PickOutcomeWithContext struct {
	PickOutcome
	Symbol       string         `json:"symbol"`
	Mode         string         `json:"mode"`
	Direction    string         `json:"direction"`
	ExtraContext map[string]any `json:"extra_context"`
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
