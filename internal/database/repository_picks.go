package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// LogPick appends a pick event with its agent contributions in one
// transaction. Failures here must never interrupt a run; callers log and
// move on.
func (r *Repository) LogPick(ctx context.Context, event PickEvent, contributions []AgentContribution) error {
	extraJSON, err := json.Marshal(event.ExtraContext)
	if err != nil {
		extraJSON = []byte("{}")
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin pick log tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO pick_events (
			pick_uuid, symbol, direction, source, mode, run_id, signal_ts, trade_date,
			signal_price, recommended_entry, recommended_target, recommended_stop,
			time_horizon, blend_score, recommendation, confidence,
			regime_bucket, vol_bucket, user_risk_bucket, universe, extra_context
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		event.PickUUID, event.Symbol, event.Direction, event.Source, event.Mode,
		event.RunID, event.SignalTS, event.TradeDate, event.SignalPrice,
		event.RecommendedEntry, event.RecommendedTarget, event.RecommendedStop,
		event.TimeHorizon, event.BlendScore, event.Recommendation, event.Confidence,
		event.RegimeBucket, event.VolBucket, event.UserRiskBucket, event.Universe,
		extraJSON,
	)
	if err != nil {
		return fmt.Errorf("insert pick event %s: %w", event.PickUUID, err)
	}

	for _, contrib := range contributions {
		metaJSON, err := json.Marshal(contrib.Metadata)
		if err != nil {
			metaJSON = []byte("{}")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO agent_contributions (pick_uuid, agent_name, score, confidence, metadata)
			VALUES ($1,$2,$3,$4,$5)`,
			event.PickUUID, contrib.AgentName, contrib.Score, contrib.Confidence, metaJSON,
		)
		if err != nil {
			return fmt.Errorf("insert contribution %s/%s: %w", event.PickUUID, contrib.AgentName, err)
		}
	}

	return tx.Commit(ctx)
}

// PicksWithoutOutcome returns pick events for a trade date that have no
// outcome at the given horizon yet.
func (r *Repository) PicksWithoutOutcome(ctx context.Context, tradeDate, horizon string) ([]PickEvent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT p.pick_uuid, p.symbol, p.direction, p.source, p.mode, COALESCE(p.run_id, ''),
			p.signal_ts, to_char(p.trade_date, 'YYYY-MM-DD'), p.signal_price,
			p.recommended_entry, p.recommended_target, p.recommended_stop,
			COALESCE(p.time_horizon, ''), COALESCE(p.blend_score, 0),
			COALESCE(p.recommendation, ''), COALESCE(p.confidence, ''),
			COALESCE(p.regime_bucket, ''), COALESCE(p.vol_bucket, ''),
			COALESCE(p.user_risk_bucket, ''), COALESCE(p.universe, ''), p.extra_context
		FROM pick_events p
		LEFT JOIN pick_outcomes o
			ON o.pick_uuid = p.pick_uuid AND o.evaluation_horizon = $2
		WHERE p.trade_date = $1 AND o.pick_uuid IS NULL
		ORDER BY p.id`,
		tradeDate, horizon,
	)
	if err != nil {
		return nil, fmt.Errorf("query picks without outcome: %w", err)
	}
	defer rows.Close()

	return scanPickEvents(rows)
}

// PicksInRange returns pick events for a mode over [fromDate, toDate],
// used by the offline exit-profile evaluator.
func (r *Repository) PicksInRange(ctx context.Context, mode, fromDate, toDate string) ([]PickEvent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT p.pick_uuid, p.symbol, p.direction, p.source, p.mode, COALESCE(p.run_id, ''),
			p.signal_ts, to_char(p.trade_date, 'YYYY-MM-DD'), p.signal_price,
			p.recommended_entry, p.recommended_target, p.recommended_stop,
			COALESCE(p.time_horizon, ''), COALESCE(p.blend_score, 0),
			COALESCE(p.recommendation, ''), COALESCE(p.confidence, ''),
			COALESCE(p.regime_bucket, ''), COALESCE(p.vol_bucket, ''),
			COALESCE(p.user_risk_bucket, ''), COALESCE(p.universe, ''), p.extra_context
		FROM pick_events p
		WHERE p.mode = $1 AND p.trade_date BETWEEN $2 AND $3
		ORDER BY p.signal_ts`,
		mode, fromDate, toDate,
	)
	if err != nil {
		return nil, fmt.Errorf("query picks in range: %w", err)
	}
	defer rows.Close()

	return scanPickEvents(rows)
}

// FindPickForExit locates the pick a scalping exit belongs to: same symbol
// and trade date, nearest signal timestamp to the entry.
func (r *Repository) FindPickForExit(ctx context.Context, symbol, tradeDate string, entryTime time.Time) (*PickEvent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT p.pick_uuid, p.symbol, p.direction, p.source, p.mode, COALESCE(p.run_id, ''),
			p.signal_ts, to_char(p.trade_date, 'YYYY-MM-DD'), p.signal_price,
			p.recommended_entry, p.recommended_target, p.recommended_stop,
			COALESCE(p.time_horizon, ''), COALESCE(p.blend_score, 0),
			COALESCE(p.recommendation, ''), COALESCE(p.confidence, ''),
			COALESCE(p.regime_bucket, ''), COALESCE(p.vol_bucket, ''),
			COALESCE(p.user_risk_bucket, ''), COALESCE(p.universe, ''), p.extra_context
		FROM pick_events p
		WHERE p.symbol = $1 AND p.trade_date = $2
		ORDER BY ABS(EXTRACT(EPOCH FROM (p.signal_ts - $3::timestamptz)))
		LIMIT 1`,
		symbol, tradeDate, entryTime,
	)
	if err != nil {
		return nil, fmt.Errorf("query pick for exit: %w", err)
	}
	defer rows.Close()

	events, err := scanPickEvents(rows)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

type pickRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPickEvents(rows pickRows) ([]PickEvent, error) {
	var events []PickEvent
	for rows.Next() {
		var e PickEvent
		var extraJSON []byte
		err := rows.Scan(
			&e.PickUUID, &e.Symbol, &e.Direction, &e.Source, &e.Mode, &e.RunID,
			&e.SignalTS, &e.TradeDate, &e.SignalPrice,
			&e.RecommendedEntry, &e.RecommendedTarget, &e.RecommendedStop,
			&e.TimeHorizon, &e.BlendScore, &e.Recommendation, &e.Confidence,
			&e.RegimeBucket, &e.VolBucket, &e.UserRiskBucket, &e.Universe, &extraJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pick event: %w", err)
		}
		if len(extraJSON) > 0 {
			_ = json.Unmarshal(extraJSON, &e.ExtraContext)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
