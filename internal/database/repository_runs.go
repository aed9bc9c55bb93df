package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"arise-trading-engine/internal/domain"
)

// ErrRunNotFound is returned when no run matches a lookup.
var ErrRunNotFound = errors.New("run not found")

// RunIDFor builds the canonical run id from universe, mode and the UTC
// generation instant.
func RunIDFor(universe string, mode domain.Mode, generatedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s", universe, mode, generatedAt.UTC().Format(time.RFC3339))
}

// StoreRun appends a run and prunes history past the retention window in
// the same call.
func (r *Repository) StoreRun(ctx context.Context, run TopPicksRun) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO top_picks_runs (
			run_id, universe, mode, generated_at, trigger_source,
			total_analyzed, filtered_count, picks_count, elapsed_sec, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (run_id) DO NOTHING`,
		run.RunID, run.Universe, run.Mode, run.GeneratedAt, run.Trigger,
		run.TotalAnalyzed, run.FilteredCount, run.PicksCount, run.ElapsedSec, run.Payload,
	)
	if err != nil {
		return fmt.Errorf("store run %s: %w", run.RunID, err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -r.retentionDays)
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM top_picks_runs WHERE generated_at < $1`, cutoff)
	if err != nil {
		// Retention is housekeeping; the run itself is already stored.
		r.log.Warn().Err(err).Msg("run retention cleanup failed")
		return nil
	}
	if n := tag.RowsAffected(); n > 0 {
		r.log.Debug().Int64("deleted", n).Int("retention_days", r.retentionDays).Msg("pruned old runs")
	}
	return nil
}

const runColumns = `run_id, universe, mode, generated_at, trigger_source,
	total_analyzed, filtered_count, picks_count, elapsed_sec, payload`

func scanRun(row pgx.Row) (TopPicksRun, error) {
	var run TopPicksRun
	err := row.Scan(
		&run.RunID, &run.Universe, &run.Mode, &run.GeneratedAt, &run.Trigger,
		&run.TotalAnalyzed, &run.FilteredCount, &run.PicksCount, &run.ElapsedSec, &run.Payload,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return run, ErrRunNotFound
	}
	if err != nil {
		return run, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// GetLatestRunFor returns the most recent non-empty run for a pair. Empty
// runs are skipped so a bad cycle never blanks the dashboard.
func (r *Repository) GetLatestRunFor(ctx context.Context, universe string, mode domain.Mode) (TopPicksRun, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM top_picks_runs
		WHERE universe = $1 AND mode = $2 AND picks_count > 0
		ORDER BY generated_at DESC
		LIMIT 1`,
		universe, mode,
	)
	return scanRun(row)
}

// GetRunByID returns the full payload for one run.
func (r *Repository) GetRunByID(ctx context.Context, runID string) (TopPicksRun, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM top_picks_runs
		WHERE run_id = $1`,
		runID,
	)
	return scanRun(row)
}

// RunFilters narrows QueryRuns. Zero values match everything.
type RunFilters struct {
	Universe string
	Mode     domain.Mode
	FromDate time.Time
	ToDate   time.Time
}

const maxRunQueryLimit = 5000

// QueryRuns returns runs matching the filters, newest first, capped at 5000.
func (r *Repository) QueryRuns(ctx context.Context, filters RunFilters, limit int) ([]TopPicksRun, error) {
	if limit <= 0 || limit > maxRunQueryLimit {
		limit = maxRunQueryLimit
	}

	from := filters.FromDate
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	to := filters.ToDate
	if to.IsZero() {
		to = time.Now().UTC().AddDate(1, 0, 0)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM top_picks_runs
		WHERE ($1 = '' OR universe = $1)
		AND ($2 = '' OR mode = $2)
		AND generated_at BETWEEN $3 AND $4
		ORDER BY generated_at DESC
		LIMIT $5`,
		filters.Universe, string(filters.Mode), from, to, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []TopPicksRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
