// Package database wraps the PostgreSQL pool and the relational stores for
// pick events, outcomes, run history, policies and recommendations.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"arise-trading-engine/config"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewDB creates the connection pool and verifies connectivity.
func NewDB(cfg config.DatabaseConfig, log zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := log.With().Str("component", "database").Logger()
	logger.Info().Str("database", cfg.Database).Msg("connected to postgres")
	return &DB{Pool: pool, log: logger}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema. Statements are idempotent so startup
// can run them unconditionally.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pick_events (
			id SERIAL PRIMARY KEY,
			pick_uuid UUID NOT NULL,
			symbol VARCHAR(40) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			source VARCHAR(50) NOT NULL,
			mode VARCHAR(20) NOT NULL,
			run_id VARCHAR(120),
			signal_ts TIMESTAMPTZ NOT NULL,
			trade_date DATE NOT NULL,
			signal_price DECIMAL(16, 4) NOT NULL,
			recommended_entry DECIMAL(16, 4),
			recommended_target DECIMAL(16, 4),
			recommended_stop DECIMAL(16, 4),
			time_horizon VARCHAR(30),
			blend_score DECIMAL(7, 3),
			recommendation VARCHAR(20),
			confidence VARCHAR(10),
			regime_bucket VARCHAR(20),
			vol_bucket VARCHAR(10),
			user_risk_bucket VARCHAR(10),
			universe VARCHAR(20),
			extra_context JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pick_events_uuid ON pick_events(pick_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_pick_events_trade_date ON pick_events(trade_date)`,
		`CREATE INDEX IF NOT EXISTS idx_pick_events_symbol ON pick_events(symbol, trade_date)`,
		`CREATE INDEX IF NOT EXISTS idx_pick_events_mode ON pick_events(mode, trade_date)`,

		`CREATE TABLE IF NOT EXISTS agent_contributions (
			id SERIAL PRIMARY KEY,
			pick_uuid UUID NOT NULL REFERENCES pick_events(pick_uuid) ON DELETE CASCADE,
			agent_name VARCHAR(40) NOT NULL,
			score DECIMAL(7, 3),
			confidence VARCHAR(10),
			metadata JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_contrib_uuid ON agent_contributions(pick_uuid)`,

		`CREATE TABLE IF NOT EXISTS pick_outcomes (
			id SERIAL PRIMARY KEY,
			pick_uuid UUID NOT NULL REFERENCES pick_events(pick_uuid) ON DELETE CASCADE,
			evaluation_horizon VARCHAR(20) NOT NULL,
			horizon_end_ts TIMESTAMPTZ NOT NULL,
			price_close DECIMAL(16, 4),
			price_high DECIMAL(16, 4),
			price_low DECIMAL(16, 4),
			ret_close_pct DECIMAL(10, 4),
			max_runup_pct DECIMAL(10, 4),
			max_drawdown_pct DECIMAL(10, 4),
			benchmark_symbol VARCHAR(20),
			benchmark_ret_pct DECIMAL(10, 4),
			hit_target BOOLEAN DEFAULT FALSE,
			hit_stop BOOLEAN DEFAULT FALSE,
			outcome_label VARCHAR(12),
			notes JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT uq_pick_outcome UNIQUE (pick_uuid, evaluation_horizon)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pick_outcomes_horizon ON pick_outcomes(evaluation_horizon)`,

		`CREATE TABLE IF NOT EXISTS top_picks_runs (
			run_id VARCHAR(120) PRIMARY KEY,
			universe VARCHAR(20) NOT NULL,
			mode VARCHAR(20) NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			trigger_source VARCHAR(20) NOT NULL,
			total_analyzed INT NOT NULL DEFAULT 0,
			filtered_count INT NOT NULL DEFAULT 0,
			picks_count INT NOT NULL DEFAULT 0,
			elapsed_sec DECIMAL(10, 3) NOT NULL DEFAULT 0,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_universe_mode ON top_picks_runs(universe, mode, generated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_generated_at ON top_picks_runs(generated_at)`,

		`CREATE TABLE IF NOT EXISTS policies (
			policy_id VARCHAR(60) PRIMARY KEY,
			name VARCHAR(120) NOT NULL,
			description TEXT,
			status VARCHAR(10) NOT NULL DEFAULT 'DRAFT',
			config JSONB NOT NULL DEFAULT '{}',
			metrics JSONB NOT NULL DEFAULT '{}',
			activated_at TIMESTAMPTZ,
			deactivated_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_status ON policies(status)`,

		`CREATE TABLE IF NOT EXISTS ai_recommendations (
			id SERIAL PRIMARY KEY,
			pick_uuid UUID,
			symbol VARCHAR(40) NOT NULL,
			mode VARCHAR(20) NOT NULL,
			recommendation VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			entry_price DECIMAL(16, 4) NOT NULL,
			target_price DECIMAL(16, 4),
			stop_price DECIMAL(16, 4),
			exit_price DECIMAL(16, 4),
			exit_reason VARCHAR(30),
			exit_time TIMESTAMPTZ,
			return_pct DECIMAL(10, 4),
			data_source VARCHAR(40) NOT NULL DEFAULT 'Live',
			trade_date DATE NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_recs_symbol_date ON ai_recommendations(symbol, trade_date)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_recs_exit ON ai_recommendations(exit_reason) WHERE exit_reason IS NOT NULL`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info().Int("statements", len(migrations)).Msg("migrations complete")
	return nil
}
