package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoActivePolicy is returned when the registry holds no ACTIVE policy.
var ErrNoActivePolicy = errors.New("no active policy")

// GetActivePolicy returns the single ACTIVE policy.
func (r *Repository) GetActivePolicy(ctx context.Context) (Policy, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT policy_id, name, COALESCE(description, ''), status, config, metrics,
			activated_at, deactivated_at, updated_at
		FROM policies
		WHERE status = $1`,
		PolicyActive,
	)
	return scanPolicy(row)
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var p Policy
	var configJSON, metricsJSON []byte
	err := row.Scan(&p.PolicyID, &p.Name, &p.Description, &p.Status,
		&configJSON, &metricsJSON, &p.ActivatedAt, &p.DeactivatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNoActivePolicy
	}
	if err != nil {
		return p, fmt.Errorf("scan policy: %w", err)
	}
	if len(configJSON) > 0 {
		_ = json.Unmarshal(configJSON, &p.Config)
	}
	if len(metricsJSON) > 0 {
		_ = json.Unmarshal(metricsJSON, &p.Metrics)
	}
	return p, nil
}

// SeedPolicy inserts a policy if the registry is empty and activates it.
// Idempotent across restarts.
func (r *Repository) SeedPolicy(ctx context.Context, p Policy) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal policy config: %w", err)
	}
	metricsJSON, err := json.Marshal(p.Metrics)
	if err != nil {
		metricsJSON = []byte("{}")
	}

	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO policies (policy_id, name, description, status, config, metrics, activated_at)
		SELECT $1, $2, $3, $4, $5, $6, NOW()
		WHERE NOT EXISTS (SELECT 1 FROM policies)`,
		p.PolicyID, p.Name, p.Description, PolicyActive, configJSON, metricsJSON,
	)
	if err != nil {
		return fmt.Errorf("seed policy: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.log.Info().Str("policy_id", p.PolicyID).Msg("seeded default policy")
	}
	return nil
}

// ActivatePolicy promotes a policy to ACTIVE, retiring the current one in
// the same transaction so at most one policy is ever ACTIVE.
func (r *Repository) ActivatePolicy(ctx context.Context, policyID string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE policies SET status = $1, deactivated_at = NOW(), updated_at = NOW()
		WHERE status = $2 AND policy_id <> $3`,
		PolicyRetired, PolicyActive, policyID,
	)
	if err != nil {
		return fmt.Errorf("retire active policy: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE policies SET status = $1, activated_at = NOW(), deactivated_at = NULL, updated_at = NOW()
		WHERE policy_id = $2`,
		PolicyActive, policyID,
	)
	if err != nil {
		return fmt.Errorf("activate policy %s: %w", policyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policy %s does not exist", policyID)
	}

	return tx.Commit(ctx)
}

// UpdatePolicyMetrics persists trainer output into the metrics document.
func (r *Repository) UpdatePolicyMetrics(ctx context.Context, policyID string, metrics map[string]any) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal policy metrics: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE policies SET metrics = $1, updated_at = NOW()
		WHERE policy_id = $2`,
		metricsJSON, policyID,
	)
	if err != nil {
		return fmt.Errorf("update policy metrics %s: %w", policyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("policy %s does not exist", policyID)
	}
	return nil
}

// TouchPolicy bumps updated_at, used by trainers that changed config only.
func (r *Repository) TouchPolicy(ctx context.Context, policyID string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE policies SET updated_at = $1 WHERE policy_id = $2`, at.UTC(), policyID)
	if err != nil {
		return fmt.Errorf("touch policy %s: %w", policyID, err)
	}
	return nil
}
