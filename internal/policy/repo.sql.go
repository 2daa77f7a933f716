package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-suite/meridian-authz/internal/registry"
	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// Repository provides PostgreSQL backed persistence for conflict policies.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

const policyColumns = `id, code, tenant_id, scope, conflict_strategy, merge_rule, max_concurrent_roles, use_role_priority, priority_direction, apply_global_rules, apply_to_admins, is_system, lifecycle, created_at, updated_at`

func (r *Repository) scanPolicy(row pgx.Row) (Policy, error) {
	var (
		pol       Policy
		scope     string
		strategy  string
		mergeRule string
		direction string
		lifecycle string
	)
	if err := row.Scan(&pol.ID, &pol.Code, &pol.TenantID, &scope, &strategy, &mergeRule, &pol.MaxConcurrentRoles, &pol.UseRolePriority, &direction, &pol.ApplyGlobalRules, &pol.ApplyToAdmins, &pol.IsSystem, &lifecycle, &pol.CreatedAt, &pol.UpdatedAt); err != nil {
		return Policy{}, err
	}
	pol.Scope, _ = registry.ParseScope(scope)
	pol.Lifecycle, _ = registry.ParseLifecycle(lifecycle)

	// Unknown enum values are recoverable: the engine falls back to the
	// merge rule, but the row is flagged for operators.
	var ok bool
	if pol.Strategy, ok = ParseStrategy(strategy); !ok {
		r.log().Warn("policy row carries unknown conflict strategy",
			slog.String("code", pol.Code),
			slog.String("strategy", strategy))
	}
	if pol.MergeRule, ok = ParseStrategy(mergeRule); !ok {
		r.log().Warn("policy row carries unknown merge rule",
			slog.String("code", pol.Code),
			slog.String("merge_rule", mergeRule))
	}
	pol.PriorityDirection, _ = ParseDirection(direction)
	return pol, nil
}

// GetActive returns the single ACTIVE policy for a (tenant, scope) pair.
func (r *Repository) GetActive(ctx context.Context, tenantID uuid.UUID, scope registry.Scope) (Policy, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM permission_conflict_resolutions WHERE tenant_id = $1 AND scope = $2 AND lifecycle = 'ACTIVE'`, tenantID, scope.String())
	pol, err := r.scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, shared.ErrPolicyMissing
		}
		return Policy{}, fmt.Errorf("policy: get active: %w", err)
	}
	return pol, nil
}

// Upsert writes a policy row keyed by (tenant, scope, code).
func (r *Repository) Upsert(ctx context.Context, pol Policy) (Policy, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permission_conflict_resolutions
			(code, tenant_id, scope, conflict_strategy, merge_rule, max_concurrent_roles, use_role_priority, priority_direction, apply_global_rules, apply_to_admins, is_system, lifecycle, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (tenant_id, scope, code) DO UPDATE SET
			conflict_strategy = EXCLUDED.conflict_strategy,
			merge_rule = EXCLUDED.merge_rule,
			max_concurrent_roles = EXCLUDED.max_concurrent_roles,
			use_role_priority = EXCLUDED.use_role_priority,
			priority_direction = EXCLUDED.priority_direction,
			apply_global_rules = EXCLUDED.apply_global_rules,
			apply_to_admins = EXCLUDED.apply_to_admins,
			lifecycle = EXCLUDED.lifecycle,
			updated_at = NOW()
		RETURNING `+policyColumns,
		pol.Code, pol.TenantID, pol.Scope.String(), pol.Strategy.String(), pol.MergeRule.String(), pol.MaxConcurrentRoles, pol.UseRolePriority, pol.PriorityDirection.String(), pol.ApplyGlobalRules, pol.ApplyToAdmins, pol.IsSystem, pol.Lifecycle.String())
	stored, err := r.scanPolicy(row)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: upsert: %w", err)
	}
	return stored, nil
}

func (r *Repository) log() *slog.Logger {
	if r.logger != nil {
		return r.logger.With(slog.String("component", "policy"))
	}
	return slog.Default().With(slog.String("component", "policy"))
}
