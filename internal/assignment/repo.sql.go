package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-suite/meridian-authz/internal/registry"
	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// Repository provides PostgreSQL backed persistence for role assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveRoles returns the roles held by a principal whose assignment is
// live at the given instant. Tenancy and scope filtering happen in the
// store, not here, because they depend on the active policy.
func (r *Repository) ListActiveRoles(ctx context.Context, principalID, tenantID uuid.UUID, now time.Time) ([]registry.Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.code, r.name, r.description, r.category, r.level, r.scope, r.tenant_id, r.priority, r.is_default, r.lifecycle, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.principal_id = $1
		  AND ur.tenant_id = $2
		  AND ur.lifecycle = 'ACTIVE'
		  AND (ur.valid_from IS NULL OR ur.valid_from <= $3)
		  AND (ur.valid_until IS NULL OR ur.valid_until > $3)
		ORDER BY r.level, r.priority, r.code`, principalID, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("assignment: list active roles: %w", err)
	}
	defer rows.Close()
	var roles []registry.Role
	for rows.Next() {
		var (
			role      registry.Role
			category  string
			scope     string
			lifecycle string
		)
		if err := rows.Scan(&role.ID, &role.Code, &role.Name, &role.Description, &category, &role.Level, &scope, &role.TenantID, &role.Priority, &role.IsDefault, &lifecycle, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("assignment: scan role: %w", err)
		}
		role.Category, _ = registry.ParseCategory(category)
		role.Scope, _ = registry.ParseScope(scope)
		role.Lifecycle, _ = registry.ParseLifecycle(lifecycle)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assignment: list active roles: %w", err)
	}
	return roles, nil
}

// CountActive returns the number of live assignments a principal holds
// within the tenant, regardless of role scope.
func (r *Repository) CountActive(ctx context.Context, principalID, tenantID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM user_roles ur
		WHERE ur.principal_id = $1
		  AND ur.tenant_id = $2
		  AND ur.lifecycle = 'ACTIVE'
		  AND (ur.valid_from IS NULL OR ur.valid_from <= $3)
		  AND (ur.valid_until IS NULL OR ur.valid_until > $3)`, principalID, tenantID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("assignment: count active: %w", err)
	}
	return count, nil
}

// Insert persists a new assignment.
func (r *Repository) Insert(ctx context.Context, ur UserRole) (UserRole, error) {
	var validFrom, validUntil any
	if !ur.ValidFrom.IsZero() {
		validFrom = ur.ValidFrom
	}
	if !ur.ValidUntil.IsZero() {
		validUntil = ur.ValidUntil
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO user_roles (principal_id, tenant_id, role_id, valid_from, valid_until, lifecycle, created_at)
		VALUES ($1, $2, $3, $4, $5, 'ACTIVE', NOW())
		RETURNING id, created_at`,
		ur.PrincipalID, ur.TenantID, ur.RoleID, validFrom, validUntil)
	if err := row.Scan(&ur.ID, &ur.CreatedAt); err != nil {
		return UserRole{}, fmt.Errorf("assignment: insert: %w", err)
	}
	ur.Lifecycle = registry.LifecycleActive
	return ur, nil
}

// Retire ends an assignment. The row survives for audit purposes.
func (r *Repository) Retire(ctx context.Context, principalID, tenantID uuid.UUID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE user_roles SET lifecycle = 'RETIRED' WHERE principal_id = $1 AND tenant_id = $2 AND role_id = $3 AND lifecycle = 'ACTIVE'`, principalID, tenantID, roleID)
	if err != nil {
		return fmt.Errorf("assignment: retire: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
