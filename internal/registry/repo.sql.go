package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-suite/meridian-authz/internal/platform/db"
	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// Repository provides PostgreSQL backed persistence for roles and
// permissions. GLOBAL roles are stored with the zero tenant UUID.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, code, name, description, category, level, scope, tenant_id, priority, is_default, lifecycle, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var (
		role      Role
		category  string
		scope     string
		lifecycle string
	)
	if err := row.Scan(&role.ID, &role.Code, &role.Name, &role.Description, &category, &role.Level, &scope, &role.TenantID, &role.Priority, &role.IsDefault, &lifecycle, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	role.Category, _ = ParseCategory(category)
	role.Scope, _ = ParseScope(scope)
	role.Lifecycle, _ = ParseLifecycle(lifecycle)
	return role, nil
}

// GetRole fetches a role by normalized code within a (scope, tenant) pair.
func (r *Repository) GetRole(ctx context.Context, code string, scope Scope, tenantID uuid.UUID) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE code = $1 AND scope = $2 AND tenant_id = $3`, NormalizeCode(code), scope.String(), tenantID)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, fmt.Errorf("registry: get role: %w", err)
	}
	return role, nil
}

// GetRoleByID fetches a role by primary key.
func (r *Repository) GetRoleByID(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, fmt.Errorf("registry: get role by id: %w", err)
	}
	return role, nil
}

// InsertRole persists a new role definition.
func (r *Repository) InsertRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (code, name, description, category, level, scope, tenant_id, priority, is_default, lifecycle, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING `+roleColumns,
		role.Code, role.Name, role.Description, role.Category.String(), role.Level, role.Scope.String(), role.TenantID, role.Priority, role.IsDefault, role.Lifecycle.String())
	created, err := scanRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, shared.ErrDuplicate
		}
		return Role{}, fmt.Errorf("registry: insert role: %w", err)
	}
	return created, nil
}

// UpdateRoleLifecycle transitions a role's lifecycle state.
func (r *Repository) UpdateRoleLifecycle(ctx context.Context, id int64, lifecycle Lifecycle) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET lifecycle = $2, updated_at = NOW() WHERE id = $1`, id, lifecycle.String())
	if err != nil {
		return fmt.Errorf("registry: update role lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpsertPermission inserts a permission or returns the existing row for its
// normalized code. Permission codes are immutable once referenced by an
// edge, so the upsert never rewrites the code itself.
func (r *Repository) UpsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (code, name, description, lifecycle, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, updated_at = NOW()
		RETURNING id, code, name, description, lifecycle`,
		perm.Code, perm.Name, perm.Description, perm.Lifecycle.String())
	var (
		created   Permission
		lifecycle string
	)
	if err := row.Scan(&created.ID, &created.Code, &created.Name, &created.Description, &lifecycle); err != nil {
		return Permission{}, fmt.Errorf("registry: upsert permission: %w", err)
	}
	created.Lifecycle, _ = ParseLifecycle(lifecycle)
	return created, nil
}

// ListActivePermissionsForRole returns permissions reachable through ACTIVE
// edges of an ACTIVE role. Suspended or retired rows on either side simply
// drop out of the result; a stale edge is an implicit deny, not an error.
func (r *Repository) ListActivePermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.code, p.name, p.description, p.lifecycle
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN roles r ON r.id = rp.role_id
		WHERE rp.role_id = $1
		  AND rp.lifecycle = 'ACTIVE'
		  AND r.lifecycle = 'ACTIVE'
		  AND p.lifecycle = 'ACTIVE'
		ORDER BY p.code`, roleID)
	if err != nil {
		return nil, fmt.Errorf("registry: list role permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var (
			perm      Permission
			lifecycle string
		)
		if err := rows.Scan(&perm.ID, &perm.Code, &perm.Name, &perm.Description, &lifecycle); err != nil {
			return nil, fmt.Errorf("registry: scan permission: %w", err)
		}
		perm.Lifecycle, _ = ParseLifecycle(lifecycle)
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list role permissions: %w", err)
	}
	return perms, nil
}

// ReplaceRolePermissions swaps the edge set of a role inside one
// transaction. Existing edges missing from the new set are retired rather
// than deleted so the audit trail keeps the pairing.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE role_permissions SET lifecycle = 'RETIRED' WHERE role_id = $1 AND NOT (permission_id = ANY($2))`, roleID, permissionIDs); err != nil {
			return fmt.Errorf("registry: retire edges: %w", err)
		}
		for _, permID := range permissionIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id, lifecycle, created_at)
				VALUES ($1, $2, 'ACTIVE', NOW())
				ON CONFLICT (role_id, permission_id) DO UPDATE SET lifecycle = 'ACTIVE'`, roleID, permID); err != nil {
				return fmt.Errorf("registry: attach edge: %w", err)
			}
		}
		return nil
	})
}

// UpdateEdgeLifecycle suspends or reactivates a single role-permission edge.
func (r *Repository) UpdateEdgeLifecycle(ctx context.Context, roleID, permissionID int64, lifecycle Lifecycle) error {
	tag, err := r.pool.Exec(ctx, `UPDATE role_permissions SET lifecycle = $3 WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID, lifecycle.String())
	if err != nil {
		return fmt.Errorf("registry: update edge lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountAssignmentsForRole reports how many assignments reference the role.
// Roles with assignments are retired, never deleted.
func (r *Repository) CountAssignmentsForRole(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("registry: count assignments: %w", err)
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
