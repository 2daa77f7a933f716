package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// RepositoryPort defines data access methods for the registry.
type RepositoryPort interface {
	GetRole(ctx context.Context, code string, scope Scope, tenantID uuid.UUID) (Role, error)
	GetRoleByID(ctx context.Context, id int64) (Role, error)
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRoleLifecycle(ctx context.Context, id int64, lifecycle Lifecycle) error
	UpsertPermission(ctx context.Context, perm Permission) (Permission, error)
	ListActivePermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	UpdateEdgeLifecycle(ctx context.Context, roleID, permissionID int64, lifecycle Lifecycle) error
	CountAssignmentsForRole(ctx context.Context, roleID int64) (int64, error)
}

// Invalidator drops cached verdicts affected by a registry write. Writes are
// not acknowledged to the caller until invalidation has completed, so a
// revoked grant can never outlive the write that revoked it.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error
}

// Auditor records registry mutations in the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes the role and permission registry. The read path is
// side-effect free; every write funnels through the invalidator.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	audit       Auditor
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, invalidator Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, invalidator: invalidator, logger: logger}
}

// SetInvalidator late-binds the decision cache. The cache wraps the engine
// and the engine reads through this service, so the invalidator cannot exist
// yet when the service is constructed.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// SetAuditor attaches the audit trail writer.
func (s *Service) SetAuditor(a Auditor) {
	s.audit = a
}

// GetRole fetches a role definition by code within a (scope, tenant) pair.
func (s *Service) GetRole(ctx context.Context, code string, scope Scope, tenantID uuid.UUID) (Role, error) {
	return s.repo.GetRole(ctx, code, scope, tenantID)
}

// ListPermissionsForRole returns the permissions granted through ACTIVE
// edges of an ACTIVE role. Suspended roles and edges contribute nothing.
func (s *Service) ListPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.repo.ListActivePermissionsForRole(ctx, roleID)
}

// CreateRole registers a new role definition.
func (s *Service) CreateRole(ctx context.Context, role Role) (Role, error) {
	role.Code = NormalizeCode(role.Code)
	if role.Code == "" {
		return Role{}, fmt.Errorf("registry: role code required")
	}
	if !ValidLevel(role.Level) {
		return Role{}, fmt.Errorf("registry: role level %d outside [%d,%d]", role.Level, MinLevel, MaxLevel)
	}
	if role.Scope == ScopeGlobal {
		role.TenantID = uuid.Nil
	}
	role.Lifecycle = LifecycleActive
	created, err := s.repo.InsertRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	if err := s.invalidate(ctx, created.TenantID); err != nil {
		return Role{}, err
	}
	s.recordAudit(ctx, "role.create", "role", fmt.Sprintf("%d", created.ID), created.TenantID, map[string]any{"code": created.Code, "level": created.Level})
	s.log().Info("role created",
		slog.String("code", created.Code),
		slog.String("scope", created.Scope.String()),
		slog.Int("level", created.Level))
	return created, nil
}

// SetRoleLifecycle transitions a role between Active, Suspended, and
// Retired. A role referenced by assignments cannot go back from Retired.
func (s *Service) SetRoleLifecycle(ctx context.Context, roleID int64, lifecycle Lifecycle) error {
	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Lifecycle == LifecycleRetired && lifecycle != LifecycleRetired {
		count, err := s.repo.CountAssignmentsForRole(ctx, roleID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("registry: role %s is retired and referenced by %d assignments", role.Code, count)
		}
	}
	if err := s.repo.UpdateRoleLifecycle(ctx, roleID, lifecycle); err != nil {
		return err
	}
	if err := s.invalidate(ctx, role.TenantID); err != nil {
		return err
	}
	s.recordAudit(ctx, "role.lifecycle", "role", fmt.Sprintf("%d", roleID), role.TenantID, map[string]any{"code": role.Code, "lifecycle": lifecycle.String()})
	s.log().Info("role lifecycle changed",
		slog.String("code", role.Code),
		slog.String("lifecycle", lifecycle.String()))
	return nil
}

// EnsurePermission upserts a permission definition by normalized code.
func (s *Service) EnsurePermission(ctx context.Context, code, name, description string) (Permission, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Permission{}, fmt.Errorf("registry: permission code required")
	}
	return s.repo.UpsertPermission(ctx, Permission{
		Code:        code,
		Name:        name,
		Description: description,
		Lifecycle:   LifecycleActive,
	})
}

// SetRolePermissions replaces the permission edge set of a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	if err := s.invalidate(ctx, role.TenantID); err != nil {
		return err
	}
	s.recordAudit(ctx, "role.permissions", "role", fmt.Sprintf("%d", roleID), role.TenantID, map[string]any{"code": role.Code, "count": len(permissionIDs)})
	s.log().Info("role permissions replaced",
		slog.String("code", role.Code),
		slog.Int("count", len(permissionIDs)))
	return nil
}

// SetEdgeLifecycle suspends or reactivates a single role-permission edge.
func (s *Service) SetEdgeLifecycle(ctx context.Context, roleID, permissionID int64, lifecycle Lifecycle) error {
	role, err := s.repo.GetRoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateEdgeLifecycle(ctx, roleID, permissionID, lifecycle); err != nil {
		return err
	}
	if err := s.invalidate(ctx, role.TenantID); err != nil {
		return err
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, tenantID uuid.UUID) error {
	if s.invalidator == nil {
		return nil
	}
	// A GLOBAL role change can affect every tenant's resolution; the zero
	// tenant key flushes the whole decision keyspace.
	if err := s.invalidator.InvalidateTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("registry: invalidate: %w", err)
	}
	return nil
}

// recordAudit is best effort: a full audit_logs table must not block a
// registry write once the cache is already invalidated.
func (s *Service) recordAudit(ctx context.Context, action, entity, entityID string, tenantID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		TenantID: tenantID.String(),
		Meta:     meta,
	})
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(slog.String("component", "registry"))
	}
	return slog.Default().With(slog.String("component", "registry"))
}
