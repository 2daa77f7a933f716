package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-suite/meridian-authz/internal/policy"
	"github.com/meridian-suite/meridian-authz/internal/registry"
	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// RepositoryPort defines data access methods for assignments.
type RepositoryPort interface {
	ListActiveRoles(ctx context.Context, principalID, tenantID uuid.UUID, now time.Time) ([]registry.Role, error)
	CountActive(ctx context.Context, principalID, tenantID uuid.UUID, now time.Time) (int, error)
	Insert(ctx context.Context, ur UserRole) (UserRole, error)
	Retire(ctx context.Context, principalID, tenantID uuid.UUID, roleID int64) error
}

// Invalidator drops cached verdicts for a principal after an assignment
// write.
type Invalidator interface {
	InvalidatePrincipal(ctx context.Context, tenantID, principalID uuid.UUID) error
}

// Auditor records assignment mutations in the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Store resolves the ordered active role set for a principal and owns the
// assignment write path.
type Store struct {
	repo        RepositoryPort
	invalidator Invalidator
	audit       Auditor
	logger      *slog.Logger
	now         func() time.Time
}

// NewStore constructs a Store.
func NewStore(repo RepositoryPort, invalidator Invalidator, logger *slog.Logger) *Store {
	return &Store{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetInvalidator late-binds the decision cache once it exists.
func (s *Store) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// SetAuditor attaches the audit trail writer.
func (s *Store) SetAuditor(a Auditor) {
	s.audit = a
}

// ActiveRolesFor returns the principal's live role set, filtered and ordered
// per the active policy.
//
// An over-limit assignment count is a data-integrity violation: enforcement
// belongs at assignment time, so resolution refuses to guess which roles to
// drop. Truncation could silently remove a deny-bearing role and widen
// access, so the store fails closed instead.
func (s *Store) ActiveRolesFor(ctx context.Context, principalID, tenantID uuid.UUID, pol policy.Policy) ([]registry.Role, error) {
	roles, err := s.repo.ListActiveRoles(ctx, principalID, tenantID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUpstreamUnavailable, err)
	}
	if pol.MaxConcurrentRoles > 0 && len(roles) > pol.MaxConcurrentRoles {
		s.log().Warn("active assignments exceed policy limit",
			slog.String("principal", principalID.String()),
			slog.String("tenant", tenantID.String()),
			slog.Int("held", len(roles)),
			slog.Int("limit", pol.MaxConcurrentRoles))
		return nil, shared.ErrAssignmentLimitExceeded
	}
	filtered := FilterForTenant(roles, tenantID, pol)
	OrderRoles(filtered, pol)
	return filtered, nil
}

// Assign grants a role to a principal, enforcing the concurrency limit at
// write time.
func (s *Store) Assign(ctx context.Context, ur UserRole, pol policy.Policy) (UserRole, error) {
	if pol.MaxConcurrentRoles > 0 {
		held, err := s.repo.CountActive(ctx, ur.PrincipalID, ur.TenantID, s.now())
		if err != nil {
			return UserRole{}, err
		}
		if held >= pol.MaxConcurrentRoles {
			return UserRole{}, shared.ErrAssignmentLimitExceeded
		}
	}
	created, err := s.repo.Insert(ctx, ur)
	if err != nil {
		return UserRole{}, err
	}
	if err := s.invalidate(ctx, created.TenantID, created.PrincipalID); err != nil {
		return UserRole{}, err
	}
	s.recordAudit(ctx, "assignment.create", created.PrincipalID, created.TenantID, created.RoleID)
	s.log().Info("role assigned",
		slog.String("principal", created.PrincipalID.String()),
		slog.Int64("role_id", created.RoleID))
	return created, nil
}

// Revoke ends an assignment and flushes the principal's cached verdicts
// before acknowledging.
func (s *Store) Revoke(ctx context.Context, principalID, tenantID uuid.UUID, roleID int64) error {
	if err := s.repo.Retire(ctx, principalID, tenantID, roleID); err != nil {
		return err
	}
	if err := s.invalidate(ctx, tenantID, principalID); err != nil {
		return err
	}
	s.recordAudit(ctx, "assignment.revoke", principalID, tenantID, roleID)
	s.log().Info("role revoked",
		slog.String("principal", principalID.String()),
		slog.Int64("role_id", roleID))
	return nil
}

func (s *Store) invalidate(ctx context.Context, tenantID, principalID uuid.UUID) error {
	if s.invalidator == nil {
		return nil
	}
	if err := s.invalidator.InvalidatePrincipal(ctx, tenantID, principalID); err != nil {
		return fmt.Errorf("assignment: invalidate: %w", err)
	}
	return nil
}

// recordAudit is best effort: the mutation and its invalidation already
// happened, a full audit table must not roll them back.
func (s *Store) recordAudit(ctx context.Context, action string, principalID, tenantID uuid.UUID, roleID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  principalID.String(),
		Action:   action,
		Entity:   "user_role",
		EntityID: fmt.Sprintf("%d", roleID),
		TenantID: tenantID.String(),
	})
}

func (s *Store) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(slog.String("component", "assignment"))
	}
	return slog.Default().With(slog.String("component", "assignment"))
}

// FilterForTenant drops roles invisible to the request's tenant context:
// TENANT-scope roles owned by a different tenant always, GLOBAL roles when
// the policy opts out of global rules.
func FilterForTenant(roles []registry.Role, tenantID uuid.UUID, pol policy.Policy) []registry.Role {
	filtered := make([]registry.Role, 0, len(roles))
	for _, role := range roles {
		if !role.Active() {
			continue
		}
		switch role.Scope {
		case registry.ScopeTenant:
			if role.TenantID != tenantID {
				continue
			}
		case registry.ScopeGlobal:
			if !pol.ApplyGlobalRules {
				continue
			}
		}
		filtered = append(filtered, role)
	}
	return filtered
}

// OrderRoles sorts in place: by priority in the policy's direction when role
// priority participates, by level ascending otherwise. The (level, priority,
// code) tail keeps equally ranked roles in one deterministic order.
func OrderRoles(roles []registry.Role, pol policy.Policy) {
	sort.SliceStable(roles, func(i, j int) bool {
		a, b := roles[i], roles[j]
		if pol.UseRolePriority && a.Priority != b.Priority {
			if pol.PriorityDirection == policy.PriorityDesc {
				return a.Priority > b.Priority
			}
			return a.Priority < b.Priority
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Code < b.Code
	})
}
