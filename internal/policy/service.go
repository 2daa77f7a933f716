package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-suite/meridian-authz/internal/registry"
	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// RepositoryPort defines data access methods for conflict policies.
type RepositoryPort interface {
	GetActive(ctx context.Context, tenantID uuid.UUID, scope registry.Scope) (Policy, error)
	Upsert(ctx context.Context, pol Policy) (Policy, error)
}

// Invalidator drops cached verdicts affected by a policy write.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error
}

// Auditor records policy mutations in the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service resolves and administers conflict policies.
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

// SetInvalidator late-binds the decision cache once it exists.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// SetAuditor attaches the audit trail writer.
func (s *Service) SetAuditor(a Auditor) {
	s.audit = a
}

// ActivePolicyFor returns the single ACTIVE policy for a (tenant, scope)
// pair. Absence surfaces as shared.ErrPolicyMissing: every tenant receives a
// system-seeded default at provisioning, so a miss is an operator problem.
func (s *Service) ActivePolicyFor(ctx context.Context, tenantID uuid.UUID, scope registry.Scope) (Policy, error) {
	return s.repo.GetActive(ctx, tenantID, scope)
}

// UpsertPolicy writes a policy and flushes affected verdicts before the
// write is acknowledged. Tenants cannot overwrite platform-seeded policies.
func (s *Service) UpsertPolicy(ctx context.Context, pol Policy, actorIsPlatform bool) (Policy, error) {
	if pol.Code == "" {
		return Policy{}, fmt.Errorf("policy: code required")
	}
	existing, err := s.repo.GetActive(ctx, pol.TenantID, pol.Scope)
	if err == nil && existing.IsSystem && !actorIsPlatform {
		return Policy{}, fmt.Errorf("policy: %s: %w", existing.Code, shared.ErrSystemPolicy)
	}
	stored, err := s.repo.Upsert(ctx, pol)
	if err != nil {
		return Policy{}, err
	}
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateTenant(ctx, stored.TenantID); err != nil {
			return Policy{}, fmt.Errorf("policy: invalidate: %w", err)
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "policy.upsert",
			Entity:   "policy",
			EntityID: stored.Code,
			TenantID: stored.TenantID.String(),
			Meta:     map[string]any{"strategy": stored.Strategy.String(), "scope": stored.Scope.String()},
		})
	}
	s.log().Info("policy upserted",
		slog.String("code", stored.Code),
		slog.String("strategy", stored.Strategy.String()),
		slog.String("scope", stored.Scope.String()))
	return stored, nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(slog.String("component", "policy"))
	}
	return slog.Default().With(slog.String("component", "policy"))
}
