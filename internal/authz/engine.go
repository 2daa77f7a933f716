package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-suite/meridian-authz/internal/policy"
	"github.com/meridian-suite/meridian-authz/internal/registry"
	"github.com/meridian-suite/meridian-authz/internal/shared"
)

// RoleSource resolves a principal's ordered active role set.
type RoleSource interface {
	ActiveRolesFor(ctx context.Context, principalID, tenantID uuid.UUID, pol policy.Policy) ([]registry.Role, error)
}

// PermissionSource lists the permissions granted through active edges.
type PermissionSource interface {
	ListPermissionsForRole(ctx context.Context, roleID int64) ([]registry.Permission, error)
}

// PolicySource resolves the active conflict policy for a tenant/scope pair.
type PolicySource interface {
	ActivePolicyFor(ctx context.Context, tenantID uuid.UUID, scope registry.Scope) (policy.Policy, error)
}

// Engine computes authorization verdicts. It is stateless per call: for a
// fixed role set, edge set, and policy, Authorize is a pure function.
type Engine struct {
	roles    RoleSource
	perms    PermissionSource
	policies PolicySource
	logger   *slog.Logger
}

// NewEngine wires the engine's three sources.
func NewEngine(roles RoleSource, perms PermissionSource, policies PolicySource, logger *slog.Logger) *Engine {
	return &Engine{roles: roles, perms: perms, policies: policies, logger: logger}
}

// Authorize answers whether the principal may exercise the permission within
// the tenant. Missing configuration, integrity violations, and upstream
// failures all resolve to Deny; the returned error carries the taxonomy for
// callers that distinguish them.
func (e *Engine) Authorize(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (Verdict, error) {
	verdict, err := e.decide(ctx, principalID, tenantID, permissionCode)
	verdict.Trace = nil
	return verdict, err
}

// ExplainAuthorize is Authorize with the full per-role trace retained, for
// audit UIs and support tooling.
func (e *Engine) ExplainAuthorize(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (Verdict, error) {
	return e.decide(ctx, principalID, tenantID, permissionCode)
}

func (e *Engine) decide(ctx context.Context, principalID, tenantID uuid.UUID, permissionCode string) (Verdict, error) {
	scope := registry.ScopeTenant
	if tenantID == uuid.Nil {
		scope = registry.ScopeGlobal
	}

	pol, err := e.policies.ActivePolicyFor(ctx, tenantID, scope)
	if err != nil {
		if errors.Is(err, shared.ErrPolicyMissing) {
			e.log().Error("no active conflict policy; provisioning defect",
				slog.String("tenant", tenantID.String()),
				slog.String("scope", scope.String()))
			return Verdict{Decision: Deny, Reason: ReasonPolicyMissing}, err
		}
		return e.failClosed(ctx, err)
	}

	roles, err := e.roles.ActiveRolesFor(ctx, principalID, tenantID, pol)
	if err != nil {
		if errors.Is(err, shared.ErrAssignmentLimitExceeded) {
			return Verdict{Decision: Deny, Reason: ReasonAssignmentLimit, Strategy: pol.Strategy.String()}, err
		}
		return e.failClosed(ctx, err)
	}
	if len(roles) == 0 {
		return Verdict{Decision: Deny, Reason: ReasonNoRoles, Strategy: pol.Strategy.String()}, nil
	}

	fingerprint := Fingerprint(roles)

	// Admin short-circuit: when the policy does not constrain admin
	// categories, the most privileged role being an admin tier decides
	// immediately.
	if !pol.ApplyToAdmins {
		if top := highestTrust(roles); top.Category.IsAdmin() {
			return Verdict{
				Decision:     Allow,
				DecidingRole: top.Code,
				Reason:       ReasonAdminExempt,
				Strategy:     pol.Strategy.String(),
				Fingerprint:  fingerprint,
				Trace:        []TraceEntry{{RoleCode: top.Code, Level: top.Level, Priority: top.Priority, Decision: Allow}},
			}, nil
		}
	}

	permissionCode = registry.NormalizeCode(permissionCode)
	locals := make([]localVerdict, 0, len(roles))
	trace := make([]TraceEntry, 0, len(roles))
	for _, role := range roles {
		perms, err := e.perms.ListPermissionsForRole(ctx, role.ID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				// Stale edge to a deactivated row: implicit deny for this
				// role, not a hard failure.
				perms = nil
			} else {
				return e.failClosed(ctx, err)
			}
		}
		lv := localVerdict{role: role, allowed: grantsPermission(perms, permissionCode)}
		locals = append(locals, lv)
		trace = append(trace, TraceEntry{RoleCode: role.Code, Level: role.Level, Priority: role.Priority, Decision: localDecision(lv)})
	}

	decision, usedFallback := combine(locals, pol)
	reason := ReasonResolved
	if usedFallback {
		reason = ReasonMergeFallback
		e.log().Warn("policy carries unrecognized conflict strategy, merge rule applied",
			slog.String("tenant", tenantID.String()),
			slog.String("policy", pol.Code),
			slog.String("merge_rule", pol.EffectiveMergeRule().String()))
	}

	verdict := Verdict{
		Decision:    decision,
		Reason:      reason,
		Strategy:    pol.Strategy.String(),
		Fingerprint: fingerprint,
		Trace:       trace,
	}
	if role, ok := decidingRole(locals, decision); ok {
		verdict.DecidingRole = role.Code
	}
	return verdict, nil
}

// failClosed maps an unexpected fetch failure onto a deny verdict. Context
// expiry is included: a check that cannot complete before its deadline must
// not fall back to guessing.
func (e *Engine) failClosed(ctx context.Context, err error) (Verdict, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	if !errors.Is(err, shared.ErrUpstreamUnavailable) {
		err = fmt.Errorf("%w: %v", shared.ErrUpstreamUnavailable, err)
	}
	return Verdict{Decision: Deny, Reason: ReasonUpstream}, err
}

func grantsPermission(perms []registry.Permission, code string) bool {
	for _, perm := range perms {
		if perm.Lifecycle == registry.LifecycleActive && perm.Code == code {
			return true
		}
	}
	return false
}

// highestTrust returns the most privileged role: lowest level, with the
// (priority, code) tail making the choice deterministic for equal levels.
func highestTrust(roles []registry.Role) registry.Role {
	best := roles[0]
	for _, role := range roles[1:] {
		if lessByTrust(role, best) {
			best = role
		}
	}
	return best
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger.With(slog.String("component", "authz_engine"))
	}
	return slog.Default().With(slog.String("component", "authz_engine"))
}
