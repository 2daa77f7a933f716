package assignment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-suite/meridian-authz/internal/policy"
	"github.com/meridian-suite/meridian-authz/internal/registry"
	"github.com/meridian-suite/meridian-authz/internal/shared"
)

var (
	tenantA   = uuid.MustParse("0d4c2f6e-8a1b-4c3d-9e5f-aaaaaaaaaaaa")
	tenantB   = uuid.MustParse("0d4c2f6e-8a1b-4c3d-9e5f-bbbbbbbbbbbb")
	principal = uuid.MustParse("0d4c2f6e-8a1b-4c3d-9e5f-cccccccccccc")
)

type stubRepo struct {
	roles     []registry.Role
	listErr   error
	count     int
	countErr  error
	inserted  *UserRole
	insertErr error
	retired   bool
	retireErr error
}

func (s *stubRepo) ListActiveRoles(_ context.Context, _, _ uuid.UUID, _ time.Time) ([]registry.Role, error) {
	return s.roles, s.listErr
}

func (s *stubRepo) CountActive(_ context.Context, _, _ uuid.UUID, _ time.Time) (int, error) {
	return s.count, s.countErr
}

func (s *stubRepo) Insert(_ context.Context, ur UserRole) (UserRole, error) {
	if s.insertErr != nil {
		return UserRole{}, s.insertErr
	}
	ur.ID = 1
	s.inserted = &ur
	return ur, nil
}

func (s *stubRepo) Retire(_ context.Context, _, _ uuid.UUID, _ int64) error {
	s.retired = true
	return s.retireErr
}

type recordingInvalidator struct {
	calls []uuid.UUID
	err   error
}

func (r *recordingInvalidator) InvalidatePrincipal(_ context.Context, _, principalID uuid.UUID) error {
	r.calls = append(r.calls, principalID)
	return r.err
}

func tenantRole(code string, level, priority int, tenantID uuid.UUID) registry.Role {
	return registry.Role{
		Code:      code,
		Category:  registry.CategoryTenantUser,
		Level:     level,
		Scope:     registry.ScopeTenant,
		TenantID:  tenantID,
		Priority:  priority,
		Lifecycle: registry.LifecycleActive,
	}
}

func TestActiveRolesForFiltersAndOrders(t *testing.T) {
	global := registry.Role{Code: "support", Level: 20, Priority: 20, Scope: registry.ScopeGlobal, Lifecycle: registry.LifecycleActive}
	suspended := tenantRole("frozen", 5, 5, tenantA)
	suspended.Lifecycle = registry.LifecycleSuspended
	repo := &stubRepo{roles: []registry.Role{
		tenantRole("member", 120, 120, tenantA),
		tenantRole("admin", 60, 60, tenantA),
		tenantRole("intruder", 10, 10, tenantB),
		suspended,
		global,
	}}
	store := NewStore(repo, nil, nil)
	pol := policy.Policy{ApplyGlobalRules: true}

	roles, err := store.ActiveRolesFor(context.Background(), principal, tenantA, pol)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := make([]string, len(roles))
	for i, r := range roles {
		got[i] = r.Code
	}
	want := []string{"support", "admin", "member"}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

func TestActiveRolesForExcludesGlobalWhenPolicySaysSo(t *testing.T) {
	global := registry.Role{Code: "support", Level: 20, Priority: 20, Scope: registry.ScopeGlobal, Lifecycle: registry.LifecycleActive}
	repo := &stubRepo{roles: []registry.Role{global, tenantRole("member", 120, 120, tenantA)}}
	store := NewStore(repo, nil, nil)

	roles, err := store.ActiveRolesFor(context.Background(), principal, tenantA, policy.Policy{ApplyGlobalRules: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0].Code != "member" {
		t.Fatalf("expected only the tenant role, got %+v", roles)
	}
}

func TestActiveRolesForLimitViolationFailsClosed(t *testing.T) {
	repo := &stubRepo{roles: []registry.Role{
		tenantRole("a", 10, 1, tenantA),
		tenantRole("b", 20, 2, tenantA),
		tenantRole("c", 30, 3, tenantA),
	}}
	store := NewStore(repo, nil, nil)
	pol := policy.Policy{MaxConcurrentRoles: 2, ApplyGlobalRules: true}

	_, err := store.ActiveRolesFor(context.Background(), principal, tenantA, pol)
	if !errors.Is(err, shared.ErrAssignmentLimitExceeded) {
		t.Fatalf("expected ErrAssignmentLimitExceeded, got %v", err)
	}
}

func TestActiveRolesForWrapsRepoFailure(t *testing.T) {
	repo := &stubRepo{listErr: errors.New("dial tcp: connection refused")}
	store := NewStore(repo, nil, nil)

	_, err := store.ActiveRolesFor(context.Background(), principal, tenantA, policy.Policy{})
	if !errors.Is(err, shared.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestOrderRolesByPriorityDirection(t *testing.T) {
	pol := policy.Policy{UseRolePriority: true, PriorityDirection: policy.PriorityDesc}
	roles := []registry.Role{
		tenantRole("low", 10, 1, tenantA),
		tenantRole("high", 90, 9, tenantA),
	}
	OrderRoles(roles, pol)
	if roles[0].Code != "high" {
		t.Fatalf("descending priority should lead with high, got %q", roles[0].Code)
	}

	pol.PriorityDirection = policy.PriorityAsc
	OrderRoles(roles, pol)
	if roles[0].Code != "low" {
		t.Fatalf("ascending priority should lead with low, got %q", roles[0].Code)
	}
}

func TestAssignEnforcesLimit(t *testing.T) {
	repo := &stubRepo{count: 3}
	store := NewStore(repo, nil, nil)
	pol := policy.Policy{MaxConcurrentRoles: 3}

	_, err := store.Assign(context.Background(), UserRole{PrincipalID: principal, TenantID: tenantA, RoleID: 7}, pol)
	if !errors.Is(err, shared.ErrAssignmentLimitExceeded) {
		t.Fatalf("expected ErrAssignmentLimitExceeded, got %v", err)
	}
	if repo.inserted != nil {
		t.Fatal("insert must not happen once the limit is reached")
	}
}

func TestAssignInvalidatesPrincipal(t *testing.T) {
	repo := &stubRepo{}
	inv := &recordingInvalidator{}
	store := NewStore(repo, inv, nil)

	_, err := store.Assign(context.Background(), UserRole{PrincipalID: principal, TenantID: tenantA, RoleID: 7}, policy.Policy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.calls) != 1 || inv.calls[0] != principal {
		t.Fatalf("expected one invalidation for the principal, got %v", inv.calls)
	}
}

func TestRevokeInvalidatesPrincipal(t *testing.T) {
	repo := &stubRepo{}
	inv := &recordingInvalidator{}
	store := NewStore(repo, inv, nil)

	if err := store.Revoke(context.Background(), principal, tenantA, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.retired {
		t.Fatal("expected the assignment to be retired")
	}
	if len(inv.calls) != 1 {
		t.Fatalf("expected one invalidation, got %d", len(inv.calls))
	}
}

func TestRevokeSurfacesInvalidationFailure(t *testing.T) {
	repo := &stubRepo{}
	inv := &recordingInvalidator{err: errors.New("redis down")}
	store := NewStore(repo, inv, nil)

	if err := store.Revoke(context.Background(), principal, tenantA, 7); err == nil {
		t.Fatal("expected the invalidation failure to surface")
	}
}

func TestUserRoleActiveAt(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	base := UserRole{Lifecycle: registry.LifecycleActive}

	if !base.ActiveAt(now) {
		t.Fatal("open-ended active assignment should be live")
	}

	future := base
	future.ValidFrom = now.Add(time.Hour)
	if future.ActiveAt(now) {
		t.Fatal("assignment before valid_from must not be live")
	}

	expired := base
	expired.ValidUntil = now.Add(-time.Hour)
	if expired.ActiveAt(now) {
		t.Fatal("assignment past valid_until must not be live")
	}

	boundary := base
	boundary.ValidUntil = now
	if boundary.ActiveAt(now) {
		t.Fatal("valid_until is exclusive")
	}

	retired := base
	retired.Lifecycle = registry.LifecycleRetired
	if retired.ActiveAt(now) {
		t.Fatal("retired assignment must not be live")
	}
}
