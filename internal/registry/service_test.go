package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

var testTenant = uuid.MustParse("4fd0bb40-7a6e-4f7e-9f3d-111111111111")

type stubRepo struct {
	roles       map[int64]Role
	inserted    *Role
	insertErr   error
	lifecycle   *Lifecycle
	assignments int64
	replaced    []int64
}

func (s *stubRepo) GetRole(_ context.Context, _ string, _ Scope, _ uuid.UUID) (Role, error) {
	return Role{}, nil
}

func (s *stubRepo) GetRoleByID(_ context.Context, id int64) (Role, error) {
	role, ok := s.roles[id]
	if !ok {
		return Role{}, errors.New("not found")
	}
	return role, nil
}

func (s *stubRepo) InsertRole(_ context.Context, role Role) (Role, error) {
	if s.insertErr != nil {
		return Role{}, s.insertErr
	}
	role.ID = 1
	s.inserted = &role
	return role, nil
}

func (s *stubRepo) UpdateRoleLifecycle(_ context.Context, _ int64, lifecycle Lifecycle) error {
	s.lifecycle = &lifecycle
	return nil
}

func (s *stubRepo) UpsertPermission(_ context.Context, perm Permission) (Permission, error) {
	perm.ID = 1
	return perm, nil
}

func (s *stubRepo) ListActivePermissionsForRole(_ context.Context, _ int64) ([]Permission, error) {
	return nil, nil
}

func (s *stubRepo) ReplaceRolePermissions(_ context.Context, _ int64, permissionIDs []int64) error {
	s.replaced = permissionIDs
	return nil
}

func (s *stubRepo) UpdateEdgeLifecycle(_ context.Context, _, _ int64, _ Lifecycle) error {
	return nil
}

func (s *stubRepo) CountAssignmentsForRole(_ context.Context, _ int64) (int64, error) {
	return s.assignments, nil
}

type recordingInvalidator struct {
	tenants []uuid.UUID
}

func (r *recordingInvalidator) InvalidateTenant(_ context.Context, tenantID uuid.UUID) error {
	r.tenants = append(r.tenants, tenantID)
	return nil
}

func TestCreateRoleNormalizesAndValidates(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateRole(context.Background(), Role{
		Code:     "  Tenant-Admin ",
		Category: CategoryTenantAdmin,
		Level:    60,
		Scope:    ScopeTenant,
		TenantID: testTenant,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Code != "tenant-admin" {
		t.Fatalf("expected normalized code, got %q", created.Code)
	}
	if created.Lifecycle != LifecycleActive {
		t.Fatalf("new roles start active, got %v", created.Lifecycle)
	}

	if _, err := svc.CreateRole(context.Background(), Role{Code: "x", Level: 0, Scope: ScopeTenant}); err == nil {
		t.Fatal("level below the floor must be rejected")
	}
	if _, err := svc.CreateRole(context.Background(), Role{Code: "x", Level: 201, Scope: ScopeTenant}); err == nil {
		t.Fatal("level above the ceiling must be rejected")
	}
	if _, err := svc.CreateRole(context.Background(), Role{Code: "   ", Level: 10, Scope: ScopeTenant}); err == nil {
		t.Fatal("blank code must be rejected")
	}
}

func TestCreateRoleGlobalScopeDropsTenant(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateRole(context.Background(), Role{
		Code:     "platform-support",
		Category: CategoryPlatformSupport,
		Level:    20,
		Scope:    ScopeGlobal,
		TenantID: testTenant,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.TenantID != uuid.Nil {
		t.Fatalf("global role must not keep a tenant, got %s", created.TenantID)
	}
}

func TestCreateRoleInvalidatesTenant(t *testing.T) {
	repo := &stubRepo{}
	inv := &recordingInvalidator{}
	svc := NewService(repo, inv, nil)

	_, err := svc.CreateRole(context.Background(), Role{Code: "member", Level: 120, Scope: ScopeTenant, TenantID: testTenant})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.tenants) != 1 || inv.tenants[0] != testTenant {
		t.Fatalf("expected one tenant invalidation, got %v", inv.tenants)
	}
}

func TestSetRoleLifecycleBlocksReferencedRetiredRole(t *testing.T) {
	repo := &stubRepo{
		roles:       map[int64]Role{7: {ID: 7, Code: "old", TenantID: testTenant, Lifecycle: LifecycleRetired}},
		assignments: 3,
	}
	svc := NewService(repo, nil, nil)

	if err := svc.SetRoleLifecycle(context.Background(), 7, LifecycleActive); err == nil {
		t.Fatal("retired role with live references must not reactivate")
	}
	if repo.lifecycle != nil {
		t.Fatal("lifecycle write must not happen on rejection")
	}
}

func TestSetRoleLifecycleAllowsUnreferencedRevival(t *testing.T) {
	repo := &stubRepo{
		roles: map[int64]Role{7: {ID: 7, Code: "old", TenantID: testTenant, Lifecycle: LifecycleRetired}},
	}
	inv := &recordingInvalidator{}
	svc := NewService(repo, inv, nil)

	if err := svc.SetRoleLifecycle(context.Background(), 7, LifecycleActive); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lifecycle == nil || *repo.lifecycle != LifecycleActive {
		t.Fatal("expected lifecycle write")
	}
	if len(inv.tenants) != 1 {
		t.Fatalf("expected invalidation, got %v", inv.tenants)
	}
}

func TestSetRolePermissionsInvalidates(t *testing.T) {
	repo := &stubRepo{
		roles: map[int64]Role{7: {ID: 7, Code: "member", TenantID: testTenant, Lifecycle: LifecycleActive}},
	}
	inv := &recordingInvalidator{}
	svc := NewService(repo, inv, nil)

	if err := svc.SetRolePermissions(context.Background(), 7, []int64{1, 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.replaced) != 2 {
		t.Fatalf("expected edge replacement, got %v", repo.replaced)
	}
	if len(inv.tenants) != 1 {
		t.Fatalf("expected invalidation, got %v", inv.tenants)
	}
}

func TestEnsurePermissionNormalizesCode(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil)

	perm, err := svc.EnsurePermission(context.Background(), " Invoices:Read ", "Read invoices", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if perm.Code != "invoices:read" {
		t.Fatalf("expected normalized code, got %q", perm.Code)
	}

	if _, err := svc.EnsurePermission(context.Background(), "  ", "blank", ""); err == nil {
		t.Fatal("blank permission code must be rejected")
	}
}
