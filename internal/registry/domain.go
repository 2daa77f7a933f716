// Package registry owns role and permission definitions. Definitions are
// immutable per version: a role is retired, never deleted, once an
// assignment references it, and a permission code is never renamed once a
// role-permission edge exists.
package registry

import (
	"time"

	"github.com/google/uuid"
)

// Category is the coarse trust tier of a role.
type Category int

const (
	CategoryTenantUser Category = iota
	CategoryTenantAdmin
	CategoryPlatformSupport
	CategoryManagerAdmin
)

var categoryNames = map[Category]string{
	CategoryTenantUser:      "TENANT_USER",
	CategoryTenantAdmin:     "TENANT_ADMIN",
	CategoryPlatformSupport: "PLATFORM_SUPPORT",
	CategoryManagerAdmin:    "MANAGER_ADMIN",
}

// String returns the storage representation.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "TENANT_USER"
}

// ParseCategory maps a stored value onto the closed Category set.
func ParseCategory(raw string) (Category, bool) {
	for cat, name := range categoryNames {
		if name == raw {
			return cat, true
		}
	}
	return CategoryTenantUser, false
}

// IsAdmin reports whether the category participates in the admin
// short-circuit.
func (c Category) IsAdmin() bool {
	return c == CategoryManagerAdmin || c == CategoryTenantAdmin
}

// Scope bounds role visibility to a tenant or the whole platform.
type Scope int

const (
	ScopeTenant Scope = iota
	ScopeGlobal
)

// String returns the storage representation.
func (s Scope) String() string {
	if s == ScopeGlobal {
		return "GLOBAL"
	}
	return "TENANT"
}

// ParseScope maps a stored value onto the closed Scope set.
func ParseScope(raw string) (Scope, bool) {
	switch raw {
	case "GLOBAL":
		return ScopeGlobal, true
	case "TENANT":
		return ScopeTenant, true
	}
	return ScopeTenant, false
}

// Lifecycle replaces the is_active/is_deleted flag pair: an entity is
// queryable only while Active.
type Lifecycle int

const (
	LifecycleActive Lifecycle = iota
	LifecycleSuspended
	LifecycleRetired
)

var lifecycleNames = map[Lifecycle]string{
	LifecycleActive:    "ACTIVE",
	LifecycleSuspended: "SUSPENDED",
	LifecycleRetired:   "RETIRED",
}

// String returns the storage representation.
func (l Lifecycle) String() string {
	if name, ok := lifecycleNames[l]; ok {
		return name
	}
	return "RETIRED"
}

// ParseLifecycle maps a stored value onto the closed Lifecycle set.
// Unknown values parse as Retired so that a corrupt row grants nothing.
func ParseLifecycle(raw string) (Lifecycle, bool) {
	for lc, name := range lifecycleNames {
		if name == raw {
			return lc, true
		}
	}
	return LifecycleRetired, false
}

// Level bounds for the role trust hierarchy. Lower is more privileged.
const (
	MinLevel = 1
	MaxLevel = 200
)

// Role is a named capability bundle.
type Role struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Category    Category
	Level       int
	Scope       Scope
	TenantID    uuid.UUID // uuid.Nil for GLOBAL roles
	Priority    int
	IsDefault   bool
	Lifecycle   Lifecycle
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the role may contribute to a decision.
func (r Role) Active() bool {
	return r.Lifecycle == LifecycleActive
}

// Permission is an atomic capability identifier such as "invoices:read".
type Permission struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Lifecycle   Lifecycle
}

// RolePermission is the many-to-many edge between a role and a permission.
// A suspended edge stops contributing without touching either endpoint.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	Lifecycle    Lifecycle
	CreatedAt    time.Time
}

// ValidLevel reports whether a level sits inside the trust hierarchy bounds.
func ValidLevel(level int) bool {
	return level >= MinLevel && level <= MaxLevel
}
