// Package assignment tracks which roles a principal currently holds and
// resolves the ordered active role set a decision runs against.
package assignment

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-suite/meridian-authz/internal/registry"
)

// UserRole assigns a role to a principal, optionally time-bounded.
type UserRole struct {
	ID          int64
	PrincipalID uuid.UUID
	TenantID    uuid.UUID
	RoleID      int64
	ValidFrom   time.Time
	ValidUntil  time.Time // zero value means open-ended
	Lifecycle   registry.Lifecycle
	CreatedAt   time.Time
}

// ActiveAt reports whether the assignment is live at the given instant.
func (a UserRole) ActiveAt(now time.Time) bool {
	if a.Lifecycle != registry.LifecycleActive {
		return false
	}
	if !a.ValidFrom.IsZero() && now.Before(a.ValidFrom) {
		return false
	}
	if !a.ValidUntil.IsZero() && !now.Before(a.ValidUntil) {
		return false
	}
	return true
}
