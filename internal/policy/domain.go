// Package policy holds the per-tenant conflict resolution configuration:
// how simultaneously held roles combine into one verdict.
package policy

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-suite/meridian-authz/internal/registry"
)

// ConflictStrategy names the algorithm used to combine local verdicts.
// StrategyUnknown is the zero value; a policy row carrying an unrecognized
// string parses to it and the engine falls back to the merge rule.
type ConflictStrategy int

const (
	StrategyUnknown ConflictStrategy = iota
	StrategyDenyOverride
	StrategyAllowUnion
	StrategyPriorityBased
	StrategyMostRestrictive
)

var strategyNames = map[ConflictStrategy]string{
	StrategyDenyOverride:    "DENY_OVERRIDE",
	StrategyAllowUnion:      "ALLOW_UNION",
	StrategyPriorityBased:   "PRIORITY_BASED",
	StrategyMostRestrictive: "MOST_RESTRICTIVE",
}

// String returns the storage representation.
func (s ConflictStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseStrategy maps a stored value onto the closed strategy set.
func ParseStrategy(raw string) (ConflictStrategy, bool) {
	for strategy, name := range strategyNames {
		if name == raw {
			return strategy, true
		}
	}
	return StrategyUnknown, false
}

// PriorityDirection orders roles when priority participates in resolution.
type PriorityDirection int

const (
	PriorityAsc PriorityDirection = iota
	PriorityDesc
)

// String returns the storage representation.
func (d PriorityDirection) String() string {
	if d == PriorityDesc {
		return "DESC"
	}
	return "ASC"
}

// ParseDirection maps a stored value onto the closed direction set.
func ParseDirection(raw string) (PriorityDirection, bool) {
	switch raw {
	case "ASC":
		return PriorityAsc, true
	case "DESC":
		return PriorityDesc, true
	}
	return PriorityAsc, false
}

// Policy governs how a principal's active roles combine. Exactly one ACTIVE
// policy exists per (tenant, scope) pair; its absence is a provisioning
// defect, not a default.
type Policy struct {
	ID       int64
	Code     string
	TenantID uuid.UUID
	Scope    registry.Scope

	Strategy  ConflictStrategy
	MergeRule ConflictStrategy

	// MaxConcurrentRoles bounds the active assignment set; zero means
	// unlimited.
	MaxConcurrentRoles int

	UseRolePriority   bool
	PriorityDirection PriorityDirection
	ApplyGlobalRules  bool
	ApplyToAdmins     bool

	IsSystem  bool
	Lifecycle registry.Lifecycle
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveMergeRule returns the tie-break strategy, defaulting to
// DENY_OVERRIDE when the stored merge rule is itself unrecognized.
func (p Policy) EffectiveMergeRule() ConflictStrategy {
	if p.MergeRule == StrategyUnknown {
		return StrategyDenyOverride
	}
	return p.MergeRule
}
