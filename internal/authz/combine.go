package authz

import (
	"github.com/meridian-suite/meridian-authz/internal/policy"
	"github.com/meridian-suite/meridian-authz/internal/registry"
)

// localVerdict is one role's isolated outcome for the requested permission.
// Absence of an active grant edge is an implicit deny; the schema has no
// explicit per-role deny record.
type localVerdict struct {
	role    registry.Role
	allowed bool
}

// combine folds the local verdicts into one decision under the policy's
// conflict strategy. The bool result reports whether the merge-rule fallback
// fired because the strategy value was unrecognized.
//
// locals must already be ordered per the policy (the assignment store's
// ordering), which is what PRIORITY_BASED keys on.
func combine(locals []localVerdict, pol policy.Policy) (Decision, bool) {
	if len(locals) == 0 {
		return Deny, false
	}
	switch pol.Strategy {
	case policy.StrategyDenyOverride:
		return denyOverride(locals), false
	case policy.StrategyAllowUnion:
		for _, lv := range locals {
			if lv.allowed {
				return Allow, false
			}
		}
		return Deny, false
	case policy.StrategyMostRestrictive:
		// Truth table matches DENY_OVERRIDE: any disagreement resolves to
		// Deny. The strategies differ only in which role the explanation
		// privileges, which decidingRole selection already handles by
		// preferring the lowest-level vetoing role.
		return denyOverride(locals), false
	case policy.StrategyPriorityBased:
		return localDecision(locals[0]), false
	}

	// Degenerate strategy value: apply the merge rule instead and tell the
	// caller so it can log the configuration warning.
	fallback := pol
	fallback.Strategy = pol.EffectiveMergeRule()
	decision, _ := combine(locals, fallback)
	return decision, true
}

func denyOverride(locals []localVerdict) Decision {
	for _, lv := range locals {
		if !lv.allowed {
			return Deny
		}
	}
	return Allow
}

func localDecision(lv localVerdict) Decision {
	if lv.allowed {
		return Allow
	}
	return Deny
}

// decidingRole picks, deterministically, the role whose local verdict
// matches the combined decision: lowest level, then lowest priority, then
// lexicographically smallest code. The tie-break chain exists so that two
// identical inputs can never name different roles.
func decidingRole(locals []localVerdict, decision Decision) (registry.Role, bool) {
	var (
		best  registry.Role
		found bool
	)
	for _, lv := range locals {
		if localDecision(lv) != decision {
			continue
		}
		if !found || lessByTrust(lv.role, best) {
			best = lv.role
			found = true
		}
	}
	return best, found
}

func lessByTrust(a, b registry.Role) bool {
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Code < b.Code
}
