package authz

import (
	"testing"

	"github.com/meridian-suite/meridian-authz/internal/policy"
	"github.com/meridian-suite/meridian-authz/internal/registry"
)

func lv(code string, level, priority int, allowed bool) localVerdict {
	return localVerdict{
		role:    registry.Role{Code: code, Level: level, Priority: priority},
		allowed: allowed,
	}
}

func TestCombineDenyOverride(t *testing.T) {
	pol := policy.Policy{Strategy: policy.StrategyDenyOverride, MergeRule: policy.StrategyDenyOverride}

	cases := []struct {
		name   string
		locals []localVerdict
		want   Decision
	}{
		{"all allow", []localVerdict{lv("a", 10, 1, true), lv("b", 20, 2, true)}, Allow},
		{"one deny vetoes", []localVerdict{lv("a", 10, 1, true), lv("b", 20, 2, false)}, Deny},
		{"all deny", []localVerdict{lv("a", 10, 1, false)}, Deny},
		{"empty", nil, Deny},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, fallback := combine(tc.locals, pol)
			if got != tc.want {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
			if fallback {
				t.Fatal("fallback must not fire for a known strategy")
			}
		})
	}
}

func TestCombineAllowUnion(t *testing.T) {
	pol := policy.Policy{Strategy: policy.StrategyAllowUnion}

	if got, _ := combine([]localVerdict{lv("a", 10, 1, false), lv("b", 20, 2, true)}, pol); got != Allow {
		t.Fatalf("one grant should allow, got %s", got)
	}
	if got, _ := combine([]localVerdict{lv("a", 10, 1, false), lv("b", 20, 2, false)}, pol); got != Deny {
		t.Fatalf("no grants should deny, got %s", got)
	}
}

func TestCombineMostRestrictiveMatchesDenyOverride(t *testing.T) {
	mr := policy.Policy{Strategy: policy.StrategyMostRestrictive}
	do := policy.Policy{Strategy: policy.StrategyDenyOverride}

	inputs := [][]localVerdict{
		{lv("a", 10, 1, true), lv("b", 20, 2, true)},
		{lv("a", 10, 1, true), lv("b", 20, 2, false)},
		{lv("a", 10, 1, false), lv("b", 20, 2, false)},
	}
	for _, locals := range inputs {
		got, _ := combine(locals, mr)
		want, _ := combine(locals, do)
		if got != want {
			t.Fatalf("most-restrictive diverged from deny-override for %+v", locals)
		}
	}
}

func TestCombinePriorityBasedUsesHead(t *testing.T) {
	pol := policy.Policy{Strategy: policy.StrategyPriorityBased}

	if got, _ := combine([]localVerdict{lv("a", 10, 1, false), lv("b", 20, 2, true)}, pol); got != Deny {
		t.Fatalf("head role denies, got %s", got)
	}
	if got, _ := combine([]localVerdict{lv("a", 10, 1, true), lv("b", 20, 2, false)}, pol); got != Allow {
		t.Fatalf("head role allows, got %s", got)
	}
}

func TestCombineUnknownStrategyAppliesMergeRule(t *testing.T) {
	locals := []localVerdict{lv("a", 10, 1, true), lv("b", 20, 2, false)}

	pol := policy.Policy{Strategy: policy.StrategyUnknown, MergeRule: policy.StrategyAllowUnion}
	got, fallback := combine(locals, pol)
	if !fallback {
		t.Fatal("fallback flag should fire for an unknown strategy")
	}
	if got != Allow {
		t.Fatalf("merge rule ALLOW_UNION should allow, got %s", got)
	}

	// Unset merge rule defaults to deny-override.
	pol.MergeRule = policy.StrategyUnknown
	got, fallback = combine(locals, pol)
	if !fallback || got != Deny {
		t.Fatalf("default merge rule should deny, got %s fallback=%v", got, fallback)
	}
}

func TestCombineMonotonicityUnderDenyOverride(t *testing.T) {
	// Adding a denying role can never flip Deny to Allow.
	base := []localVerdict{lv("a", 10, 1, true), lv("b", 20, 2, false)}
	pol := policy.Policy{Strategy: policy.StrategyDenyOverride}

	before, _ := combine(base, pol)
	after, _ := combine(append(base, lv("c", 30, 3, false)), pol)
	if before == Deny && after == Allow {
		t.Fatal("adding a denying role flipped deny to allow")
	}
	if after != Deny {
		t.Fatalf("expected deny, got %s", after)
	}
}

func TestDecidingRoleTieBreak(t *testing.T) {
	cases := []struct {
		name     string
		locals   []localVerdict
		decision Decision
		want     string
	}{
		{"lowest level wins", []localVerdict{lv("b", 20, 1, false), lv("a", 10, 1, false)}, Deny, "a"},
		{"priority breaks level tie", []localVerdict{lv("b", 10, 5, false), lv("a", 10, 2, false)}, Deny, "a"},
		{"code breaks full tie", []localVerdict{lv("zeta", 10, 1, true), lv("alpha", 10, 1, true)}, Allow, "alpha"},
		{"only matching verdicts considered", []localVerdict{lv("a", 10, 1, true), lv("b", 20, 2, false)}, Deny, "b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			role, ok := decidingRole(tc.locals, tc.decision)
			if !ok {
				t.Fatal("expected a deciding role")
			}
			if role.Code != tc.want {
				t.Fatalf("want %q, got %q", tc.want, role.Code)
			}
		})
	}

	if _, ok := decidingRole([]localVerdict{lv("a", 10, 1, true)}, Deny); ok {
		t.Fatal("no role matched the decision, expected ok=false")
	}
}
