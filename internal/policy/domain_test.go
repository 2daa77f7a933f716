package policy

import "testing"

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		raw  string
		want ConflictStrategy
		ok   bool
	}{
		{"DENY_OVERRIDE", StrategyDenyOverride, true},
		{"ALLOW_UNION", StrategyAllowUnion, true},
		{"PRIORITY_BASED", StrategyPriorityBased, true},
		{"MOST_RESTRICTIVE", StrategyMostRestrictive, true},
		{"deny_override", StrategyUnknown, false},
		{"FIRST_MATCH", StrategyUnknown, false},
		{"", StrategyUnknown, false},
	}
	for _, tc := range cases {
		got, ok := ParseStrategy(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseStrategy(%q) = %v,%v; want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStrategyStringRoundTrip(t *testing.T) {
	for _, s := range []ConflictStrategy{StrategyDenyOverride, StrategyAllowUnion, StrategyPriorityBased, StrategyMostRestrictive} {
		parsed, ok := ParseStrategy(s.String())
		if !ok || parsed != s {
			t.Fatalf("round trip failed for %v", s)
		}
	}
	if StrategyUnknown.String() != "UNKNOWN" {
		t.Fatalf("unexpected zero-value name %q", StrategyUnknown.String())
	}
}

func TestParseDirection(t *testing.T) {
	if d, ok := ParseDirection("DESC"); !ok || d != PriorityDesc {
		t.Fatalf("ParseDirection(DESC) = %v,%v", d, ok)
	}
	if d, ok := ParseDirection("ASC"); !ok || d != PriorityAsc {
		t.Fatalf("ParseDirection(ASC) = %v,%v", d, ok)
	}
	if _, ok := ParseDirection("SIDEWAYS"); ok {
		t.Fatal("unknown direction must not parse")
	}
}

func TestEffectiveMergeRule(t *testing.T) {
	p := Policy{MergeRule: StrategyAllowUnion}
	if p.EffectiveMergeRule() != StrategyAllowUnion {
		t.Fatal("stored merge rule should win")
	}
	p.MergeRule = StrategyUnknown
	if p.EffectiveMergeRule() != StrategyDenyOverride {
		t.Fatal("unset merge rule should default to deny-override")
	}
}
