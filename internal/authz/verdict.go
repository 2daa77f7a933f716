// Package authz computes the effective allow/deny verdict for a principal,
// tenant, and permission by combining the local verdicts of every active
// role under the tenant's conflict resolution policy.
package authz

// Decision is the outcome of an authorization check. The zero value is Deny
// so that a partially constructed verdict never widens access.
type Decision int

const (
	Deny Decision = iota
	Allow
)

// String returns the wire representation.
func (d Decision) String() string {
	if d == Allow {
		return "ALLOW"
	}
	return "DENY"
}

// MarshalText implements encoding.TextMarshaler for JSON embedding.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Anything that is not
// exactly ALLOW decodes as Deny.
func (d *Decision) UnmarshalText(text []byte) error {
	if string(text) == "ALLOW" {
		*d = Allow
	} else {
		*d = Deny
	}
	return nil
}

// Reason codes attached to verdicts for audit and support tooling.
const (
	ReasonResolved        = "resolved"
	ReasonAdminExempt     = "admin-exempt"
	ReasonNoRoles         = "no-roles"
	ReasonPolicyMissing   = "policy-missing"
	ReasonAssignmentLimit = "assignment-limit-exceeded"
	ReasonUpstream        = "upstream-unavailable"
	ReasonMergeFallback   = "merge-fallback"
)

// TraceEntry records one role's local verdict for explainability.
type TraceEntry struct {
	RoleCode string   `json:"role_code"`
	Level    int      `json:"level"`
	Priority int      `json:"priority"`
	Decision Decision `json:"decision"`
}

// Verdict is the result of an authorization check.
type Verdict struct {
	Decision     Decision     `json:"decision"`
	DecidingRole string       `json:"deciding_role,omitempty"`
	Reason       string       `json:"reason"`
	Strategy     string       `json:"strategy,omitempty"`
	Fingerprint  string       `json:"fingerprint,omitempty"`
	Trace        []TraceEntry `json:"trace,omitempty"`
}

// Allowed is a convenience accessor for callers that only enforce.
func (v Verdict) Allowed() bool {
	return v.Decision == Allow
}
