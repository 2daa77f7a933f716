package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness violation on a code or pairing.
	ErrDuplicate = errors.New("duplicate")
	// ErrPolicyMissing occurs when no active conflict policy exists for a tenant/scope pair.
	ErrPolicyMissing = errors.New("conflict policy missing")
	// ErrAssignmentLimitExceeded occurs when a principal holds more active role assignments than the policy allows.
	ErrAssignmentLimitExceeded = errors.New("assignment limit exceeded")
	// ErrUpstreamUnavailable wraps persistence failures encountered during a decision.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrSystemPolicy occurs when a tenant attempts to modify a platform-seeded policy.
	ErrSystemPolicy = errors.New("system policy is read-only")
)
