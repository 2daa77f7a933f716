package authz

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/meridian-suite/meridian-authz/internal/registry"
)

// Fingerprint hashes the material facts of a role set: identity, lifecycle,
// level, and priority of each role. Any mutation that could change a verdict
// changes the fingerprint, so cache keys built on it can never serve a
// verdict computed against a different role set.
func Fingerprint(roles []registry.Role) string {
	parts := make([]string, len(roles))
	for i, role := range roles {
		parts[i] = fmt.Sprintf("%d|%s|%d|%d", role.ID, role.Lifecycle.String(), role.Level, role.Priority)
	}
	sort.Strings(parts)
	sum := blake2b.Sum256([]byte(strings.Join(parts, ";")))
	return hex.EncodeToString(sum[:16])
}
