package registry

import (
	"strings"

	"golang.org/x/text/cases"
)

var codeFolder = cases.Fold()

// NormalizeCode canonicalizes a role or permission code: surrounding
// whitespace stripped, case folded. All lookups and uniqueness checks run on
// the normalized form so "Invoices:Read" and "invoices:read" are one code.
func NormalizeCode(raw string) string {
	return codeFolder.String(strings.TrimSpace(raw))
}
