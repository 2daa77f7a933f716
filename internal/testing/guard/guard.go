// Package guard flips the runtime into test mode for any test binary that
// imports it, keeping external side effects disabled.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("MERIDIAN_AUTHZ_TEST_MODE") == "" {
			_ = os.Setenv("MERIDIAN_AUTHZ_TEST_MODE", "1")
		}
	})
}
