// Package guard forces test mode for binaries exercised from tests.
// Import it for side effects before the package under test initialises.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ARVALOX_TEST_MODE") == "" {
			_ = os.Setenv("ARVALOX_TEST_MODE", "1")
		}
	})
}
