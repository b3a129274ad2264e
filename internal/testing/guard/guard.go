// Package guard switches the process into test mode when imported, so binaries
// exercised from tests return before dialing Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

// Env is the variable consulted by app.InTestMode.
const Env = "ATELIER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(Env) == "" {
			_ = os.Setenv(Env, "1")
		}
	})
}
