package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

const testModeEnv = "ATELIER_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

// InTestMode reports whether binaries should return before dialing Postgres,
// Redis or the job queue. Any value strconv.ParseBool accepts as true enables it.
func InTestMode() bool {
	testModeInit.Do(RefreshTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads ATELIER_TEST_MODE after the environment changed.
func RefreshTestMode() {
	enabled, err := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(err == nil && enabled)
}
