package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv disables runtime side effects in entry points when truthy.
const TestModeEnv = "REEMBOLSO_TEST_MODE"

var (
	testModeMu     sync.RWMutex
	testModeLoaded bool
	testMode       bool
)

// InTestMode reports whether entry points should return before touching
// external dependencies. The environment is read on first use.
func InTestMode() bool {
	testModeMu.RLock()
	loaded, on := testModeLoaded, testMode
	testModeMu.RUnlock()
	if loaded {
		return on
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testModeMu.Lock()
	testModeLoaded, testMode = true, on
	testModeMu.Unlock()
	return on
}
