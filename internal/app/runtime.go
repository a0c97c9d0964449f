package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// ServiceName identifies this process in logs and metrics.
const ServiceName = "odyssey-live"

// Version is overridden at build time with -ldflags "-X ...app.Version=...".
var Version = "dev"

const testModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

// InTestMode reports whether the binaries should skip connecting to Redis,
// Postgres and the network.
func InTestMode() bool {
	testModeOnce.Do(func() {
		testModeFlag.Store(os.Getenv(testModeEnv) == "1")
	})
	return testModeFlag.Load()
}
