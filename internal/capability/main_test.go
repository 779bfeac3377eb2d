package capability

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that registries started with a staging directory don't
// leak their watchStaging goroutine past Close (see TestRegistry_ClosesWatcherGoroutine).
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
