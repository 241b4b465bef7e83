// Package testutil provides shared test helpers.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if FLEETEXEC_TEST_SKIP_NETWORK is set.
// Use this for tests that open sockets, which may not be available in
// sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("FLEETEXEC_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: FLEETEXEC_TEST_SKIP_NETWORK is set")
	}
}
