package plugins

import (
	"testing"

	"txcore/testutil"
)

// TestPluginsDoNotImportBackends keeps plugin packages independent of the
// storage and blob backends chosen by the host.
func TestPluginsDoNotImportBackends(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", true, testutil.BackendImportForbidden, "plugins must not select backends")
}
