package storage

import (
	"os"

	copy "github.com/otiai10/copy"
)

// Bootstrap seeds a fresh data directory from a template directory before a
// Store is opened on it, letting an operator clone a known-good snapshot
// onto a new node instead of starting from an empty DHT and block history.
// Grounded on the teacher's own use of otiai10/copy for directory seeding;
// a convenience, not required by any invariant.
func Bootstrap(dataDir, templateDir string) error {
	if templateDir == "" {
		return nil
	}
	if _, err := os.Stat(dataDir); err == nil {
		return nil // already initialized, never overwrite live state
	}
	return copy.Copy(templateDir, dataDir)
}
