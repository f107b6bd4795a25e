//go:build darwin

package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPaths returns macOS-conventional paths: /Library when running as
// root, ~/Library otherwise.
func DefaultPaths() (*Paths, error) {
	if os.Geteuid() == 0 {
		return systemPaths(), nil
	}
	return userPaths()
}

func systemPaths() *Paths {
	return libraryPaths("/Library")
}

func userPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}
	return libraryPaths(filepath.Join(homeDir, "Library")), nil
}

func libraryPaths(library string) *Paths {
	support := filepath.Join(library, "Application Support")
	return build(
		filepath.Join(support, Organization, Application),
		filepath.Join(library, "Preferences"),
		filepath.Join(library, "Logs", "nicd.log"),
	)
}
