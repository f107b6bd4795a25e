//go:build linux

package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPaths returns system paths when running as root, XDG-compliant
// per-user paths otherwise.
func DefaultPaths() (*Paths, error) {
	if os.Geteuid() == 0 {
		return systemPaths(), nil
	}
	return userPaths()
}

func systemPaths() *Paths {
	return build("/var/lib/nicd", "/etc", "/var/log/nicd/nicd.log")
}

// userPaths respects XDG_DATA_HOME, XDG_CONFIG_HOME and XDG_STATE_HOME.
func userPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(homeDir, ".local", "share")
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(homeDir, ".config")
	}

	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		stateHome = filepath.Join(homeDir, ".local", "state")
	}

	return build(
		filepath.Join(dataHome, Application),
		configHome,
		filepath.Join(stateHome, Application, "nicd.log"),
	), nil
}
