// Package paths provides platform-aware path resolution for nicd.
// Each platform (darwin, linux) has its own implementation that follows
// the platform's conventions for application data, settings and logs.
// A daemon running as root uses system-wide locations.
package paths

import "path/filepath"

// Organization and Application form the settings namespace.
const (
	Organization = "OpenNIC"
	Application  = "nicd"
)

// Paths holds all platform-specific filesystem paths for nicd.
type Paths struct {
	DataDir      string // Bootstrap and test-domain lists
	ConfigDir    string // Settings namespace directory
	SettingsPath string // Persistent settings file
	Tier1Path    string // Tier-1 bootstrap list
	Tier2Path    string // Cached tier-2 list
	DomainsPath  string // Liveness test domains
	LogPath      string // Daemon log file path
}

func build(dataDir, configHome, logPath string) *Paths {
	configDir := filepath.Join(configHome, Organization, Application)
	return &Paths{
		DataDir:      dataDir,
		ConfigDir:    configDir,
		SettingsPath: filepath.Join(configDir, "settings.yaml"),
		Tier1Path:    filepath.Join(dataDir, "t1.list"),
		Tier2Path:    filepath.Join(dataDir, "t2.list"),
		DomainsPath:  filepath.Join(dataDir, "domains.list"),
		LogPath:      logPath,
	}
}

// Under re-roots every path below dir. Used for tests and --root.
func Under(dir string) *Paths {
	return build(filepath.Join(dir, "data"), filepath.Join(dir, "config"), filepath.Join(dir, "nicd.log"))
}
