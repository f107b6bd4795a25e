//go:build darwin

package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

func PlistPath() string {
	return filepath.Join("/Library", "LaunchDaemons", LaunchDaemonLabel+".plist")
}

// ServicePath is where setup installs the service definition.
func ServicePath() string {
	return PlistPath()
}

func Run(ctx context.Context, config *Config) error {
	out := config.out()
	run := config.runner()

	fmt.Fprintln(out, "nicd setup")
	fmt.Fprintln(out, "==========")

	// 1. Create data directory
	fmt.Fprintf(out, "\n[1/3] Creating data directory...\n")
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(config.LogPath), 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	fmt.Fprintf(out, "  ✓ %s\n", config.DataDir)

	// 2. Install LaunchDaemon. networksetup needs root, so this is a
	// system daemon rather than a per-user agent.
	fmt.Fprintf(out, "\n[2/3] Installing LaunchDaemon...\n")
	plist, err := renderPlist(config)
	if err != nil {
		return err
	}
	if err := writeFile(PlistPath(), plist, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", PlistPath(), err)
	}
	fmt.Fprintf(out, "  ✓ %s\n", PlistPath())

	// 3. Load it. bootout first so a re-run picks up a changed plist.
	fmt.Fprintf(out, "\n[3/3] Starting daemon...\n")
	_, _ = run.Run(ctx, "launchctl", "bootout", "system/"+LaunchDaemonLabel)
	if _, err := run.Run(ctx, "launchctl", "bootstrap", "system", PlistPath()); err != nil {
		return fmt.Errorf("loading LaunchDaemon: %w", err)
	}
	fmt.Fprintf(out, "  ✓ %s loaded\n", LaunchDaemonLabel)

	fmt.Fprintln(out, "\n==========")
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Check progress with:")
	fmt.Fprintln(out, "  nicctl status")
	fmt.Fprintln(out, "  nicd doctor")
	return nil
}
