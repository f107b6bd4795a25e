//go:build linux

package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const systemdUnitDir = "/etc/systemd/system"

func UnitPath() string {
	return filepath.Join(systemdUnitDir, ServiceName+".service")
}

// ServicePath is where setup installs the service definition.
func ServicePath() string {
	return UnitPath()
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

	// 2. Install systemd system service. nicd rewrites system DNS settings
	// and must run as root.
	fmt.Fprintf(out, "\n[2/3] Installing systemd service...\n")
	unit, err := renderUnit(config)
	if err != nil {
		return err
	}
	if err := writeFile(UnitPath(), unit, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", UnitPath(), err)
	}
	fmt.Fprintf(out, "  ✓ %s\n", UnitPath())

	// 3. Start it
	fmt.Fprintf(out, "\n[3/3] Starting service...\n")
	if _, err := run.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, err := run.Run(ctx, "systemctl", "enable", "--now", ServiceName); err != nil {
		return fmt.Errorf("enabling service: %w", err)
	}
	fmt.Fprintf(out, "  ✓ %s enabled and started\n", ServiceName)

	fmt.Fprintln(out, "\n==========")
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Check progress with:")
	fmt.Fprintln(out, "  nicctl status")
	fmt.Fprintln(out, "  nicd doctor")
	return nil
}
