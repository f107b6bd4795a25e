//go:build linux

package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Uninstall stops and removes the service and hands DNS back to the system.
// With purge the data directory is removed too.
func Uninstall(ctx context.Context, config *Config, purge bool) error {
	out := config.out()
	run := config.runner()
	var errs []error

	fmt.Fprintln(out, "nicd uninstall")
	fmt.Fprintln(out, "==============")

	// 1. Stop and remove the service
	fmt.Fprintf(out, "\n[1/3] Removing service...\n")
	if _, err := run.Run(ctx, "systemctl", "disable", "--now", ServiceName); err != nil {
		// Not fatal; the service may not be loaded.
		fmt.Fprintf(os.Stderr, "  warning: could not disable service: %v\n", err)
	}
	if err := os.Remove(UnitPath()); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(out, "  Service unit not found (already removed)\n")
		} else {
			errs = append(errs, fmt.Errorf("removing unit file: %w", err))
		}
	} else {
		fmt.Fprintf(out, "  Systemd service removed\n")
	}
	if _, err := run.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		fmt.Fprintf(os.Stderr, "  warning: daemon-reload failed: %v\n", err)
	}

	// 2. Restore DNS configuration
	fmt.Fprintf(out, "\n[2/3] Restoring DNS configuration...\n")
	if err := RestoreAll(ctx, NewResolved(ResolvedDropInPath, run), NewResolvConf(ResolvConfPath)); err != nil {
		errs = append(errs, err)
	} else {
		fmt.Fprintf(out, "  DNS configuration restored\n")
	}

	// 3. Remove data
	fmt.Fprintf(out, "\n[3/3] Removing data...\n")
	if purge {
		if err := os.RemoveAll(config.DataDir); err != nil {
			errs = append(errs, fmt.Errorf("removing data directory: %w", err))
		} else {
			fmt.Fprintf(out, "  %s removed\n", config.DataDir)
		}
	} else {
		fmt.Fprintf(out, "  Data kept in %s (use --purge to remove)\n", config.DataDir)
	}

	fmt.Fprintln(out, "\n==============")
	if len(errs) > 0 {
		fmt.Fprintln(out, "Uninstall completed with errors.")
		return fmt.Errorf("uninstall completed with errors: %w", errors.Join(errs...))
	}
	fmt.Fprintln(out, "Uninstall complete!")
	return nil
}
