//go:build darwin

package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Uninstall unloads and removes the LaunchDaemon and hands DNS back to DHCP.
// With purge the data directory is removed too.
func Uninstall(ctx context.Context, config *Config, purge bool) error {
	out := config.out()
	run := config.runner()
	var errs []error

	fmt.Fprintln(out, "nicd uninstall")
	fmt.Fprintln(out, "==============")

	// 1. Stop and remove LaunchDaemon
	fmt.Fprintf(out, "\n[1/3] Removing daemon...\n")
	if _, err := run.Run(ctx, "launchctl", "bootout", "system/"+LaunchDaemonLabel); err != nil {
		// Not fatal; the daemon may not be loaded.
		fmt.Fprintf(os.Stderr, "  warning: could not bootout LaunchDaemon: %v\n", err)
	}
	if err := os.Remove(PlistPath()); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(out, "  LaunchDaemon not found (already removed)\n")
		} else {
			errs = append(errs, fmt.Errorf("removing LaunchDaemon plist: %w", err))
		}
	} else {
		fmt.Fprintf(out, "  LaunchDaemon removed\n")
	}

	// 2. Restore DNS configuration
	fmt.Fprintf(out, "\n[2/3] Restoring DNS configuration...\n")
	if err := RestoreAll(ctx, NewNetworkSetup(run)); err != nil {
		errs = append(errs, err)
	} else {
		fmt.Fprintf(out, "  DNS servers reset on all network services\n")
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
