//go:build linux

package setup

import "context"

// NewSystemInstaller prefers a systemd-resolved drop-in and falls back to
// rewriting /etc/resolv.conf when resolved is not running.
func NewSystemInstaller(ctx context.Context, runner Runner) (Installer, error) {
	if _, err := runner.Run(ctx, "systemctl", "is-active", "--quiet", "systemd-resolved"); err == nil {
		return NewResolved(ResolvedDropInPath, runner), nil
	}
	return NewResolvConf(ResolvConfPath), nil
}
