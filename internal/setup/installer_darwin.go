//go:build darwin

package setup

import "context"

func NewSystemInstaller(_ context.Context, runner Runner) (Installer, error) {
	return NewNetworkSetup(runner), nil
}
