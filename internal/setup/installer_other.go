//go:build !darwin && !linux

package setup

import "context"

func NewSystemInstaller(context.Context, Runner) (Installer, error) {
	return nil, ErrUnsupported
}
