//go:build !darwin && !linux

package setup

import "context"

func ServicePath() string {
	return ""
}

func Run(context.Context, *Config) error {
	return ErrUnsupported
}

func Uninstall(context.Context, *Config, bool) error {
	return ErrUnsupported
}
