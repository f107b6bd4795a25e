//go:build !darwin && !linux

package cli

import "context"

// doctorCheckDNS is a stub for unsupported platforms.
func doctorCheckDNS(context.Context) (bool, string) {
	return false, "DNS check not supported on this platform"
}
