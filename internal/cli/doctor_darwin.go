//go:build darwin

package cli

import (
	"context"
	"strings"

	"github.com/alexcatdad/nicd/internal/setup"
)

// doctorCheckDNS verifies that at least one network service has DNS
// servers set.
func doctorCheckDNS(context.Context) (bool, string) {
	text := setup.NewNetworkSetup(setup.ExecRunner{}).SystemText()
	if strings.Contains(text, "There aren't any DNS Servers") || strings.TrimSpace(text) == "" {
		return false, "no DNS servers set by nicd"
	}
	return true, "DNS servers set on network services"
}
