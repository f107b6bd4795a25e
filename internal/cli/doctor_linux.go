//go:build linux

package cli

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/alexcatdad/nicd/internal/setup"
)

// doctorCheckDNS verifies that either the systemd-resolved drop-in or a
// generated resolv.conf is in place.
func doctorCheckDNS(context.Context) (bool, string) {
	if _, err := os.Stat(setup.ResolvedDropInPath); err == nil {
		return true, "systemd-resolved drop-in configured (" + setup.ResolvedDropInPath + ")"
	}
	f, err := os.Open(setup.ResolvConfPath)
	if err != nil {
		return false, "cannot read " + setup.ResolvConfPath
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() && strings.HasPrefix(sc.Text(), setup.GeneratedHeader) {
		return true, setup.ResolvConfPath + " managed by nicd"
	}
	return false, "system DNS not managed by nicd yet"
}
