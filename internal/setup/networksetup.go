package setup

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// NetworkSetup configures macOS DNS servers on every enabled network service
// with networksetup(8).
type NetworkSetup struct {
	runner Runner
	slots  slots
}

func NewNetworkSetup(runner Runner) *NetworkSetup {
	return &NetworkSetup{runner: runner}
}

func (n *NetworkSetup) Install(ctx context.Context, addr netip.Addr, slot int) error {
	list, err := n.slots.set(addr, slot)
	if err != nil {
		return err
	}
	args := make([]string, len(list))
	for i, a := range list {
		args[i] = a.String()
	}
	return n.setAll(ctx, args)
}

func (n *NetworkSetup) setAll(ctx context.Context, servers []string) error {
	services, err := n.services(ctx)
	if err != nil {
		return err
	}
	var merr *multierror.Error
	for _, svc := range services {
		args := append([]string{"-setdnsservers", svc}, servers...)
		if _, err := n.runner.Run(ctx, "networksetup", args...); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// services lists enabled network services. Disabled ones are prefixed with
// an asterisk; the first line is an explanatory note.
func (n *NetworkSetup) services(ctx context.Context) ([]string, error) {
	out, err := n.runner.Run(ctx, "networksetup", "-listallnetworkservices")
	if err != nil {
		return nil, fmt.Errorf("listing network services: %w", err)
	}
	var services []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			first = false
			continue
		}
		if line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	return services, nil
}

func (n *NetworkSetup) SystemText() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	services, err := n.services(ctx)
	if err != nil {
		return err.Error()
	}
	var b strings.Builder
	for _, svc := range services {
		out, err := n.runner.Run(ctx, "networksetup", "-getdnsservers", svc)
		if err != nil {
			fmt.Fprintf(&b, "%s: %v\n", svc, err)
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", svc, strings.Join(strings.Fields(string(out)), " "))
	}
	return b.String()
}

// Restore hands DNS back to DHCP on every service.
func (n *NetworkSetup) Restore(ctx context.Context) error {
	return n.setAll(ctx, []string{"Empty"})
}
