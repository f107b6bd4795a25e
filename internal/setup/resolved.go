package setup

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"
)

const ResolvedDropInPath = "/etc/systemd/resolved.conf.d/nicd.conf"

// Resolved configures systemd-resolved through a drop-in that makes the
// installed resolvers the default route for every domain.
type Resolved struct {
	path   string
	runner Runner
	slots  slots
}

func NewResolved(path string, runner Runner) *Resolved {
	return &Resolved{path: path, runner: runner}
}

func (r *Resolved) Install(ctx context.Context, addr netip.Addr, slot int) error {
	list, err := r.slots.set(addr, slot)
	if err != nil {
		return err
	}
	content := fmt.Sprintf("%s\n[Resolve]\nDNS=%s\nDomains=~.\n", GeneratedHeader, joinAddrs(list))
	if err := writeFile(r.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", r.path, err)
	}
	if _, err := r.runner.Run(ctx, "systemctl", "restart", "systemd-resolved"); err != nil {
		return fmt.Errorf("restarting systemd-resolved: %w", err)
	}
	return nil
}

// SystemText reports resolved's per-link DNS servers, falling back to the
// drop-in contents when resolvectl is unavailable.
func (r *Resolved) SystemText() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if out, err := r.runner.Run(ctx, "resolvectl", "dns"); err == nil {
		return string(out)
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Sprintf("reading %s: %v", r.path, err)
	}
	return string(data)
}

func (r *Resolved) Restore(ctx context.Context) error {
	if err := os.Remove(r.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing %s: %w", r.path, err)
	}
	if _, err := r.runner.Run(ctx, "systemctl", "restart", "systemd-resolved"); err != nil {
		return fmt.Errorf("restarting systemd-resolved: %w", err)
	}
	return nil
}
