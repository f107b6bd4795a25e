// Package setup installs resolvers into the operating system's DNS
// configuration and installs nicd itself as a system service.
package setup

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"
)

// ErrUnsupported is returned on platforms without a resolver installer.
var ErrUnsupported = errors.New("nicd only supports macOS and Linux")

// Installer writes resolvers into the system configuration one slot at a
// time. Slot 1 starts a new set; slot n sets the n-th entry and drops
// anything after it.
type Installer interface {
	Install(ctx context.Context, addr netip.Addr, slot int) error
	SystemText() string
}

// Restorer undoes everything an installer changed.
type Restorer interface {
	Restore(ctx context.Context) error
}

// slots is the resolver list being assembled by successive Install calls.
type slots struct {
	mu    sync.Mutex
	addrs []netip.Addr
}

// set places addr at slot and returns the resulting list.
func (s *slots) set(addr netip.Addr, slot int) ([]netip.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 1 || slot > len(s.addrs)+1 {
		return nil, fmt.Errorf("slot %d out of range (have %d resolvers)", slot, len(s.addrs))
	}
	s.addrs = append(s.addrs[:slot-1], addr.Unmap())
	return slices.Clone(s.addrs), nil
}

func (s *slots) list() []netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.addrs)
}

// DryRun records the resolver list without touching the system.
type DryRun struct {
	slots slots
}

func NewDryRun() *DryRun {
	return &DryRun{}
}

func (d *DryRun) Install(_ context.Context, addr netip.Addr, slot int) error {
	_, err := d.slots.set(addr, slot)
	return err
}

func (d *DryRun) SystemText() string {
	var b strings.Builder
	b.WriteString("# dry run, system configuration unchanged\n")
	for _, addr := range d.slots.list() {
		fmt.Fprintf(&b, "nameserver %s\n", addr)
	}
	return b.String()
}

func (d *DryRun) Resolvers() []netip.Addr {
	return d.slots.list()
}

func (d *DryRun) Restore(context.Context) error {
	d.slots.mu.Lock()
	d.slots.addrs = nil
	d.slots.mu.Unlock()
	return nil
}
