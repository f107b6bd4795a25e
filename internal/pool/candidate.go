// Package pool holds resolver candidates and the ordered collections the
// refresh controller selects from.
package pool

import (
	"context"
	"fmt"
	"net/netip"
	"time"
)

// Tier is the bootstrap priority class of a candidate.
type Tier int

const (
	T1 Tier = iota + 1
	T2
)

func (t Tier) String() string {
	switch t {
	case T1:
		return "T1"
	case T2:
		return "T2"
	default:
		return fmt.Sprintf("T?%d", int(t))
	}
}

// Comparable is implemented by values with a total order that is consistent
// with their equality relation.
type Comparable[T any] interface {
	Compare(other T) int
	Equal(other T) bool
}

// HealthCheckable is implemented by values that can report their own liveness
// within a bounded time.
type HealthCheckable interface {
	Alive(ctx context.Context, timeout time.Duration) bool
}

// Prober performs a single liveness probe against a resolver address.
type Prober interface {
	Probe(ctx context.Context, addr netip.Addr) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, addr netip.Addr) error

func (f ProberFunc) Probe(ctx context.Context, addr netip.Addr) error {
	return f(ctx, addr)
}

// Candidate is one resolver address plus its tier. Candidates are values and
// never change after construction.
type Candidate struct {
	Addr netip.Addr
	Tier Tier

	prober Prober
}

var (
	_ Comparable[Candidate] = Candidate{}
	_ HealthCheckable       = Candidate{}
)

// NewCandidate returns a candidate whose liveness is checked with prober.
// The prober is not part of the candidate's identity.
func NewCandidate(addr netip.Addr, tier Tier, prober Prober) Candidate {
	return Candidate{Addr: addr.Unmap(), Tier: tier, prober: prober}
}

// Compare orders candidates by tier (T1 first), then by address.
func (c Candidate) Compare(other Candidate) int {
	switch {
	case c.Tier < other.Tier:
		return -1
	case c.Tier > other.Tier:
		return 1
	}
	return c.Addr.Compare(other.Addr)
}

// Equal reports whether both candidates have the same tier and address.
func (c Candidate) Equal(other Candidate) bool {
	return c.Compare(other) == 0
}

// Alive probes the candidate. A candidate without a prober is never alive.
func (c Candidate) Alive(ctx context.Context, timeout time.Duration) bool {
	if c.prober == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.prober.Probe(ctx, c.Addr) == nil
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s [%s]", c.Addr, c.Tier)
}
