package pool

import (
	"iter"
	"math/rand"
	"net/netip"
	"slices"
)

// Pool is an ordered collection of candidates. The zero value is an empty
// pool ready to use. A Pool is not safe for concurrent use.
type Pool struct {
	items []Candidate
}

// New returns a pool holding the given candidates in the given order.
func New(candidates ...Candidate) *Pool {
	return &Pool{items: slices.Clone(candidates)}
}

func (p *Pool) Len() int {
	return len(p.items)
}

// At returns the candidate at index i. It panics if i is out of range.
func (p *Pool) At(i int) Candidate {
	return p.items[i]
}

// All iterates over the candidates in their current order.
func (p *Pool) All() iter.Seq2[int, Candidate] {
	return slices.All(p.items)
}

// Contains reports whether an equal candidate is in the pool.
func (p *Pool) Contains(c Candidate) bool {
	return slices.ContainsFunc(p.items, c.Equal)
}

// Append adds c at the end without regard to ordering or duplicates.
func (p *Pool) Append(c Candidate) {
	p.items = append(p.items, c)
}

// InsertSorted inserts c at its ordered position, assuming the pool is
// sorted. If an equal candidate is already present the pool is unchanged and
// false is returned.
func (p *Pool) InsertSorted(c Candidate) bool {
	i, found := slices.BinarySearchFunc(p.items, c, Candidate.Compare)
	if found {
		return false
	}
	p.items = slices.Insert(p.items, i, c)
	return true
}

// Sort orders the pool by Candidate.Compare. The sort is stable.
func (p *Pool) Sort() {
	slices.SortStableFunc(p.items, Candidate.Compare)
}

// Randomize shuffles the pool uniformly using r.
func (p *Pool) Randomize(r *rand.Rand) {
	r.Shuffle(len(p.items), func(i, j int) {
		p.items[i], p.items[j] = p.items[j], p.items[i]
	})
}

// Head returns a new pool with at most the first n candidates.
func (p *Pool) Head(n int) *Pool {
	n = max(0, min(n, len(p.items)))
	return New(p.items[:n]...)
}

func (p *Pool) Clone() *Pool {
	return New(p.items...)
}

func (p *Pool) Clear() {
	p.items = nil
}

// Strings renders every candidate, in order.
func (p *Pool) Strings() []string {
	out := make([]string, len(p.items))
	for i, c := range p.items {
		out[i] = c.String()
	}
	return out
}

// Addrs returns the candidate addresses, in order.
func (p *Pool) Addrs() []netip.Addr {
	out := make([]netip.Addr, len(p.items))
	for i, c := range p.items {
		out[i] = c.Addr
	}
	return out
}
