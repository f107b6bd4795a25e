package refresh

import "github.com/alexcatdad/nicd/internal/pool"

// ShouldReplace decides whether proposed should replace the active cache.
//
// Proposals the same size as the active cache (two or more entries) replace
// it only when at least half of the active entries would change. A single
// active resolver is replaced only by a different single resolver. Any size
// mismatch replaces.
func (c *Controller) ShouldReplace(proposed *pool.Pool) bool {
	return shouldReplace(c.active, proposed)
}

func shouldReplace(active, proposed *pool.Pool) bool {
	switch {
	case proposed.Len() >= 2 && proposed.Len() == active.Len():
		diff := 0
		for _, cand := range proposed.All() {
			if !active.Contains(cand) {
				diff++
			}
		}
		return diff >= active.Len()/2
	case proposed.Len() == 1 && active.Len() == 1:
		return !proposed.At(0).Equal(active.At(0))
	}
	return true
}
