package refresh

import (
	"net/netip"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alexcatdad/nicd/internal/pool"
)

// QuarantineDuration is how long a resolver that failed a health check is
// left out of new proposals.
const QuarantineDuration = 10 * time.Minute

type quarantineKey struct {
	addr netip.Addr
	tier pool.Tier
}

// quarantine tracks recently failing candidates. Entries expire lazily.
type quarantine struct {
	clock clockwork.Clock
	until map[quarantineKey]time.Time
}

func newQuarantine(clock clockwork.Clock) *quarantine {
	return &quarantine{clock: clock, until: make(map[quarantineKey]time.Time)}
}

func (q *quarantine) Add(c pool.Candidate) {
	q.until[quarantineKey{c.Addr, c.Tier}] = q.clock.Now().Add(QuarantineDuration)
}

func (q *quarantine) Contains(c pool.Candidate) bool {
	key := quarantineKey{c.Addr, c.Tier}
	until, ok := q.until[key]
	if !ok {
		return false
	}
	if !q.clock.Now().Before(until) {
		delete(q.until, key)
		return false
	}
	return true
}

func (q *quarantine) Len() int {
	now := q.clock.Now()
	for key, until := range q.until {
		if !now.Before(until) {
			delete(q.until, key)
		}
	}
	return len(q.until)
}
