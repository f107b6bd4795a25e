// Package journal keeps the short, user-facing activity log that is shipped
// to connected clients with every snapshot.
package journal

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Capacity is the number of lines retained before the oldest are evicted.
const Capacity = 100

const stampLayout = "060102150405"

// Journal is a bounded FIFO of timestamped lines. Every line is mirrored to
// the diagnostic logger. It is safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	entries []string
	pos     int
	count   int

	clock  clockwork.Clock
	logger zerolog.Logger
}

func New(clock clockwork.Clock, logger zerolog.Logger) *Journal {
	return NewWithCapacity(Capacity, clock, logger)
}

// NewWithCapacity is New with a custom bound. capacity must be positive.
func NewWithCapacity(capacity int, clock clockwork.Clock, logger zerolog.Logger) *Journal {
	if capacity <= 0 {
		panic("journal: capacity must be positive")
	}
	return &Journal{
		entries: make([]string, capacity),
		clock:   clock,
		logger:  logger,
	}
}

// Add appends msg, evicting the oldest line when full.
func (j *Journal) Add(msg string) {
	line := j.clock.Now().Format(stampLayout) + "|" + msg
	j.logger.Info().Msg(msg)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[j.pos] = line
	j.pos = (j.pos + 1) % len(j.entries)
	if j.count < len(j.entries) {
		j.count++
	}
}

func (j *Journal) Addf(format string, args ...any) {
	j.Add(fmt.Sprintf(format, args...))
}

// Lines returns the retained lines, oldest first.
func (j *Journal) Lines() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, j.count)
	start := (j.pos - j.count + len(j.entries)) % len(j.entries)
	for i := range out {
		out[i] = j.entries[(start+i)%len(j.entries)]
	}
	return out
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Clear drops every retained line. Called once lines were delivered.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	clear(j.entries)
	j.pos = 0
	j.count = 0
}
