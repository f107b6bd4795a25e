// Package refresh selects, installs and re-validates the set of upstream
// resolvers the host uses.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/tevino/abool"
	"golang.org/x/sync/errgroup"

	"github.com/alexcatdad/nicd/internal/pool"
)

const (
	// ClientTimeout bounds a single liveness probe.
	ClientTimeout = 3 * time.Second

	// DefaultProbeConcurrency is the number of active resolvers probed at once.
	DefaultProbeConcurrency = 4
)

// State is the bootstrap state of a Controller.
type State int

const (
	Uninitialized State = iota
	Bootstrapping
	SteadyState
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Bootstrapping:
		return "bootstrapping"
	case SteadyState:
		return "steady"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Bootstrap supplies the tier-1 and tier-2 resolver lists. A list returned
// together with an error is still used.
type Bootstrap interface {
	Tier1(ctx context.Context) ([]string, error)
	Tier2(ctx context.Context) ([]string, error)
}

// Installer writes a resolver into the system configuration. Slot 1 starts
// a new resolver set.
type Installer interface {
	Install(ctx context.Context, addr netip.Addr, slot int) error
	SystemText() string
}

// Logger receives user-visible progress lines.
type Logger interface {
	Addf(format string, args ...any)
}

// Options configures a Controller. Bootstrap, Installer and Log are required.
type Options struct {
	Bootstrap Bootstrap
	Installer Installer
	Prober    pool.Prober
	Log       Logger

	// Target is the desired active cache size.
	Target int

	// Banner lines are logged at every cold boot.
	Banner []string

	Clock            clockwork.Clock
	Rand             *rand.Rand
	ProbeTimeout     time.Duration
	ProbeConcurrency int
}

// Controller owns the universe pool and the active cache. It is driven from
// a single goroutine; only the UpdatingDNS guard is atomic.
type Controller struct {
	bootstrap Bootstrap
	installer Installer
	prober    pool.Prober
	log       Logger
	banner    []string
	rand      *rand.Rand

	probeTimeout     time.Duration
	probeConcurrency int

	state       State
	initialized bool
	updating    abool.AtomicBool
	target      int

	universe   *pool.Pool
	active     *pool.Pool
	quarantine *quarantine
}

func New(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(opts.Clock.Now().UnixNano()))
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = ClientTimeout
	}
	if opts.ProbeConcurrency <= 0 {
		opts.ProbeConcurrency = DefaultProbeConcurrency
	}
	return &Controller{
		bootstrap:        opts.Bootstrap,
		installer:        opts.Installer,
		prober:           opts.Prober,
		log:              opts.Log,
		banner:           opts.Banner,
		rand:             opts.Rand,
		probeTimeout:     opts.ProbeTimeout,
		probeConcurrency: opts.ProbeConcurrency,
		target:           max(0, opts.Target),
		universe:         &pool.Pool{},
		active:           &pool.Pool{},
		quarantine:       newQuarantine(opts.Clock),
	}
}

func (c *Controller) State() State       { return c.state }
func (c *Controller) Initialized() bool  { return c.initialized }
func (c *Controller) Target() int        { return c.target }
func (c *Controller) ActiveLen() int     { return c.active.Len() }
func (c *Controller) Universe() []string { return c.universe.Strings() }
func (c *Controller) Active() []string   { return c.active.Strings() }

// SystemText reports the installer's view of the system resolver settings.
func (c *Controller) SystemText() string {
	return c.installer.SystemText()
}

// SetTarget changes the desired active cache size and reports whether it
// changed. Negative sizes are ignored.
func (c *Controller) SetTarget(n int) bool {
	if n < 0 || n == c.target {
		return false
	}
	c.target = n
	return true
}

// ColdBoot rebuilds the universe pool from the bootstrap lists and installs
// a random selection of tier-1 resolvers so the host has working DNS while
// tier-2 resolvers are fetched. It returns the number of resolvers installed.
//
// The controller is initialized only when at least one tier-2 resolver was
// found; until then every Refresh starts with another cold boot. The
// bootstrap install overwrites the system slots, so the active cache is
// emptied and the next UpdateDNS installs a full set again.
func (c *Controller) ColdBoot(ctx context.Context) int {
	c.state = Bootstrapping
	c.initialized = false
	c.log.Addf("** COLD BOOT **")
	for _, line := range c.banner {
		c.log.Addf("%s", line)
	}

	c.universe.Clear()
	c.active = &pool.Pool{}
	t1 := c.load(ctx, pool.T1)
	c.log.Addf("Found %d T1 resolvers", len(t1))
	for _, cand := range t1 {
		if c.universe.InsertSorted(cand) {
			c.log.Addf("%s", cand)
		}
	}

	c.log.Addf("Randomizing T1 list...")
	c.universe.Randomize(c.rand)
	k := min(c.target, c.universe.Len())
	c.log.Addf("Applying %d T1 resolvers...", k)
	if err := c.install(ctx, c.universe.Head(k)); err != nil {
		c.log.Addf("There was a problem applying T1 resolvers: %v", err)
	}

	c.log.Addf("Fetching T2 resolvers...")
	t2 := c.load(ctx, pool.T2)
	for _, cand := range t2 {
		if c.universe.InsertSorted(cand) {
			c.initialized = true
		}
	}
	c.log.Addf("Found %d T2 resolvers", len(t2))
	c.log.Addf("Resolvers initialized: %t", c.initialized)

	if c.initialized {
		c.state = SteadyState
	} else {
		c.state = Uninitialized
	}
	return k
}

func (c *Controller) load(ctx context.Context, tier pool.Tier) []pool.Candidate {
	fetch := c.bootstrap.Tier1
	if tier == pool.T2 {
		fetch = c.bootstrap.Tier2
	}
	list, err := fetch(ctx)
	if err != nil {
		c.log.Addf("There was a problem fetching %s resolvers: %v", tier, err)
	}

	var out []pool.Candidate
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			c.log.Addf("Skipping invalid %s resolver %q", tier, entry)
			continue
		}
		out = append(out, pool.NewCandidate(addr, tier, c.prober))
	}
	return out
}

// UpdateDNS proposes the best target candidates and installs them when the
// proposal differs enough from the active cache. It returns the new active
// cache size, or 0 when nothing was replaced. A call made while another
// update is in progress does nothing and returns 0.
func (c *Controller) UpdateDNS(ctx context.Context, target int) int {
	if !c.updating.SetToIf(false, true) {
		return 0
	}
	defer c.updating.UnSet()

	c.log.Addf("** UPDATE DNS **")
	c.universe.Sort()
	c.log.Addf("Proposing (%d) candidates.", target)

	proposed := &pool.Pool{}
	skipped := 0
	for _, cand := range c.universe.All() {
		if proposed.Len() >= target {
			break
		}
		if c.quarantine.Contains(cand) {
			skipped++
			continue
		}
		proposed.Append(cand)
	}
	if skipped > 0 {
		c.log.Addf("Skipped %d quarantined resolvers", skipped)
	}
	// A proposal emptied by quarantine keeps the current set. An empty
	// proposal for an empty cache changes nothing.
	if proposed.Len() == 0 && (skipped > 0 || c.active.Len() == 0) {
		return 0
	}
	// A quarantined resolver in the active cache is replaced regardless of
	// hysteresis.
	if c.activeQuarantined() {
		c.log.Addf("Active resolver cache holds quarantined resolvers")
	} else if !c.ShouldReplace(proposed) {
		return 0
	}

	next := proposed.Clone()
	next.Sort()
	c.log.Addf("Applying new resolver cache of (%d) items...", next.Len())
	if err := c.install(ctx, next); err != nil {
		c.log.Addf("There was a problem applying resolvers: %v", err)
	}
	c.active = next
	return c.active.Len()
}

func (c *Controller) activeQuarantined() bool {
	for _, cand := range c.active.All() {
		if c.quarantine.Contains(cand) {
			return true
		}
	}
	return false
}

// install writes p into slots 1..n. A failing slot does not stop the rest.
func (c *Controller) install(ctx context.Context, p *pool.Pool) error {
	var merr *multierror.Error
	for i, cand := range p.All() {
		if err := c.installer.Install(ctx, cand.Addr, i+1); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("slot %d (%s): %w", i+1, cand.Addr, err))
			continue
		}
		c.log.Addf(" > %s", cand)
	}
	return merr.ErrorOrNil()
}

var errNotResponding = errors.New("resolver not responding")

// TestActiveCache probes every active resolver and reports whether all of
// them answered. Probes run concurrently under one overall deadline; the
// first failure cancels the rest. Failing resolvers are quarantined.
func (c *Controller) TestActiveCache(ctx context.Context) bool {
	active := c.active
	if active.Len() == 0 {
		return true
	}

	waves := (active.Len() + c.probeConcurrency - 1) / c.probeConcurrency
	ctx, cancel := context.WithTimeout(ctx, time.Duration(waves)*c.probeTimeout+time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.probeConcurrency)

	var (
		mu   sync.Mutex
		dead []pool.Candidate
	)
	for _, cand := range active.All() {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if cand.Alive(gctx, c.probeTimeout) {
				return nil
			}
			// Probes cut short by a sibling's failure say nothing about
			// this resolver.
			if gctx.Err() == nil {
				mu.Lock()
				dead = append(dead, cand)
				mu.Unlock()
			}
			return errNotResponding
		})
	}
	err := g.Wait()

	for _, cand := range dead {
		c.log.Addf("** ACTIVE RESOLVER %s NOT RESPONDING **", cand.Addr)
		c.quarantine.Add(cand)
	}
	if err != nil && len(dead) == 0 {
		c.log.Addf("Health check did not finish: %v", err)
	}
	return err == nil
}

// Refresh cold boots if needed, then updates the active cache when forced,
// when it is short of the target, or when one of its resolvers is down.
func (c *Controller) Refresh(ctx context.Context, force bool) {
	if !c.initialized {
		c.ColdBoot(ctx)
	}
	switch {
	case force, c.active.Len() == 0, c.active.Len() < c.target:
		c.UpdateDNS(ctx, c.target)
	case !c.TestActiveCache(ctx):
		c.UpdateDNS(ctx, c.target)
	}
}

// Quarantined reports how many resolvers are currently held out of
// proposals.
func (c *Controller) Quarantined() int {
	return c.quarantine.Len()
}
