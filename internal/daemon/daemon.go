// Package daemon ties the refresh controller and the control server together
// and drives them from a single event loop.
package daemon

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/alexcatdad/nicd/internal/api"
	"github.com/alexcatdad/nicd/internal/bootstrap"
	"github.com/alexcatdad/nicd/internal/dns"
	"github.com/alexcatdad/nicd/internal/journal"
	"github.com/alexcatdad/nicd/internal/paths"
	"github.com/alexcatdad/nicd/internal/pool"
	"github.com/alexcatdad/nicd/internal/refresh"
	"github.com/alexcatdad/nicd/internal/settings"
	"github.com/alexcatdad/nicd/internal/setup"
)

// Version is set at build time.
var Version = "dev"

// DefaultFastTick is the housekeeping interval.
const DefaultFastTick = 10 * time.Second

type Config struct {
	Paths *paths.Paths

	// Port overrides the tcp_listen_port setting when non-zero.
	Port     int
	FastTick time.Duration

	// DryRun computes and reports resolver sets without installing them.
	DryRun bool
}

func DefaultConfig() (*Config, error) {
	p, err := paths.DefaultPaths()
	if err != nil {
		return nil, err
	}
	return &Config{Paths: p, FastTick: DefaultFastTick}, nil
}

// Options injects collaborators. Zero fields get production defaults.
type Options struct {
	Clock     clockwork.Clock
	Logger    zerolog.Logger
	Rand      *rand.Rand
	Installer refresh.Installer
	Prober    pool.Prober
	Glue      bootstrap.GlueLookup
}

var _ api.Backend = (*Daemon)(nil)

// Daemon is the server context: everything the event loop owns.
type Daemon struct {
	config *Config
	clock  clockwork.Clock
	logger zerolog.Logger

	journal    *journal.Journal
	store      *settings.Store
	settings   settings.Settings
	listenPort int
	bootstrap  *bootstrap.Store
	controller *refresh.Controller
	server     *api.Server

	slow clockwork.Timer
}

func New(ctx context.Context, config *Config, opts Options) (*Daemon, error) {
	if config.FastTick <= 0 {
		config.FastTick = DefaultFastTick
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	installer := opts.Installer
	if installer == nil {
		if config.DryRun {
			installer = setup.NewDryRun()
		} else {
			var err error
			installer, err = setup.NewSystemInstaller(ctx, setup.ExecRunner{})
			if err != nil {
				return nil, fmt.Errorf("selecting resolver installer: %w", err)
			}
		}
	}

	store := bootstrap.NewStore(config.Paths, nil)
	prober := opts.Prober
	if prober == nil {
		p := dns.NewProber(store)
		prober = p
		if opts.Glue == nil {
			opts.Glue = p
		}
	}
	store.SetGlue(opts.Glue)

	d := &Daemon{
		config:    config,
		clock:     opts.Clock,
		logger:    opts.Logger,
		journal:   journal.New(opts.Clock, opts.Logger.With().Str("component", "journal").Logger()),
		store:     settings.NewStore(config.Paths.SettingsPath),
		bootstrap: store,
	}
	d.controller = refresh.New(refresh.Options{
		Bootstrap: store,
		Installer: installer,
		Prober:    prober,
		Log:       d.journal,
		Banner:    []string{fmt.Sprintf("nicd %s, OpenNIC resolver pool daemon", Version)},
		Clock:     opts.Clock,
		Rand:      opts.Rand,
	})
	d.server = api.NewServer(api.Options{
		Backend:   d,
		Journal:   d.journal,
		Logger:    opts.Logger,
		RateLimit: api.DefaultRateLimit,
		RateBurst: api.DefaultRateBurst,
	})
	return d, nil
}

// Run starts the control server, performs the first refresh and then serves
// ticks and client events until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.start(ctx)
	defer d.stop()

	fast := d.clock.NewTicker(d.config.FastTick)
	defer fast.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("shutting down")
			return nil
		case <-fast.Chan():
			d.FastTick(ctx)
		case <-d.slowChan():
			d.SlowTick(ctx)
		case ev := <-d.server.Events():
			d.server.Handle(ctx, ev)
		}
	}
}

func (d *Daemon) start(ctx context.Context) {
	d.reloadSettings(ctx, true)

	d.listenPort = d.settings.TCPListenPort
	if d.config.Port != 0 {
		d.listenPort = d.config.Port
	}
	// Without a control port the refresh loop still runs; clients just
	// cannot connect.
	if err := d.server.Listen(d.listenPort); err != nil {
		d.journal.Addf("There was a problem opening the control port: %v", err)
		d.logger.Error().Err(err).Msg("control server unavailable")
	}

	d.controller.Refresh(ctx, false)
}

func (d *Daemon) stop() {
	if d.slow != nil {
		d.slow.Stop()
		d.slow = nil
	}
	if err := d.server.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("closing control server")
	}
}

// FastTick reloads settings, refreshes if needed and updates clients.
func (d *Daemon) FastTick(ctx context.Context) {
	d.reloadSettings(ctx, false)
	d.controller.Refresh(ctx, false)
	d.logger.Debug().
		Stringer("state", d.controller.State()).
		Int("active", d.controller.ActiveLen()).
		Int("quarantined", d.controller.Quarantined()).
		Msg("fast tick")
	if d.server.Sessions() > 0 {
		d.server.PurgeDeadSessions()
		d.server.Broadcast(ctx)
	}
}

// SlowTick forces a refresh and re-arms the slow timer.
func (d *Daemon) SlowTick(ctx context.Context) {
	d.controller.Refresh(ctx, true)
	d.armSlow()
}

func (d *Daemon) slowChan() <-chan time.Time {
	if d.slow == nil {
		return nil
	}
	return d.slow.Chan()
}

func (d *Daemon) armSlow() {
	if d.slow != nil {
		d.slow.Stop()
		d.slow = nil
	}
	if d.settings.RefreshTimerPeriod > 0 {
		d.slow = d.clock.NewTimer(time.Duration(d.settings.RefreshTimerPeriod) * time.Minute)
	}
}

// reloadSettings applies the persisted settings. On the first load a broken
// file still yields defaults; later a broken file is ignored.
func (d *Daemon) reloadSettings(ctx context.Context, initial bool) {
	s, err := d.store.Load()
	if err != nil {
		d.logger.Warn().Err(err).Str("path", d.store.Path()).Msg("loading settings")
		if !initial {
			return
		}
	}
	d.settings.TCPListenPort = s.TCPListenPort
	d.SetRefreshPeriod(s.RefreshTimerPeriod)
	d.SetResolverCacheSize(ctx, s.ResolverCacheSize)
}

func (d *Daemon) ResolverCacheSize() int {
	return d.settings.ResolverCacheSize
}

// SetResolverCacheSize changes the target number of active resolvers and
// updates DNS right away. Negative or unchanged sizes are ignored.
func (d *Daemon) SetResolverCacheSize(ctx context.Context, n int) {
	if n < 0 || n == d.settings.ResolverCacheSize {
		return
	}
	d.settings.ResolverCacheSize = n
	d.controller.SetTarget(n)
	d.journal.Addf("** ACTIVE CACHE SET TO %d RESOLVERS **", n)
	d.controller.UpdateDNS(ctx, n)
}

func (d *Daemon) RefreshPeriod() int {
	return d.settings.RefreshTimerPeriod
}

// SetRefreshPeriod changes the forced refresh period in minutes and
// restarts the slow timer. A period of 0 disables forced refreshes.
func (d *Daemon) SetRefreshPeriod(minutes int) {
	if minutes < 0 || minutes == d.settings.RefreshTimerPeriod {
		return
	}
	d.settings.RefreshTimerPeriod = minutes
	d.journal.Addf("** DNS REFRESH IN %d MINUTES **", minutes)
	d.armSlow()
}

func (d *Daemon) UpdateDNS(ctx context.Context) int {
	return d.controller.UpdateDNS(ctx, d.settings.ResolverCacheSize)
}

func (d *Daemon) SaveSettings() error {
	return d.store.Save(d.settings)
}

func (d *Daemon) SaveTier1(list []string) error {
	return d.bootstrap.SaveTier1(list)
}

func (d *Daemon) SaveTestDomains(list []string) error {
	return d.bootstrap.SaveTestDomains(list)
}

func (d *Daemon) Status(ctx context.Context) api.Status {
	tier1, err := d.bootstrap.Tier1(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("reading tier-1 list")
	}
	domains, err := d.bootstrap.TestDomains()
	if err != nil {
		d.logger.Warn().Err(err).Msg("reading test domains")
	}
	return api.Status{
		ListenPort:        d.listenPort,
		RefreshPeriod:     d.settings.RefreshTimerPeriod,
		ResolverCacheSize: d.settings.ResolverCacheSize,
		Pool:              d.controller.Universe(),
		Cache:             d.controller.Active(),
		Tier1:             tier1,
		Domains:           domains,
		SystemText:        d.controller.SystemText(),
	}
}

// Journal exposes the user-visible log.
func (d *Daemon) Journal() *journal.Journal {
	return d.journal
}

func (d *Daemon) Controller() *refresh.Controller {
	return d.controller
}

// Addr returns the control server address, or "" when it is not listening.
func (d *Daemon) Addr() string {
	if addr := d.server.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}
