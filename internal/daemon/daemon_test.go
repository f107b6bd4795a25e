package daemon

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexcatdad/nicd/internal/api"
	"github.com/alexcatdad/nicd/internal/bootstrap"
	"github.com/alexcatdad/nicd/internal/paths"
	"github.com/alexcatdad/nicd/internal/pool"
	"github.com/alexcatdad/nicd/internal/settings"
	"github.com/alexcatdad/nicd/internal/setup"
	"github.com/alexcatdad/nicd/internal/wire"
)

type staticGlue []netip.Addr

func (g staticGlue) LookupTier2(context.Context, []netip.Addr) ([]netip.Addr, error) {
	return g, nil
}

var alwaysAlive = pool.ProberFunc(func(context.Context, netip.Addr) error { return nil })

type fixture struct {
	daemon    *Daemon
	paths     *paths.Paths
	clock     clockwork.FakeClock
	installer *setup.DryRun
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newFixture(t *testing.T, port int) *fixture {
	t.Helper()
	p := paths.Under(t.TempDir())
	require.NoError(t, bootstrap.NewStore(p, nil).SaveTier1([]string{"192.0.2.1", "192.0.2.2"}))

	f := &fixture{
		paths:     p,
		clock:     clockwork.NewFakeClock(),
		installer: setup.NewDryRun(),
	}
	d, err := New(context.Background(), &Config{Paths: p, Port: port}, Options{
		Clock:     f.clock,
		Logger:    zerolog.Nop(),
		Rand:      rand.New(rand.NewSource(1)),
		Installer: f.installer,
		Prober:    alwaysAlive,
		Glue: staticGlue{
			netip.MustParseAddr("198.51.100.1"),
			netip.MustParseAddr("198.51.100.2"),
			netip.MustParseAddr("198.51.100.3"),
			netip.MustParseAddr("198.51.100.4"),
		},
	})
	require.NoError(t, err)
	f.daemon = d
	return f
}

func (f *fixture) journalContains(substr string) bool {
	for _, line := range f.daemon.Journal().Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestStart_BootstrapsAndListens(t *testing.T) {
	f := newFixture(t, freePort(t))
	f.daemon.start(context.Background())
	defer f.daemon.stop()

	assert.NotEmpty(t, f.daemon.Addr())
	assert.True(t, f.journalContains("** DNS REFRESH IN 1 MINUTES **"))
	assert.True(t, f.journalContains("** ACTIVE CACHE SET TO 3 RESOLVERS **"))
	assert.True(t, f.journalContains("** COLD BOOT **"))
	assert.True(t, f.journalContains("listening on port"))

	assert.True(t, f.daemon.Controller().Initialized())
	assert.Equal(t, []string{"192.0.2.1 [T1]", "192.0.2.2 [T1]", "198.51.100.1 [T2]"}, f.daemon.Controller().Active())
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("192.0.2.2"),
		netip.MustParseAddr("198.51.100.1"),
	}, f.installer.Resolvers())
	assert.NotNil(t, f.daemon.slow, "slow timer armed from the default period")
}

func TestStart_BindFailureIsNotFatal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	f := newFixture(t, ln.Addr().(*net.TCPAddr).Port)
	f.daemon.start(context.Background())
	defer f.daemon.stop()

	assert.Empty(t, f.daemon.Addr())
	assert.True(t, f.journalContains("There was a problem opening the control port"))
	assert.Equal(t, 3, f.daemon.Controller().ActiveLen(), "refresh runs without a control channel")
}

func TestSetRefreshPeriod(t *testing.T) {
	f := newFixture(t, freePort(t))
	f.daemon.start(context.Background())
	defer f.daemon.stop()
	first := f.daemon.slow

	f.daemon.SetRefreshPeriod(-5)
	assert.Equal(t, 1, f.daemon.RefreshPeriod())
	assert.Same(t, first, f.daemon.slow)

	f.daemon.SetRefreshPeriod(15)
	assert.Equal(t, 15, f.daemon.RefreshPeriod())
	assert.NotSame(t, first, f.daemon.slow, "timer is rescheduled")
	assert.True(t, f.journalContains("** DNS REFRESH IN 15 MINUTES **"))

	f.daemon.SetRefreshPeriod(0)
	assert.Nil(t, f.daemon.slow, "zero disables forced refreshes")
	assert.Nil(t, f.daemon.slowChan())
}

func TestSetResolverCacheSize(t *testing.T) {
	f := newFixture(t, freePort(t))
	f.daemon.start(context.Background())
	defer f.daemon.stop()

	f.daemon.SetResolverCacheSize(context.Background(), 5)

	assert.Equal(t, 5, f.daemon.ResolverCacheSize())
	assert.Equal(t, 5, f.daemon.Controller().Target())
	assert.Equal(t, 5, f.daemon.Controller().ActiveLen())
	assert.True(t, f.journalContains("** ACTIVE CACHE SET TO 5 RESOLVERS **"))

	f.daemon.SetResolverCacheSize(context.Background(), -1)
	assert.Equal(t, 5, f.daemon.ResolverCacheSize())

	f.daemon.SetResolverCacheSize(context.Background(), 0)
	assert.Equal(t, 0, f.daemon.ResolverCacheSize())
	assert.Empty(t, f.daemon.Status(context.Background()).Cache, "a zero-size cache reports no active resolvers")
}

func TestFastTick_LogsControllerState(t *testing.T) {
	f := newFixture(t, freePort(t))
	f.daemon.start(context.Background())
	defer f.daemon.stop()

	var buf bytes.Buffer
	f.daemon.logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	f.daemon.FastTick(context.Background())

	assert.Contains(t, buf.String(), `"message":"fast tick"`)
	assert.Contains(t, buf.String(), `"state":"steady"`)
	assert.Contains(t, buf.String(), `"active":3`)
	assert.Contains(t, buf.String(), `"quarantined":0`)
}

func TestFastTick_ReloadsChangedSettings(t *testing.T) {
	f := newFixture(t, freePort(t))
	f.daemon.start(context.Background())
	defer f.daemon.stop()

	s := settings.Defaults()
	s.ResolverCacheSize = 2
	require.NoError(t, settings.NewStore(f.paths.SettingsPath).Save(s))

	f.daemon.FastTick(context.Background())

	assert.Equal(t, 2, f.daemon.ResolverCacheSize())
	assert.Equal(t, 2, f.daemon.Controller().ActiveLen())
}

func TestSlowTick_ForcesUpdate(t *testing.T) {
	f := newFixture(t, freePort(t))
	f.daemon.start(context.Background())
	defer f.daemon.stop()
	f.daemon.Journal().Clear()

	f.daemon.SlowTick(context.Background())

	assert.True(t, f.journalContains("** UPDATE DNS **"))
	assert.NotNil(t, f.daemon.slow, "re-armed")
}

func TestStatus(t *testing.T) {
	f := newFixture(t, freePort(t))
	f.daemon.start(context.Background())
	defer f.daemon.stop()

	st := f.daemon.Status(context.Background())

	assert.Equal(t, 3, st.ResolverCacheSize)
	assert.Equal(t, 1, st.RefreshPeriod)
	assert.Len(t, st.Pool, 6)
	assert.Len(t, st.Cache, 3)
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2"}, st.Tier1)
	assert.Contains(t, st.Domains, "wikipedia.org")
	assert.Contains(t, st.SystemText, "nameserver 192.0.2.1")
}

func TestRun_ClientChangesCacheSize(t *testing.T) {
	port := freePort(t)
	f := newFixture(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.daemon.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		var err error
		conn, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer conn.Close()

	require.NoError(t, wire.WriteMessage(conn, wire.Message{api.KeyResolverCacheSize: 5}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	snap, err := wire.ReadMessage(conn)
	require.NoError(t, err)

	notice, _ := snap.String(api.KeyAsyncMessage)
	assert.Equal(t, api.NoticeSettingsApplied, notice)
	size, _ := snap.Int(api.KeyResolverCacheSize)
	assert.Equal(t, 5, size)
	cache, _ := snap.Strings(api.KeyResolverCache)
	assert.Len(t, cache, 5)

	lines, _ := snap.Strings(api.KeyJournalText)
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "** ACTIVE CACHE SET TO 5 RESOLVERS **")
	assert.Contains(t, joined, "** UPDATE DNS **")

	persisted, err := settings.NewStore(f.paths.SettingsPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 5, persisted.ResolverCacheSize)
}

func TestRun_FastTickBroadcasts(t *testing.T) {
	port := freePort(t)
	f := newFixture(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.daemon.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	var conn net.Conn
	require.Eventually(t, func() bool {
		var err error
		conn, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	defer conn.Close()

	// The loop waits on the fast ticker and the slow timer.
	f.clock.BlockUntil(2)
	// Give the loop a moment to register the session before ticking.
	time.Sleep(50 * time.Millisecond)
	f.clock.Advance(DefaultFastTick)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	snap, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	notice, _ := snap.String(api.KeyAsyncMessage)
	assert.Empty(t, notice)
	universe, _ := snap.Strings(api.KeyResolverPool)
	assert.Len(t, universe, 6)
}

func TestDefaultConfig(t *testing.T) {
	config, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultFastTick, config.FastTick)
	assert.NotEmpty(t, config.Paths.SettingsPath)
	assert.Zero(t, config.Port)
}
