package cli

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexcatdad/nicd/internal/api"
	"github.com/alexcatdad/nicd/internal/client"
	"github.com/alexcatdad/nicd/internal/wire"
)

// fakeDaemon answers every session. With push set it sends a snapshot as
// soon as a session opens; otherwise it answers each received message.
type fakeDaemon struct {
	port int

	mu       sync.Mutex
	received []wire.Message
}

func startFakeDaemon(t *testing.T, push bool, reply func(wire.Message) wire.Message) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	f := &fakeDaemon{port: ln.Addr().(*net.TCPAddr).Port}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if push {
					wire.WriteMessage(conn, reply(nil))
					return
				}
				for {
					msg, err := wire.ReadMessage(conn)
					if err != nil {
						return
					}
					f.mu.Lock()
					f.received = append(f.received, msg)
					f.mu.Unlock()
					if err := wire.WriteMessage(conn, reply(msg)); err != nil {
						return
					}
				}
			}()
		}
	}()
	return f
}

func (f *fakeDaemon) messages() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Message(nil), f.received...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewNicctlCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sampleSnapshot() wire.Message {
	return wire.Message{
		api.KeyTCPListenPort:      19803,
		api.KeyRefreshTimerPeriod: 1,
		api.KeyResolverCacheSize:  3,
		api.KeyResolverPool:       []string{"192.0.2.1 [T1]", "198.51.100.1 [T2]", "198.51.100.2 [T2]"},
		api.KeyResolverCache:      []string{"192.0.2.1 [T1]", "198.51.100.1 [T2]"},
		api.KeyBootstrapT1List:    []string{"192.0.2.1"},
		api.KeyBootstrapDomains:   []string{"example.org"},
		api.KeySystemText:         "nameserver 192.0.2.1\nnameserver 198.51.100.1\n",
		api.KeyJournalText:        []string{"240309140507|** COLD BOOT **"},
		api.KeyAsyncMessage:       "",
	}
}

func TestNicctl_Status(t *testing.T) {
	f := startFakeDaemon(t, true, func(wire.Message) wire.Message { return sampleSnapshot() })

	out, err := execute(t, "--port", strconv.Itoa(f.port), "status", "--journal")
	require.NoError(t, err)

	assert.Contains(t, out, "Cache size:      3")
	assert.Contains(t, out, "Active resolvers (2):")
	assert.Contains(t, out, "  198.51.100.1 [T2]")
	assert.Contains(t, out, "Resolver pool (3):")
	assert.Contains(t, out, "  nameserver 198.51.100.1")
	assert.Contains(t, out, "24-03-09 14:05:07 ** COLD BOOT **")
}

func TestNicctl_Set(t *testing.T) {
	f := startFakeDaemon(t, false, func(msg wire.Message) wire.Message {
		snap := sampleSnapshot()
		if n, ok := msg.Int(api.KeyResolverCacheSize); ok {
			snap[api.KeyResolverCacheSize] = n
		}
		if n, ok := msg.Int(api.KeyRefreshTimerPeriod); ok {
			snap[api.KeyRefreshTimerPeriod] = n
		}
		snap[api.KeyAsyncMessage] = api.NoticeSettingsApplied
		return snap
	})

	out, err := execute(t, "-p", strconv.Itoa(f.port), "set", "--cache-size", "5", "--refresh-period", "0")
	require.NoError(t, err)

	assert.Contains(t, out, ">> Settings Applied")
	assert.Contains(t, out, "resolver cache size: 5")
	assert.Contains(t, out, "refresh period: 0 min")

	msgs := f.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{api.KeyRefreshTimerPeriod, api.KeyResolverCacheSize}, msgs[0].Keys())
}

func TestNicctl_SetNothing(t *testing.T) {
	_, err := execute(t, "set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to set")
}

func TestNicctl_ListSet(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		key     string
		notice  string
		wantErr bool
	}{
		{"t1 saved", []string{"t1", "set", "192.0.2.1", "192.0.2.2"}, api.KeyBootstrapT1List, api.NoticeT1Saved, false},
		{"t1 rejected", []string{"t1", "set", "bogus"}, api.KeyBootstrapT1List, api.NoticeT1Failed, true},
		{"domains saved", []string{"domains", "set", "example.org"}, api.KeyBootstrapDomains, api.NoticeDomainsSaved, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := startFakeDaemon(t, false, func(wire.Message) wire.Message {
				snap := sampleSnapshot()
				snap[api.KeyAsyncMessage] = tt.notice
				return snap
			})

			out, err := execute(t, append([]string{"-p", strconv.Itoa(f.port)}, tt.args...)...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out, ">> "+tt.notice)

			msgs := f.messages()
			require.Len(t, msgs, 1)
			list, ok := msgs[0].Strings(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.args[2:], list)
		})
	}
}

func TestNicctl_UpdateDNS(t *testing.T) {
	f := startFakeDaemon(t, false, func(wire.Message) wire.Message { return sampleSnapshot() })

	out, err := execute(t, "-p", strconv.Itoa(f.port), "update-dns")
	require.NoError(t, err)
	assert.Contains(t, out, "Active resolvers (2):")

	msgs := f.messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Has(api.KeyUpdateDNS))
}

func TestNicctl_NotRunning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = execute(t, "-p", strconv.Itoa(port), "status")
	assert.ErrorIs(t, err, client.ErrNotRunning)
}

func TestVersionCommands(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "nicctl version dev\n", out)

	cmd := NewNicdCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "nicd version dev\n", buf.String())
}

func TestNicdCommandTree(t *testing.T) {
	cmd := NewNicdCommand()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"run", "setup", "uninstall", "doctor", "version"})

	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	for _, flag := range []string{"foreground", "dry-run", "port", "log-level"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
}

func TestRunDoctor(t *testing.T) {
	pass := func(context.Context) (bool, string) { return true, "fine" }
	fail := func(context.Context) (bool, string) { return false, "broken" }

	var out bytes.Buffer
	require.NoError(t, runDoctor(context.Background(), &out, []check{pass, pass}))
	assert.Contains(t, out.String(), "✓ fine")
	assert.Contains(t, out.String(), "All checks passed.")

	out.Reset()
	err := runDoctor(context.Background(), &out, []check{pass, fail, fail})
	require.Error(t, err)
	assert.Contains(t, out.String(), "✗ broken")
	assert.Contains(t, out.String(), "2 check(s) failed.")
}

func TestDoctorCheckControlPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	ok, msg := doctorCheckControlPort(context.Background(), nil, port)
	assert.True(t, ok, msg)

	require.NoError(t, ln.Close())
	ok, msg = doctorCheckControlPort(context.Background(), nil, port)
	assert.False(t, ok)
	assert.Contains(t, msg, "not answering")
}

func TestFormatJournalLine(t *testing.T) {
	assert.Equal(t, "24-03-09 14:05:07 ** UPDATE DNS **", formatJournalLine("240309140507|** UPDATE DNS **"))
	assert.Equal(t, "no separator", formatJournalLine("no separator"))
	assert.Equal(t, "bad|stamp", formatJournalLine("bad|stamp"))
}

func TestMerge(t *testing.T) {
	got := merge(wire.Message{"a": 1}, wire.Message{"b": 2})
	assert.Equal(t, wire.Message{"a": 1, "b": 2}, got)
}
