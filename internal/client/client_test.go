package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexcatdad/nicd/internal/api"
	"github.com/alexcatdad/nicd/internal/wire"
)

// fakeDaemon accepts one session, hands every received message to reply
// and writes back whatever reply returns.
func fakeDaemon(t *testing.T, reply func(wire.Message) wire.Message) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msg, err := wire.ReadMessage(conn)
			if err != nil {
				return
			}
			if out := reply(msg); out != nil {
				if err := wire.WriteMessage(conn, out); err != nil {
					return
				}
			}
		}
	}()
	return ln.Addr().String()
}

func TestDecode(t *testing.T) {
	snap := Decode(wire.Message{
		api.KeyTCPListenPort:      uint64(19803),
		api.KeyRefreshTimerPeriod: uint64(1),
		api.KeyResolverCacheSize:  uint64(3),
		api.KeyResolverPool:       []any{"192.0.2.1 [T1]", "198.51.100.1 [T2]"},
		api.KeyResolverCache:      []any{"192.0.2.1 [T1]"},
		api.KeySystemText:         "nameserver 192.0.2.1\n",
		api.KeyJournalText:        []any{"240309140507|** COLD BOOT **"},
		api.KeyAsyncMessage:       "Settings Applied",
	})

	assert.Equal(t, 19803, snap.ListenPort)
	assert.Equal(t, 1, snap.RefreshPeriod)
	assert.Equal(t, 3, snap.ResolverCacheSize)
	assert.Equal(t, []string{"192.0.2.1 [T1]", "198.51.100.1 [T2]"}, snap.Pool)
	assert.Equal(t, []string{"192.0.2.1 [T1]"}, snap.Cache)
	assert.Empty(t, snap.Tier1)
	assert.Equal(t, "nameserver 192.0.2.1\n", snap.SystemText)
	assert.Equal(t, []string{"240309140507|** COLD BOOT **"}, snap.Journal)
	assert.Equal(t, "Settings Applied", snap.Notice)
}

func TestApply(t *testing.T) {
	addr := fakeDaemon(t, func(msg wire.Message) wire.Message {
		n, _ := msg.Int(api.KeyResolverCacheSize)
		return wire.Message{
			api.KeyResolverCacheSize: n,
			api.KeyAsyncMessage:      api.NoticeSettingsApplied,
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	snap, err := c.Apply(ctx, SetCacheSize(5))
	require.NoError(t, err)
	assert.Equal(t, 5, snap.ResolverCacheSize)
	assert.Equal(t, api.NoticeSettingsApplied, snap.Notice)
}

func TestCommandMessages(t *testing.T) {
	assert.Equal(t, wire.Message{"resolver_cache_size": 4}, SetCacheSize(4))
	assert.Equal(t, wire.Message{"refresh_timer_period": 0}, SetRefreshPeriod(0))
	assert.Equal(t, wire.Message{"bootstrap_t1_list": []string{"192.0.2.1"}}, SetTier1([]string{"192.0.2.1"}))
	assert.Equal(t, wire.Message{"bootstrap_domains": []string{"example.org"}}, SetDomains([]string{"example.org"}))
	assert.Equal(t, wire.Message{"update_dns": 1}, UpdateDNS())
	for _, v := range UpdateDNS() {
		assert.IsType(t, 0, v, "frames carry strings, integers and string lists only")
	}
}

func TestReceive_Cancelled(t *testing.T) {
	addr := fakeDaemon(t, func(wire.Message) wire.Message { return nil })

	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), DefaultWait)
}

func TestWatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 1; i <= 3; i++ {
			if err := wire.WriteMessage(conn, wire.Message{api.KeyResolverCacheSize: i}); err != nil {
				return
			}
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sizes []int
	err = c.Watch(ctx, func(s Snapshot) error {
		sizes = append(sizes, s.ResolverCacheSize)
		if len(sizes) == 3 {
			cancel()
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, sizes)
}

func TestDial_NotRunning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:19803", Addr(19803))
}
