// Package client talks to a running nicd over its loopback control port.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/alexcatdad/nicd/internal/api"
	"github.com/alexcatdad/nicd/internal/wire"
)

// DefaultWait covers one housekeeping tick of the daemon plus slack. The
// daemon pushes snapshots on its own schedule, so a read may have to wait
// that long.
const DefaultWait = 15 * time.Second

// Snapshot is a decoded daemon state report.
type Snapshot struct {
	ListenPort        int
	RefreshPeriod     int
	ResolverCacheSize int
	Pool              []string
	Cache             []string
	Tier1             []string
	Domains           []string
	SystemText        string
	Journal           []string
	Notice            string
}

// Decode converts a wire message into a Snapshot. Missing keys keep their
// zero value.
func Decode(msg wire.Message) Snapshot {
	var s Snapshot
	s.ListenPort, _ = msg.Int(api.KeyTCPListenPort)
	s.RefreshPeriod, _ = msg.Int(api.KeyRefreshTimerPeriod)
	s.ResolverCacheSize, _ = msg.Int(api.KeyResolverCacheSize)
	s.Pool, _ = msg.Strings(api.KeyResolverPool)
	s.Cache, _ = msg.Strings(api.KeyResolverCache)
	s.Tier1, _ = msg.Strings(api.KeyBootstrapT1List)
	s.Domains, _ = msg.Strings(api.KeyBootstrapDomains)
	s.SystemText, _ = msg.String(api.KeySystemText)
	s.Journal, _ = msg.Strings(api.KeyJournalText)
	s.Notice, _ = msg.String(api.KeyAsyncMessage)
	return s
}

// ErrNotRunning is returned by Dial when nothing answers on the port.
var ErrNotRunning = errors.New("nicd is not running")

// Client is one session with the daemon. It is not safe for concurrent use.
type Client struct {
	conn net.Conn
}

// Addr returns the loopback control address for port.
func Addr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// Dial opens a session with the daemon at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, fmt.Errorf("%w (%s): %v", ErrNotRunning, addr, err)
		}
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one command message.
func (c *Client) Send(ctx context.Context, msg wire.Message) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return wire.WriteMessage(c.conn, msg)
}

// Receive waits for the next snapshot. It gives up after DefaultWait when
// ctx has no deadline.
func (c *Client) Receive(ctx context.Context) (Snapshot, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultWait)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Snapshot{}, err
	}

	// Unblock the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	msg, err := wire.ReadMessage(c.conn)
	if err != nil {
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		return Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	return Decode(msg), nil
}

// Watch calls fn with every snapshot until ctx is cancelled, fn returns an
// error or the daemon closes the session.
func (c *Client) Watch(ctx context.Context, fn func(Snapshot) error) error {
	for {
		snap, err := c.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

// Apply sends msg and returns the snapshot that answers it. When msg
// changes nothing the daemon sends no immediate reply; the next periodic
// snapshot is returned instead.
func (c *Client) Apply(ctx context.Context, msg wire.Message) (Snapshot, error) {
	if err := c.Send(ctx, msg); err != nil {
		return Snapshot{}, fmt.Errorf("sending command: %w", err)
	}
	return c.Receive(ctx)
}

// SetCacheSize builds a resolver_cache_size command.
func SetCacheSize(n int) wire.Message {
	return wire.Message{api.KeyResolverCacheSize: n}
}

// SetRefreshPeriod builds a refresh_timer_period command.
func SetRefreshPeriod(minutes int) wire.Message {
	return wire.Message{api.KeyRefreshTimerPeriod: minutes}
}

// SetTier1 builds a bootstrap_t1_list command.
func SetTier1(list []string) wire.Message {
	return wire.Message{api.KeyBootstrapT1List: list}
}

// SetDomains builds a bootstrap_domains command.
func SetDomains(list []string) wire.Message {
	return wire.Message{api.KeyBootstrapDomains: list}
}

// UpdateDNS builds an update_dns command. The daemon only looks at the key;
// the value is an integer because frames carry no booleans.
func UpdateDNS() wire.Message {
	return wire.Message{api.KeyUpdateDNS: 1}
}
