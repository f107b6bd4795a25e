package api

import (
	"net"

	"github.com/google/uuid"
	"github.com/tevino/abool"
	"golang.org/x/time/rate"
)

// Session is one connected control client.
type Session struct {
	ID string

	conn    net.Conn
	open    *abool.AtomicBool
	limiter *rate.Limiter
}

func newSession(conn net.Conn, limiter *rate.Limiter) *Session {
	return &Session{
		ID:      uuid.NewString(),
		conn:    conn,
		open:    abool.NewBool(true),
		limiter: limiter,
	}
}

// Open reports whether the session can still be written to.
func (s *Session) Open() bool {
	return s.open.IsSet()
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) markDead() {
	s.open.UnSet()
}

func (s *Session) close() error {
	s.open.UnSet()
	return s.conn.Close()
}

// EventKind identifies what happened on the listener or a session.
type EventKind int

const (
	EventAccepted EventKind = iota + 1
	EventMessage
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventAccepted:
		return "accepted"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}
