// Package api serves the loopback control protocol used by nicctl and other
// UI clients.
//
// Network I/O runs on its own goroutines, but everything else happens on the
// goroutine that consumes Events: registering sessions, applying messages,
// purging and broadcasting.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/alexcatdad/nicd/internal/wire"
)

const (
	// DefaultMaxPendingSessions is how many accepted connections may wait
	// for registration before new ones are refused.
	DefaultMaxPendingSessions = 10

	// DefaultWriteTimeout bounds a snapshot write to one session.
	DefaultWriteTimeout = 2 * time.Second

	eventBuffer = 64
)

// Backend is the daemon state the server reads and mutates.
type Backend interface {
	ResolverCacheSize() int
	SetResolverCacheSize(ctx context.Context, n int)
	RefreshPeriod() int
	SetRefreshPeriod(minutes int)
	UpdateDNS(ctx context.Context) int
	SaveSettings() error
	SaveTier1(list []string) error
	SaveTestDomains(list []string) error
	Status(ctx context.Context) Status
}

// Status is the backend half of a snapshot.
type Status struct {
	ListenPort        int
	RefreshPeriod     int
	ResolverCacheSize int
	Pool              []string
	Cache             []string
	Tier1             []string
	Domains           []string
	SystemText        string
}

// Journal is the user-visible log shipped with each snapshot.
type Journal interface {
	Add(msg string)
	Lines() []string
	Clear()
}

// Event is delivered on Server.Events for the owner goroutine to Handle.
type Event struct {
	Kind    EventKind
	Session *Session
	Message wire.Message
}

type Options struct {
	Backend Backend
	Journal Journal
	Logger  zerolog.Logger

	MaxPendingSessions int
	RateLimit          rate.Limit
	RateBurst          int
	WriteTimeout       time.Duration
}

type Server struct {
	backend Backend
	journal Journal
	logger  zerolog.Logger

	maxPending   int32
	rateLimit    rate.Limit
	rateBurst    int
	writeTimeout time.Duration

	listener net.Listener
	events   chan Event
	pending  atomic.Int32
	done     chan struct{}
	stop     sync.Once
	wg       sync.WaitGroup

	// Owned by the event goroutine.
	sessions []*Session
	notice   string
}

func NewServer(opts Options) *Server {
	if opts.MaxPendingSessions <= 0 {
		opts.MaxPendingSessions = DefaultMaxPendingSessions
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Server{
		backend:      opts.Backend,
		journal:      opts.Journal,
		logger:       opts.Logger.With().Str("component", "api").Logger(),
		maxPending:   int32(opts.MaxPendingSessions),
		rateLimit:    opts.RateLimit,
		rateBurst:    opts.RateBurst,
		writeTimeout: opts.WriteTimeout,
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
	}
}

// Listen binds the loopback control port and starts accepting sessions.
// Port 0 picks a free port.
func (s *Server) Listen(port int) error {
	if s.listener != nil {
		return errors.New("already listening")
	}
	// SECURITY: loopback only; the protocol is unauthenticated.
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.journal.Add(fmt.Sprintf("listening on port %d", ln.Addr().(*net.TCPAddr).Port))

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Listen succeeds.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Events() <-chan Event {
	return s.events
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if s.pending.Add(1) > s.maxPending {
			s.pending.Add(-1)
			s.logger.Warn().Stringer("remote", conn.RemoteAddr()).Msg("too many pending sessions, refusing connection")
			conn.Close()
			continue
		}

		sess := newSession(conn, newLimiter(s.rateLimit, s.rateBurst))
		if !s.send(Event{Kind: EventAccepted, Session: sess}) {
			conn.Close()
			return
		}
	}
}

func (s *Server) readLoop(sess *Session) {
	defer s.wg.Done()
	for {
		msg, err := wire.ReadMessage(sess.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Err(err).Str("session", sess.ID).Msg("session read failed")
			}
			sess.markDead()
			s.send(Event{Kind: EventClosed, Session: sess})
			return
		}
		if !sess.limiter.Allow() {
			s.logger.Warn().Str("session", sess.ID).Msg("rate limit exceeded, message dropped")
			continue
		}
		if !s.send(Event{Kind: EventMessage, Session: sess, Message: msg}) {
			return
		}
	}
}

func (s *Server) send(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Handle applies one event. It must be called from the goroutine that owns
// the server state.
func (s *Server) Handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventAccepted:
		s.Accept(ev.Session)
	case EventMessage:
		s.HandleMessage(ctx, ev.Session, ev.Message)
	case EventClosed:
		s.logger.Debug().Str("session", ev.Session.ID).Msg("session closed by peer")
	}
}

// Accept registers a new session and starts reading from it.
func (s *Server) Accept(sess *Session) {
	s.pending.Add(-1)
	select {
	case <-s.done:
		sess.close()
		return
	default:
	}
	s.sessions = append(s.sessions, sess)
	s.journal.Add("** client session created **")
	s.logger.Debug().Str("session", sess.ID).Stringer("remote", sess.RemoteAddr()).Msg("session registered")

	s.wg.Add(1)
	go s.readLoop(sess)
}

// Sessions returns the number of registered sessions, dead or alive.
func (s *Server) Sessions() int {
	return len(s.sessions)
}

// Notice returns the pending asynchronous notice.
func (s *Server) Notice() string {
	return s.notice
}

// PurgeDeadSessions releases sessions whose peer has gone away and returns
// how many were removed.
func (s *Server) PurgeDeadSessions() int {
	before := len(s.sessions)
	s.sessions = slices.DeleteFunc(s.sessions, func(sess *Session) bool {
		if sess.Open() {
			return false
		}
		sess.close()
		s.journal.Add("** CLIENT SESSION DISPOSED **")
		return true
	})
	return before - len(s.sessions)
}

// Broadcast sends one snapshot to every open session and returns the number
// of sessions that received it. The journal and the pending notice are
// cleared only when at least one session received the snapshot.
func (s *Server) Broadcast(ctx context.Context) int {
	if !slices.ContainsFunc(s.sessions, (*Session).Open) {
		return 0
	}

	frame, err := wire.Marshal(s.snapshot(ctx))
	if err != nil {
		s.logger.Error().Err(err).Msg("encoding snapshot")
		return 0
	}

	sent := 0
	for _, sess := range s.sessions {
		if !sess.Open() {
			continue
		}
		if err := s.write(sess, frame); err != nil {
			s.logger.Debug().Err(err).Str("session", sess.ID).Msg("snapshot write failed")
			sess.markDead()
			continue
		}
		sent++
	}
	if sent > 0 {
		s.journal.Clear()
		s.notice = ""
	}
	return sent
}

func (s *Server) write(sess *Session, frame []byte) error {
	if err := sess.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	_, err := sess.conn.Write(frame)
	return err
}

// Close stops accepting, closes every session and waits for the I/O
// goroutines to exit.
func (s *Server) Close() error {
	var err error
	s.stop.Do(func() {
		close(s.done)
		if s.listener != nil {
			err = s.listener.Close()
		}
		for _, sess := range s.sessions {
			sess.close()
		}
		s.sessions = nil
		s.wg.Wait()

		// Sessions accepted but never registered.
		for {
			select {
			case ev := <-s.events:
				if ev.Kind == EventAccepted {
					ev.Session.close()
				}
			default:
				return
			}
		}
	})
	return err
}
