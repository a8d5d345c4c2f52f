package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wricardo/kartrace/game/lobby"
	"github.com/wricardo/kartrace/game/race"
	"github.com/wricardo/kartrace/game/store"
)

const DefaultSendBuffer = 256

// Lobby is the part of the lobby coordinator sessions drive
type Lobby interface {
	Join(m lobby.Member) (lobby.JoinResult, error)
	SetReady(sessionID string, ready bool) error
	SetVehicle(sessionID string, vehicle int) error
	SetMap(sessionID string, mapChoice int) error
	Leave(sessionID string) bool
	Seat(sessionID string) (lobby.Seat, bool)
	Vehicle(slot int) (int, bool)
	Count() int
	Map() int
}

// Match is the part of the match coordinator sessions drive
type Match interface {
	Relay(sessionID string, t race.Telemetry) bool
	ReportCollision(sessionID string, c race.Collision) bool
	DeclareWin(ctx context.Context, sessionID string) bool
	End(ctx context.Context, sessionID string) bool
	Leave(ctx context.Context, sessionID string) bool
	Participating(sessionID string) bool
	Active() bool
}

// Options tunes per-session resources
type Options struct {
	// SendBuffer is the outbound queue length of each session
	SendBuffer int
	// TelemetryRate caps relayed telemetry per second; 0 disables the cap
	TelemetryRate  float64
	TelemetryBurst int
}

// Server turns accepted connections into sessions
type Server struct {
	opts     Options
	registry *Registry
	lobby    Lobby
	match    Match
	store    store.Store
	log      *logrus.Entry
	wg       sync.WaitGroup
}

// NewServer creates a server around its collaborators
func NewServer(opts Options, reg *Registry, l Lobby, m Match, st store.Store, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	return &Server{
		opts:     opts,
		registry: reg,
		lobby:    l,
		match:    m,
		store:    st,
		log:      log.WithField("component", "server"),
	}
}

// Registry returns the session registry
func (srv *Server) Registry() *Registry {
	return srv.registry
}

// Accept waits for one connection on ln and starts its session.
func (srv *Server) Accept(ctx context.Context, ln Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		return err
	}

	s := srv.newSession(conn)
	if err := srv.registry.Register(s); err != nil {
		conn.Close()
		return fmt.Errorf("failed to register session: %w", err)
	}
	s.log.Info("Client connected")

	srv.wg.Add(2)
	go func() {
		defer srv.wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer srv.wg.Done()
		s.readLoop(ctx)
	}()
	return nil
}

// Serve accepts connections on ln until ctx is cancelled or ln fails.
func (srv *Server) Serve(ctx context.Context, ln Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	srv.log.WithField("addr", ln.Addr()).Info("Accepting connections")
	for {
		if err := srv.Accept(ctx, ln); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrListenerClosed) {
				return nil
			}
			if errors.Is(err, ErrSessionAlreadyExists) {
				srv.log.WithError(err).Warn("Dropped connection")
				continue
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}
	}
}

// Sessions describes every live session, oldest first.
func (srv *Server) Sessions() []Info {
	return xslices.Map(srv.registry.List(), func(s *Session) Info { return s.Info() })
}

// Session describes one live session
func (srv *Server) Session(id string) (Info, error) {
	s, err := srv.registry.Get(id)
	if err != nil {
		return Info{}, err
	}
	return s.Info(), nil
}

// Kick closes a session on behalf of an operator.
func (srv *Server) Kick(id string) error {
	s, err := srv.registry.Get(id)
	if err != nil {
		return err
	}
	s.Send(goodbyeLine)
	s.Close("kicked")
	return nil
}

// Shutdown closes every session and waits for their goroutines.
func (srv *Server) Shutdown() {
	srv.registry.CloseAll("server shutdown")
	srv.wg.Wait()
}

func (srv *Server) newSession(conn Conn) *Session {
	id := uuid.NewString()
	now := srv.registry.now()

	limit := rate.Inf
	if srv.opts.TelemetryRate > 0 {
		limit = rate.Limit(srv.opts.TelemetryRate)
	}
	burst := srv.opts.TelemetryBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Session{
		id:          id,
		conn:        conn,
		srv:         srv,
		state:       StateConnecting,
		connectedAt: now,
		now:         srv.registry.now,
		send:        make(chan string, srv.opts.SendBuffer),
		done:        make(chan struct{}),
		limiter:     rate.NewLimiter(limit, burst),
		log: srv.log.WithFields(logrus.Fields{
			"component": "session",
			"session":   id,
			"remote":    conn.RemoteAddr(),
		}),
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

// setClock replaces the liveness clock of the registry and new sessions.
func (srv *Server) setClock(now func() time.Time) {
	srv.registry.now = now
}
