package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wricardo/kartrace/game/lobby"
	"github.com/wricardo/kartrace/game/protocol"
	"github.com/wricardo/kartrace/game/race"
)

var goodbyeLine = protocol.Goodbye{}.Line()

// Session is one connected client
type Session struct {
	id          string
	conn        Conn
	srv         *Server
	log         *logrus.Entry
	connectedAt time.Time
	now         func() time.Time

	mu    sync.Mutex
	state State
	user  string
	wins  int
	slot  int

	lastSeen  atomic.Int64
	send      chan string
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

// Info is a point-in-time view of a session for admin surfaces
type Info struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	User        string    `json:"user,omitempty"`
	Slot        int       `json:"slot"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSeen returns when the session last sent any line
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:          s.id,
		State:       s.state,
		User:        s.user,
		Slot:        s.slot,
		Remote:      s.conn.RemoteAddr(),
		ConnectedAt: s.connectedAt,
		LastSeen:    s.LastSeen(),
	}
}

// Send enqueues one line without blocking. It reports false when the
// session is closed or its queue is full.
func (s *Session) Send(line string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- line:
		return true
	default:
		return false
	}
}

// Close tears the session down: it leaves the lobby or match, deregisters
// and lets the writer flush queued output before closing the connection.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateClosed
		s.mu.Unlock()

		s.srv.lobby.Leave(s.id)
		s.srv.match.Leave(context.Background(), s.id)
		s.srv.registry.Deregister(s.id)
		close(s.done)

		s.logger().WithFields(logrus.Fields{
			"reason": reason,
			"state":  prev,
		}).Info("Session closed")
	})
}

// Done is closed once the session is closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) touch() {
	s.lastSeen.Store(s.now().UnixNano())
}

// setState moves to next unless the session was closed meanwhile.
func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = next
	}
}

// logger returns the session log entry with the bound identity and slot.
func (s *Session) logger() *logrus.Entry {
	s.mu.Lock()
	user, slot := s.user, s.slot
	s.mu.Unlock()

	l := s.log
	if user != "" {
		l = l.WithField("user", user)
	}
	if slot != race.NoSlot {
		l = l.WithField("slot", slot)
	}
	return l
}

func (s *Session) reply(evt protocol.Event) {
	if !s.Send(evt.Line()) {
		s.log.WithField("event", evt.Name()).Warn("Dropped reply for slow or closed session")
	}
}

func (s *Session) writeLoop() {
	defer s.conn.Close()

	for {
		select {
		case line := <-s.send:
			if err := s.conn.WriteLine(line); err != nil {
				s.log.WithError(err).Debug("Write failed")
				s.Close("write error")
				return
			}
		case <-s.done:
			// flush what was queued before the close
			for {
				select {
				case line := <-s.send:
					if err := s.conn.WriteLine(line); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.Close("connection closed")
	s.setState(StateAuthenticating)

	for {
		line, err := s.conn.ReadLine()
		if errors.Is(err, ErrLineTooLong) {
			s.touch()
			s.logger().Warn("Ignoring oversized line")
			continue
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.WithError(err).Debug("Read failed")
			}
			return
		}
		s.touch()
		if !s.handleLine(ctx, line) {
			return
		}
	}
}

// handleLine decodes and dispatches one line. It returns false when the
// session must end.
func (s *Session) handleLine(ctx context.Context, line string) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().WithField("panic", r).Error("Recovered from panic while handling command")
			keep = false
		}
	}()

	cmd, err := protocol.Decode(line)
	if err != nil {
		s.handleDecodeError(err)
		return true
	}
	return s.dispatch(ctx, cmd)
}

func (s *Session) handleDecodeError(err error) {
	if errors.Is(err, protocol.ErrEmptyLine) {
		return
	}
	var de *protocol.DecodeError
	if errors.As(err, &de) && errors.Is(err, protocol.ErrMalformed) {
		switch de.Command {
		case protocol.CmdLogin:
			s.reply(protocol.LoginResult{OK: false})
			return
		case protocol.CmdRegister:
			s.reply(protocol.RegisterResult{OK: false})
			return
		}
	}
	s.logger().WithError(err).Warn("Ignoring undecodable line")
}

func (s *Session) dispatch(ctx context.Context, cmd protocol.Command) bool {
	s.syncPhase()

	switch c := cmd.(type) {
	case protocol.Heartbeat:
		s.reply(protocol.HeartbeatAck{})
		return true
	case protocol.EndConnection:
		s.reply(protocol.Goodbye{})
		return false
	case protocol.RequestPlayerCount:
		s.reply(protocol.PlayerCount{Count: s.srv.lobby.Count()})
		return true
	case protocol.RequestServerStage:
		s.reply(protocol.ServerStage{MatchActive: s.srv.match.Active()})
		return true
	case protocol.Login:
		s.authenticate(ctx, c)
		return true
	case protocol.Register:
		s.register(ctx, c)
		return true
	}

	state := s.State()
	if !state.authenticated() {
		s.reply(protocol.Rejected{Command: cmd.Name(), Reason: protocol.ReasonNotAuthenticated})
		return true
	}

	switch c := cmd.(type) {
	case protocol.RequestLobbyData:
		s.joinLobby(ctx, state)
	case protocol.RequestVehicle:
		s.requestVehicle(c.Slot)
	case protocol.SetReady:
		if s.requireLobby(cmd, state) {
			s.srv.lobby.SetReady(s.id, c.Ready)
		}
	case protocol.UpdateVehicle:
		if s.requireLobby(cmd, state) {
			s.srv.lobby.SetVehicle(s.id, c.Vehicle)
		}
	case protocol.UpdateMap:
		if s.requireLobby(cmd, state) {
			s.srv.lobby.SetMap(s.id, c.Map)
		}
	case protocol.SendTelemetry:
		// late telemetry after a match ends is normal; drop it quietly
		if state == StateInMatch && s.limiter.Allow() {
			s.srv.match.Relay(s.id, c.Telemetry)
		}
	case protocol.SendCollision:
		if s.requireMatch(cmd, state) {
			s.srv.match.ReportCollision(s.id, c.Collision)
		}
	case protocol.DeclareWin:
		if s.requireMatch(cmd, state) {
			s.srv.match.DeclareWin(ctx, s.id)
		}
	case protocol.EndMatch:
		if s.requireMatch(cmd, state) {
			s.srv.match.End(ctx, s.id)
		}
	default:
		s.log.WithField("command", cmd.Name()).Warn("Unhandled command")
	}
	s.syncPhase()
	return true
}

// syncPhase reconciles the lobby/match phase with the coordinators, which
// move sessions between phases on their own when a match starts or ends.
func (s *Session) syncPhase() {
	switch s.State() {
	case StateInLobby:
		if s.srv.match.Participating(s.id) {
			s.setState(StateInMatch)
			return
		}
		if _, seated := s.srv.lobby.Seat(s.id); !seated {
			s.leavePhase()
		}
	case StateInMatch:
		if !s.srv.match.Participating(s.id) {
			s.leavePhase()
		}
	}
}

func (s *Session) leavePhase() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateAuthenticated
	s.slot = race.NoSlot
}

func (s *Session) requireLobby(cmd protocol.Command, state State) bool {
	switch state {
	case StateInLobby:
		return true
	case StateInMatch:
		s.reply(protocol.Rejected{Command: cmd.Name(), Reason: protocol.ReasonInMatch})
	default:
		s.reply(protocol.Rejected{Command: cmd.Name(), Reason: protocol.ReasonNotInLobby})
	}
	return false
}

func (s *Session) requireMatch(cmd protocol.Command, state State) bool {
	if state == StateInMatch {
		return true
	}
	s.reply(protocol.Rejected{Command: cmd.Name(), Reason: protocol.ReasonNotInMatch})
	return false
}

func (s *Session) authenticate(ctx context.Context, c protocol.Login) {
	if s.State() != StateAuthenticating {
		s.reply(protocol.LoginResult{OK: false})
		return
	}

	ok, err := s.srv.store.Authenticate(ctx, c.User, c.Password)
	if err != nil {
		s.log.WithError(err).WithField("user", c.User).Error("Authentication failed")
	}
	if err != nil || !ok {
		s.reply(protocol.LoginResult{OK: false})
		return
	}

	wins, err := s.srv.store.WinsFor(ctx, c.User)
	if err != nil {
		s.log.WithError(err).WithField("user", c.User).Warn("Failed to load wins")
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateAuthenticated
	s.user = c.User
	s.wins = wins
	s.mu.Unlock()

	s.logger().Info("Player logged in")
	s.reply(protocol.LoginResult{OK: true})
}

func (s *Session) register(ctx context.Context, c protocol.Register) {
	ok, err := s.srv.store.Register(ctx, c.User, c.Password)
	if err != nil {
		s.log.WithError(err).WithField("user", c.User).Error("Registration failed")
	}
	if ok {
		s.log.WithField("user", c.User).Info("Player registered")
	}
	s.reply(protocol.RegisterResult{OK: err == nil && ok})
}

func (s *Session) joinLobby(ctx context.Context, state State) {
	if state == StateInMatch {
		s.reply(protocol.Rejected{Command: protocol.CmdRequestLobbyData, Reason: protocol.ReasonInMatch})
		return
	}

	s.mu.Lock()
	user := s.user
	s.mu.Unlock()

	if state == StateInLobby {
		if seat, ok := s.srv.lobby.Seat(s.id); ok {
			s.reply(lobbyData(seat, s.srv.lobby.Map()))
			return
		}
	}

	wins, err := s.srv.store.WinsFor(ctx, user)
	if err != nil {
		s.logger().WithError(err).Warn("Failed to load wins")
	}

	res, err := s.srv.lobby.Join(lobby.Member{SessionID: s.id, Name: user, Wins: wins})
	if err != nil {
		if !errors.Is(err, lobby.ErrLobbyFull) {
			s.logger().WithError(err).Error("Failed to join lobby")
		}
		s.reply(protocol.LobbyDataFailure{})
		return
	}

	s.mu.Lock()
	closed := s.state == StateClosed
	if !closed {
		s.state = StateInLobby
		s.slot = res.Seat.Slot
		s.wins = wins
	}
	s.mu.Unlock()

	// Close may have run its lobby Leave before the seat existed
	if closed {
		s.srv.lobby.Leave(s.id)
		return
	}

	s.reply(lobbyData(res.Seat, res.Map))
	for _, other := range res.Others {
		s.reply(protocol.PlayerJoined{
			Slot:    other.Slot,
			Vehicle: other.Vehicle,
			Ready:   other.Ready,
			User:    other.Name,
			Wins:    other.Wins,
		})
	}
}

func (s *Session) requestVehicle(slot int) {
	vehicle, ok := s.srv.lobby.Vehicle(slot)
	if !ok {
		s.log.WithField("requested_slot", slot).Debug("Vehicle requested for empty slot")
		return
	}
	s.reply(protocol.OpponentVehicle{Slot: slot, Vehicle: vehicle})
}

func lobbyData(seat lobby.Seat, mapChoice int) protocol.LobbyData {
	return protocol.LobbyData{
		Slot:    seat.Slot,
		Vehicle: seat.Vehicle,
		Map:     mapChoice,
		User:    seat.Name,
		Wins:    seat.Wins,
	}
}
