package session

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wricardo/kartrace/game/lobby"
)

func TestAuthenticationGating(t *testing.T) {
	e := newTestEnv(t)
	c := e.connect(t)

	c.send("PLAYER_READY")
	if got := c.expect("REJECTED"); got != "REJECTED PLAYER_READY not_authenticated" {
		t.Errorf("Unexpected rejection: %q", got)
	}
	c.send("REQUEST_LOBBY_DATA")
	c.expect("REJECTED REQUEST_LOBBY_DATA not_authenticated")

	c.send("HEARTBEAT")
	c.expect("HEARTBEAT_ACK")

	c.send("LOGIN_REQUEST alice wrong")
	c.expect("LOGIN_FAILURE")
	c.send("LOGIN_REQUEST alice")
	c.expect("LOGIN_FAILURE")

	c.send("LOGIN_REQUEST alice pw")
	c.expect("LOGIN_SUCCESS")

	// one identity per session
	c.send("LOGIN_REQUEST bobby pw")
	c.expect("LOGIN_FAILURE")
}

func TestRegisterDoesNotAuthenticate(t *testing.T) {
	e := newTestEnv(t)
	c := e.connect(t)

	c.send("REGISTER_REQUEST eve_1 secret")
	c.expect("REGISTER_SUCCESS")
	c.send("REGISTER_REQUEST eve_1 secret")
	c.expect("REGISTER_FAILURE")
	c.send("REGISTER_REQUEST ev secret")
	c.expect("REGISTER_FAILURE")
	c.send("REGISTER_REQUEST")
	c.expect("REGISTER_FAILURE")

	c.send("UPDATE_MAP 1")
	c.expect("REJECTED UPDATE_MAP not_authenticated")

	c.send("LOGIN_REQUEST eve_1 secret")
	c.expect("LOGIN_SUCCESS")
}

func TestJoinLobbyAnnouncesPlayers(t *testing.T) {
	e := newTestEnv(t)

	alice, data := e.joined(t, "alice")
	if data != "LOBBY_DATA 1 0 0 alice 0" {
		t.Errorf("Unexpected alice LOBBY_DATA: %q", data)
	}

	bobby, data := e.joined(t, "bobby")
	if data != "LOBBY_DATA 2 1 0 bobby 3" {
		t.Errorf("Unexpected bobby LOBBY_DATA: %q", data)
	}
	if got := bobby.expect("PLAYER_JOINED"); got != "PLAYER_JOINED 1 0 false alice 0" {
		t.Errorf("Bobby should learn about alice, got %q", got)
	}
	if got := alice.expect("PLAYER_JOINED"); got != "PLAYER_JOINED 2 1 false bobby 3" {
		t.Errorf("Alice should learn about bobby, got %q", got)
	}

	// a repeat request re-sends the seat without re-joining
	alice.send("REQUEST_LOBBY_DATA")
	if got := alice.expect("LOBBY_DATA"); got != "LOBBY_DATA 1 0 0 alice 0" {
		t.Errorf("Unexpected repeat LOBBY_DATA: %q", got)
	}
	if e.lobby.Count() != 2 {
		t.Errorf("Expected 2 occupants, got %d", e.lobby.Count())
	}

	bobby.send("UPDATE_VEHICLE 5")
	alice.expect("OPPONENT_VEHICLE 2 5")
	alice.send("UPDATE_MAP 2")
	bobby.expect("MAP_CHOICE 2")
	alice.send("REQUEST_VEHICLE 2")
	alice.expect("OPPONENT_VEHICLE 2 5")
	bobby.send("REQUEST_PLAYER_COUNT")
	bobby.expect("PLAYER_COUNT 2")
}

func TestLobbyFull(t *testing.T) {
	e := newTestEnv(t, func(lo *lobby.Options, _ *Options) { lo.Slots = 2 })

	e.joined(t, "alice")
	e.joined(t, "bobby")

	carol := e.login(t, "carol")
	carol.send("REQUEST_LOBBY_DATA")
	carol.expect("LOBBY_DATA_FAILURE")

	// still authenticated, so lobby commands are rejected as not seated
	carol.send("PLAYER_READY")
	carol.expect("REJECTED PLAYER_READY not_in_lobby")
}

func TestMatchFlow(t *testing.T) {
	e := newTestEnv(t)
	alice, _ := e.joined(t, "alice")
	bobby, _ := e.joined(t, "bobby")

	alice.send("PLAYER_READY")
	bobby.expect("OPPONENT_READY 1 true")
	bobby.send("PLAYER_READY")
	alice.expect("MATCH_STARTED 0 1 2")
	bobby.expect("MATCH_STARTED 0 1 2")

	if e.lobby.Count() != 0 {
		t.Errorf("Lobby should be empty once the match started, has %d", e.lobby.Count())
	}

	alice.send("SEND_TELEMETRY 1 90 4.5 10 20")
	bobby.expect("OPPONENT_TELEMETRY 1 90 4.5 10 20")

	alice.send("SEND_COLLISION 1 2 1700000005000 4.5 3")
	bobby.expect("BROADCAST_COLLISION 1 2 1700000005000 4.5 3")

	alice.send("REQUEST_SERVER_STAGE")
	alice.expect("SERVER_STAGE true")

	bobby.send("UPDATE_VEHICLE 3")
	bobby.expect("REJECTED UPDATE_VEHICLE in_match")

	bobby.send("DECLARE_WIN")
	alice.expect("RACE_RESULT 2 bobby")

	waitFor(t, "bobby's win to be recorded", func() bool { return e.store.winsOf("bobby") == 4 })

	alice.send("DECLARE_WIN")
	alice.expect("REJECTED DECLARE_WIN not_in_match")

	// back in the authenticated phase, a new lobby can be joined
	alice.send("REQUEST_LOBBY_DATA")
	if got := alice.expect("LOBBY_DATA"); got != "LOBBY_DATA 1 0 0 alice 0" {
		t.Errorf("Unexpected LOBBY_DATA after the race: %q", got)
	}
}

func TestDisconnectDuringMatch(t *testing.T) {
	e := newTestEnv(t)
	alice, _ := e.joined(t, "alice")
	bobby, _ := e.joined(t, "bobby")
	alice.send("PLAYER_READY")
	bobby.send("PLAYER_READY")
	alice.expect("MATCH_STARTED")

	bobby.send("END_CONNECTION")
	bobby.expect("END_CONNECTION")
	bobby.expectClosed()
	alice.expect("PLAYER_LEFT 2")

	alice.send("END_MATCH")
	waitFor(t, "match to end", func() bool { return !e.match.Active() })
}

func TestLivenessSweep(t *testing.T) {
	e := newTestEnv(t)

	alice, _ := e.joined(t, "alice")
	bobby := e.login(t, "bobby")

	e.advance(3 * time.Minute)
	bobby.send("HEARTBEAT")
	bobby.expect("HEARTBEAT_ACK")

	e.advance(3 * time.Minute)
	if n := e.reg.SweepDead(5 * time.Minute); n != 1 {
		t.Fatalf("Expected one silent session closed, got %d", n)
	}
	alice.expectClosed()

	if e.lobby.Count() != 0 {
		t.Errorf("Alice's slot should return to the pool, lobby has %d", e.lobby.Count())
	}
	if e.reg.Count() != 1 {
		t.Errorf("Expected bobby to remain registered, got %d sessions", e.reg.Count())
	}

	bobby.send("REQUEST_LOBBY_DATA")
	if got := bobby.expect("LOBBY_DATA"); got != "LOBBY_DATA 1 0 0 bobby 3" {
		t.Errorf("Freed slot 1 should be reassigned, got %q", got)
	}
}

func TestUndecodableLinesKeepSession(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "alice")

	c.send("FLY_AWAY")
	c.send("SEND_TELEMETRY nope")
	c.send("")
	c.send("HEARTBEAT")
	c.expect("HEARTBEAT_ACK")
}

// oversizedConn reports one line over the transport limit before any input
type oversizedConn struct {
	*pipeConn
	reported atomic.Bool
}

func (c *oversizedConn) ReadLine() (string, error) {
	if c.reported.CompareAndSwap(false, true) {
		return "", ErrLineTooLong
	}
	return c.pipeConn.ReadLine()
}

func TestOversizedLineKeepsSession(t *testing.T) {
	e := newTestEnv(t)
	conn := &oversizedConn{pipeConn: newPipeConn()}
	select {
	case e.ln.conns <- conn:
	case <-time.After(waitTimeout):
		t.Fatal("Timed out handing connection to the server")
	}

	c := &client{t: t, conn: conn.pipeConn}
	c.send("LOGIN_REQUEST alice pw")
	c.expect("LOGIN_SUCCESS")
	if !conn.reported.Load() {
		t.Error("Expected the oversized line to be read first")
	}
}

func TestInfoQueriesBeforeLogin(t *testing.T) {
	e := newTestEnv(t)
	e.joined(t, "alice")

	c := e.connect(t)
	c.send("REQUEST_PLAYER_COUNT")
	c.expect("PLAYER_COUNT 1")
	c.send("REQUEST_SERVER_STAGE")
	c.expect("SERVER_STAGE false")
}

func TestKick(t *testing.T) {
	e := newTestEnv(t)
	alice, _ := e.joined(t, "alice")

	sessions := e.reg.List()
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	info := sessions[0].Info()
	if info.State != StateInLobby || info.User != "alice" || info.Slot != 1 {
		t.Errorf("Unexpected session info: %+v", info)
	}

	if err := e.srv.Kick(info.ID); err != nil {
		t.Fatalf("Failed to kick: %v", err)
	}
	alice.expect("END_CONNECTION")
	alice.expectClosed()
	waitFor(t, "registry to empty", func() bool { return e.reg.Count() == 0 })

	if err := e.srv.Kick(info.ID); err != ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

type panickyLobby struct {
	*lobby.Coordinator
}

func (panickyLobby) Count() int { panic("boom") }

func TestPanicClosesOnlyThatSession(t *testing.T) {
	e := newTestEnv(t)
	e.srv.lobby = panickyLobby{e.lobby}

	victim := e.connect(t)
	other := e.login(t, "alice")

	victim.send("REQUEST_PLAYER_COUNT")
	victim.expectClosed()

	other.send("HEARTBEAT")
	other.expect("HEARTBEAT_ACK")
}

// kickingLobby closes the first joining session before its seat is granted
type kickingLobby struct {
	*lobby.Coordinator
	srv    *Server
	kicked atomic.Bool
}

func (l *kickingLobby) Join(m lobby.Member) (lobby.JoinResult, error) {
	if l.kicked.CompareAndSwap(false, true) {
		if err := l.srv.Kick(m.SessionID); err != nil {
			return lobby.JoinResult{}, err
		}
	}
	return l.Coordinator.Join(m)
}

func TestCloseDuringJoinReleasesSeat(t *testing.T) {
	e := newTestEnv(t)
	e.srv.lobby = &kickingLobby{Coordinator: e.lobby, srv: e.srv}

	c := e.login(t, "alice")
	c.send("REQUEST_LOBBY_DATA")
	c.expectClosed()

	waitFor(t, "seat release", func() bool { return e.lobby.Count() == 0 })
	if n := e.reg.Count(); n != 0 {
		t.Errorf("Expected 0 registered sessions, got %d", n)
	}

	// slot 1 is back in the pool
	_, data := e.joined(t, "bobby")
	if !strings.HasPrefix(data, "LOBBY_DATA 1 ") {
		t.Errorf("Expected slot 1, got %q", data)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateConnecting:     "CONNECTING",
		StateAuthenticating: "AUTHENTICATING",
		StateAuthenticated:  "AUTHENTICATED",
		StateInLobby:        "IN_LOBBY",
		StateInMatch:        "IN_MATCH",
		StateClosed:         "CLOSED",
		State(42):           "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %s, want %s", int(state), got, want)
		}
	}
}
