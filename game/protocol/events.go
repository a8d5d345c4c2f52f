package protocol

import (
	"strconv"

	"github.com/wricardo/kartrace/game/race"
)

// Server event names
const (
	EvtLoginSuccess      = "LOGIN_SUCCESS"
	EvtLoginFailure      = "LOGIN_FAILURE"
	EvtRegisterSuccess   = "REGISTER_SUCCESS"
	EvtRegisterFailure   = "REGISTER_FAILURE"
	EvtLobbyData         = "LOBBY_DATA"
	EvtLobbyDataFailure  = "LOBBY_DATA_FAILURE"
	EvtPlayerJoined      = "PLAYER_JOINED"
	EvtPlayerLeft        = "PLAYER_LEFT"
	EvtOpponentReady     = "OPPONENT_READY"
	EvtOpponentVehicle   = "OPPONENT_VEHICLE"
	EvtMapChoice         = "MAP_CHOICE"
	EvtMatchStarted      = "MATCH_STARTED"
	EvtOpponentTelemetry = "OPPONENT_TELEMETRY"
	EvtCollision         = "BROADCAST_COLLISION"
	EvtRaceResult        = "RACE_RESULT"
	EvtMatchEnded        = "MATCH_ENDED"
	EvtPlayerCount       = "PLAYER_COUNT"
	EvtServerStage       = "SERVER_STAGE"
	EvtHeartbeatAck      = "HEARTBEAT_ACK"
	EvtRejected          = "REJECTED"
	EvtEndConnection     = "END_CONNECTION"
)

// Rejection reasons carried by Rejected
const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonNotInLobby       = "not_in_lobby"
	ReasonNotInMatch       = "not_in_match"
	ReasonInMatch          = "in_match"
)

// Event is a server-to-client message
type Event interface {
	// Name returns the wire name of the event
	Name() string
	// Line encodes the event as one protocol line without the trailing newline
	Line() string

	event()
}

// LoginResult answers a Login
type LoginResult struct {
	OK bool
}

// RegisterResult answers a Register
type RegisterResult struct {
	OK bool
}

// LobbyData grants a lobby seat to the requester
type LobbyData struct {
	Slot    int
	Vehicle int
	Map     int
	User    string
	Wins    int
}

// LobbyDataFailure rejects a seat request because the lobby is full
type LobbyDataFailure struct{}

// PlayerJoined describes one occupant completely, so a peer never sees a
// slot without its vehicle, ready flag, name and wins.
type PlayerJoined struct {
	Slot    int
	Vehicle int
	Ready   bool
	User    string
	Wins    int
}

// PlayerLeft tells peers a slot was vacated
type PlayerLeft struct {
	Slot int
}

// OpponentReady carries a peer's ready flag
type OpponentReady struct {
	Slot  int
	Ready bool
}

// OpponentVehicle carries a peer's vehicle choice
type OpponentVehicle struct {
	Slot    int
	Vehicle int
}

// MapChoice carries the shared map choice
type MapChoice struct {
	Map int
}

// MatchStarted announces the roster and map of a new match
type MatchStarted struct {
	Map   int
	Slots []int
}

// OpponentTelemetry relays a peer's kart pose
type OpponentTelemetry struct {
	Telemetry race.Telemetry
}

// BroadcastCollision relays an accepted collision report
type BroadcastCollision struct {
	Collision race.Collision
}

// RaceResult announces the winner of a match
type RaceResult struct {
	Slot int
	User string
}

// MatchEnded announces a match ending without a winner
type MatchEnded struct {
	Reason race.Outcome
}

// PlayerCount answers RequestPlayerCount
type PlayerCount struct {
	Count int
}

// ServerStage answers RequestServerStage
type ServerStage struct {
	MatchActive bool
}

// HeartbeatAck answers Heartbeat
type HeartbeatAck struct{}

// Rejected answers a command that is not allowed in the session's state
type Rejected struct {
	Command string
	Reason  string
}

// Goodbye is the server side of END_CONNECTION
type Goodbye struct{}

func (r LoginResult) Name() string {
	if r.OK {
		return EvtLoginSuccess
	}
	return EvtLoginFailure
}

func (r RegisterResult) Name() string {
	if r.OK {
		return EvtRegisterSuccess
	}
	return EvtRegisterFailure
}

func (LobbyData) Name() string          { return EvtLobbyData }
func (LobbyDataFailure) Name() string   { return EvtLobbyDataFailure }
func (PlayerJoined) Name() string       { return EvtPlayerJoined }
func (PlayerLeft) Name() string         { return EvtPlayerLeft }
func (OpponentReady) Name() string      { return EvtOpponentReady }
func (OpponentVehicle) Name() string    { return EvtOpponentVehicle }
func (MapChoice) Name() string          { return EvtMapChoice }
func (MatchStarted) Name() string       { return EvtMatchStarted }
func (OpponentTelemetry) Name() string  { return EvtOpponentTelemetry }
func (BroadcastCollision) Name() string { return EvtCollision }
func (RaceResult) Name() string         { return EvtRaceResult }
func (MatchEnded) Name() string         { return EvtMatchEnded }
func (PlayerCount) Name() string        { return EvtPlayerCount }
func (ServerStage) Name() string        { return EvtServerStage }
func (HeartbeatAck) Name() string       { return EvtHeartbeatAck }
func (Rejected) Name() string           { return EvtRejected }
func (Goodbye) Name() string            { return EvtEndConnection }

func (r LoginResult) Line() string    { return r.Name() }
func (r RegisterResult) Line() string { return r.Name() }

func (e LobbyData) Line() string {
	return join(EvtLobbyData,
		strconv.Itoa(e.Slot), strconv.Itoa(e.Vehicle), strconv.Itoa(e.Map),
		EscapeName(e.User), strconv.Itoa(e.Wins))
}

func (LobbyDataFailure) Line() string { return EvtLobbyDataFailure }

func (e PlayerJoined) Line() string {
	return join(EvtPlayerJoined,
		strconv.Itoa(e.Slot), strconv.Itoa(e.Vehicle), strconv.FormatBool(e.Ready),
		EscapeName(e.User), strconv.Itoa(e.Wins))
}

func (e PlayerLeft) Line() string { return join(EvtPlayerLeft, strconv.Itoa(e.Slot)) }

func (e OpponentReady) Line() string {
	return join(EvtOpponentReady, strconv.Itoa(e.Slot), strconv.FormatBool(e.Ready))
}

func (e OpponentVehicle) Line() string {
	return join(EvtOpponentVehicle, strconv.Itoa(e.Slot), strconv.Itoa(e.Vehicle))
}

func (e MapChoice) Line() string { return join(EvtMapChoice, strconv.Itoa(e.Map)) }

func (e MatchStarted) Line() string {
	args := make([]string, 0, len(e.Slots)+1)
	args = append(args, strconv.Itoa(e.Map))
	for _, slot := range e.Slots {
		args = append(args, strconv.Itoa(slot))
	}
	return join(EvtMatchStarted, args...)
}

func (e OpponentTelemetry) Line() string {
	return join(EvtOpponentTelemetry, telemetryArgs(e.Telemetry)...)
}

func (e BroadcastCollision) Line() string {
	return join(EvtCollision, collisionArgs(e.Collision)...)
}

func (e RaceResult) Line() string {
	return join(EvtRaceResult, strconv.Itoa(e.Slot), EscapeName(e.User))
}

func (e MatchEnded) Line() string  { return join(EvtMatchEnded, string(e.Reason)) }
func (e PlayerCount) Line() string { return join(EvtPlayerCount, strconv.Itoa(e.Count)) }
func (e ServerStage) Line() string { return join(EvtServerStage, strconv.FormatBool(e.MatchActive)) }
func (HeartbeatAck) Line() string  { return EvtHeartbeatAck }
func (e Rejected) Line() string    { return join(EvtRejected, e.Command, e.Reason) }
func (Goodbye) Line() string       { return EvtEndConnection }

func (LoginResult) event()        {}
func (RegisterResult) event()     {}
func (LobbyData) event()          {}
func (LobbyDataFailure) event()   {}
func (PlayerJoined) event()       {}
func (PlayerLeft) event()         {}
func (OpponentReady) event()      {}
func (OpponentVehicle) event()    {}
func (MapChoice) event()          {}
func (MatchStarted) event()       {}
func (OpponentTelemetry) event()  {}
func (BroadcastCollision) event() {}
func (RaceResult) event()         {}
func (MatchEnded) event()         {}
func (PlayerCount) event()        {}
func (ServerStage) event()        {}
func (HeartbeatAck) event()       {}
func (Rejected) event()           {}
func (Goodbye) event()            {}
