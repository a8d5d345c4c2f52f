package protocol

import (
	"strconv"
	"strings"

	"github.com/wricardo/kartrace/game/race"
)

// Client command names
const (
	CmdLogin              = "LOGIN_REQUEST"
	CmdRegister           = "REGISTER_REQUEST"
	CmdRequestLobbyData   = "REQUEST_LOBBY_DATA"
	CmdPlayerReady        = "PLAYER_READY"
	CmdPlayerUnready      = "PLAYER_UNREADY"
	CmdUpdateVehicle      = "UPDATE_VEHICLE"
	CmdUpdateMap          = "UPDATE_MAP"
	CmdRequestVehicle     = "REQUEST_VEHICLE"
	CmdRequestPlayerCount = "REQUEST_PLAYER_COUNT"
	CmdRequestServerStage = "REQUEST_SERVER_STAGE"
	CmdSendTelemetry      = "SEND_TELEMETRY"
	CmdSendCollision      = "SEND_COLLISION"
	CmdDeclareWin         = "DECLARE_WIN"
	CmdEndMatch           = "END_MATCH"
	CmdHeartbeat          = "HEARTBEAT"
	CmdEndConnection      = "END_CONNECTION"
)

// Command is a decoded client-to-server message
type Command interface {
	// Name returns the wire name of the command
	Name() string
	// Line encodes the command as one protocol line without the trailing newline
	Line() string

	command()
}

// Login asks the server to authenticate the session
type Login struct {
	User     string
	Password string
}

// Register asks the server to create an account
type Register struct {
	User     string
	Password string
}

// RequestLobbyData asks for a lobby seat
type RequestLobbyData struct{}

// SetReady toggles the sender's ready flag (PLAYER_READY / PLAYER_UNREADY)
type SetReady struct {
	Ready bool
}

// UpdateVehicle sets the sender's vehicle choice
type UpdateVehicle struct {
	Vehicle int
}

// UpdateMap sets the shared map choice
type UpdateMap struct {
	Map int
}

// RequestVehicle asks for the vehicle choice of another slot
type RequestVehicle struct {
	Slot int
}

// RequestPlayerCount asks how many players sit in the lobby
type RequestPlayerCount struct{}

// RequestServerStage asks whether a match is running
type RequestServerStage struct{}

// SendTelemetry carries the sender's kart pose
type SendTelemetry struct {
	Telemetry race.Telemetry
}

// SendCollision reports a collision scheduled by the sender
type SendCollision struct {
	Collision race.Collision
}

// DeclareWin announces that the sender crossed the finish line first
type DeclareWin struct{}

// EndMatch ends the running match without a winner
type EndMatch struct{}

// Heartbeat keeps the session alive
type Heartbeat struct{}

// EndConnection closes the session gracefully
type EndConnection struct{}

func (Login) Name() string              { return CmdLogin }
func (Register) Name() string           { return CmdRegister }
func (RequestLobbyData) Name() string   { return CmdRequestLobbyData }
func (RequestVehicle) Name() string     { return CmdRequestVehicle }
func (RequestPlayerCount) Name() string { return CmdRequestPlayerCount }
func (RequestServerStage) Name() string { return CmdRequestServerStage }
func (UpdateVehicle) Name() string      { return CmdUpdateVehicle }
func (UpdateMap) Name() string          { return CmdUpdateMap }
func (SendTelemetry) Name() string      { return CmdSendTelemetry }
func (SendCollision) Name() string      { return CmdSendCollision }
func (DeclareWin) Name() string         { return CmdDeclareWin }
func (EndMatch) Name() string           { return CmdEndMatch }
func (Heartbeat) Name() string          { return CmdHeartbeat }
func (EndConnection) Name() string      { return CmdEndConnection }

func (c SetReady) Name() string {
	if c.Ready {
		return CmdPlayerReady
	}
	return CmdPlayerUnready
}

func (c Login) Line() string    { return join(CmdLogin, c.User, c.Password) }
func (c Register) Line() string { return join(CmdRegister, c.User, c.Password) }

func (RequestLobbyData) Line() string   { return CmdRequestLobbyData }
func (c SetReady) Line() string         { return c.Name() }
func (c UpdateVehicle) Line() string    { return join(CmdUpdateVehicle, strconv.Itoa(c.Vehicle)) }
func (c UpdateMap) Line() string        { return join(CmdUpdateMap, strconv.Itoa(c.Map)) }
func (c RequestVehicle) Line() string   { return join(CmdRequestVehicle, strconv.Itoa(c.Slot)) }
func (RequestPlayerCount) Line() string { return CmdRequestPlayerCount }
func (RequestServerStage) Line() string { return CmdRequestServerStage }
func (c SendTelemetry) Line() string    { return join(CmdSendTelemetry, telemetryArgs(c.Telemetry)...) }
func (c SendCollision) Line() string    { return join(CmdSendCollision, collisionArgs(c.Collision)...) }
func (DeclareWin) Line() string         { return CmdDeclareWin }
func (EndMatch) Line() string           { return CmdEndMatch }
func (Heartbeat) Line() string          { return CmdHeartbeat }
func (EndConnection) Line() string      { return CmdEndConnection }

func (Login) command()              {}
func (Register) command()           {}
func (RequestLobbyData) command()   {}
func (SetReady) command()           {}
func (UpdateVehicle) command()      {}
func (UpdateMap) command()          {}
func (RequestVehicle) command()     {}
func (RequestPlayerCount) command() {}
func (RequestServerStage) command() {}
func (SendTelemetry) command()      {}
func (SendCollision) command()      {}
func (DeclareWin) command()         {}
func (EndMatch) command()           {}
func (Heartbeat) command()          {}
func (EndConnection) command()      {}

func join(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func telemetryArgs(t race.Telemetry) []string {
	return []string{
		strconv.Itoa(t.Slot),
		formatFloat(t.Rotation),
		formatFloat(t.Speed),
		formatFloat(t.X),
		formatFloat(t.Y),
	}
}

func collisionArgs(c race.Collision) []string {
	return []string{
		strconv.Itoa(c.SlotA),
		strconv.Itoa(c.SlotB),
		strconv.FormatInt(c.Timestamp, 10),
		formatFloat(c.SpeedA),
		formatFloat(c.SpeedB),
	}
}
