package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wricardo/kartrace/game/race"
)

var (
	ErrEmptyLine      = errors.New("empty line")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMalformed      = errors.New("malformed arguments")
)

// DecodeError ties a decode failure to the message name that caused it
type DecodeError struct {
	Command string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func malformed(name string, err error) error {
	return &DecodeError{Command: name, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
}

// split trims the line terminator and separates the message name from its
// raw argument string.
func split(line string) (name, rest string, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", "", ErrEmptyLine
	}
	name, rest, _ = strings.Cut(trimmed, " ")
	return name, strings.TrimSpace(rest), nil
}

// Decode parses one client line into its Command.
func Decode(line string) (Command, error) {
	name, rest, err := split(line)
	if err != nil {
		return nil, err
	}
	args := strings.Fields(rest)

	switch name {
	case CmdLogin, CmdRegister:
		user, pass, err := credentials(rest)
		if err != nil {
			return nil, malformed(name, err)
		}
		if name == CmdLogin {
			return Login{User: user, Password: pass}, nil
		}
		return Register{User: user, Password: pass}, nil

	case CmdRequestLobbyData:
		return RequestLobbyData{}, nil

	case CmdPlayerReady:
		return SetReady{Ready: true}, nil

	case CmdPlayerUnready:
		return SetReady{Ready: false}, nil

	case CmdUpdateVehicle:
		n, err := intArg(args, 0)
		if err != nil {
			return nil, malformed(name, err)
		}
		return UpdateVehicle{Vehicle: n}, nil

	case CmdUpdateMap:
		n, err := intArg(args, 0)
		if err != nil {
			return nil, malformed(name, err)
		}
		return UpdateMap{Map: n}, nil

	case CmdRequestVehicle:
		n, err := intArg(args, 0)
		if err != nil {
			return nil, malformed(name, err)
		}
		return RequestVehicle{Slot: n}, nil

	case CmdRequestPlayerCount:
		return RequestPlayerCount{}, nil

	case CmdRequestServerStage:
		return RequestServerStage{}, nil

	case CmdSendTelemetry:
		t, err := parseTelemetry(args)
		if err != nil {
			return nil, malformed(name, err)
		}
		return SendTelemetry{Telemetry: t}, nil

	case CmdSendCollision:
		c, err := parseCollision(args)
		if err != nil {
			return nil, malformed(name, err)
		}
		return SendCollision{Collision: c}, nil

	case CmdDeclareWin:
		return DeclareWin{}, nil

	case CmdEndMatch:
		return EndMatch{}, nil

	case CmdHeartbeat:
		return Heartbeat{}, nil

	case CmdEndConnection:
		return EndConnection{}, nil
	}

	return nil, &DecodeError{Command: name, Err: ErrUnknownCommand}
}

// DecodeEvent parses one server line into its Event. It is the client half of
// the codec, used by bots and tests.
func DecodeEvent(line string) (Event, error) {
	name, rest, err := split(line)
	if err != nil {
		return nil, err
	}
	args := strings.Fields(rest)

	switch name {
	case EvtLoginSuccess:
		return LoginResult{OK: true}, nil
	case EvtLoginFailure:
		return LoginResult{OK: false}, nil
	case EvtRegisterSuccess:
		return RegisterResult{OK: true}, nil
	case EvtRegisterFailure:
		return RegisterResult{OK: false}, nil

	case EvtLobbyData:
		nums, err := intArgs(args, 0, 1, 2, 4)
		if err != nil {
			return nil, malformed(name, err)
		}
		return LobbyData{Slot: nums[0], Vehicle: nums[1], Map: nums[2], User: UnescapeName(args[3]), Wins: nums[3]}, nil

	case EvtLobbyDataFailure:
		return LobbyDataFailure{}, nil

	case EvtPlayerJoined:
		nums, err := intArgs(args, 0, 1, 4)
		if err != nil {
			return nil, malformed(name, err)
		}
		ready, err := strconv.ParseBool(args[2])
		if err != nil {
			return nil, malformed(name, err)
		}
		return PlayerJoined{Slot: nums[0], Vehicle: nums[1], Ready: ready, User: UnescapeName(args[3]), Wins: nums[2]}, nil

	case EvtPlayerLeft:
		n, err := intArg(args, 0)
		if err != nil {
			return nil, malformed(name, err)
		}
		return PlayerLeft{Slot: n}, nil

	case EvtOpponentReady:
		n, err := intArg(args, 0)
		if err != nil {
			return nil, malformed(name, err)
		}
		if len(args) < 2 {
			return nil, malformed(name, errors.New("missing ready flag"))
		}
		ready, err := strconv.ParseBool(args[1])
		if err != nil {
			return nil, malformed(name, err)
		}
		return OpponentReady{Slot: n, Ready: ready}, nil

	case EvtOpponentVehicle:
		nums, err := intArgs(args, 0, 1)
		if err != nil {
			return nil, malformed(name, err)
		}
		return OpponentVehicle{Slot: nums[0], Vehicle: nums[1]}, nil

	case EvtMapChoice:
		n, err := intArg(args, 0)
		if err != nil {
			return nil, malformed(name, err)
		}
		return MapChoice{Map: n}, nil

	case EvtMatchStarted:
		if len(args) == 0 {
			return nil, malformed(name, errors.New("missing map"))
		}
		nums := make([]int, len(args))
		for i := range args {
			n, err := intArg(args, i)
			if err != nil {
				return nil, malformed(name, err)
			}
			nums[i] = n
		}
		return MatchStarted{Map: nums[0], Slots: nums[1:]}, nil

	case EvtOpponentTelemetry:
		t, err := parseTelemetry(args)
		if err != nil {
			return nil, malformed(name, err)
		}
		return OpponentTelemetry{Telemetry: t}, nil

	case EvtCollision:
		c, err := parseCollision(args)
		if err != nil {
			return nil, malformed(name, err)
		}
		return BroadcastCollision{Collision: c}, nil

	case EvtRaceResult:
		n, err := intArg(args, 0)
		if err != nil {
			return nil, malformed(name, err)
		}
		if len(args) < 2 {
			return nil, malformed(name, errors.New("missing winner name"))
		}
		return RaceResult{Slot: n, User: UnescapeName(args[1])}, nil

	case EvtMatchEnded:
		if len(args) < 1 {
			return nil, malformed(name, errors.New("missing reason"))
		}
		return MatchEnded{Reason: race.Outcome(args[0])}, nil

	case EvtPlayerCount:
		n, err := intArg(args, 0)
		if err != nil {
			return nil, malformed(name, err)
		}
		return PlayerCount{Count: n}, nil

	case EvtServerStage:
		if len(args) < 1 {
			return nil, malformed(name, errors.New("missing stage"))
		}
		active, err := strconv.ParseBool(args[0])
		if err != nil {
			return nil, malformed(name, err)
		}
		return ServerStage{MatchActive: active}, nil

	case EvtHeartbeatAck:
		return HeartbeatAck{}, nil

	case EvtRejected:
		if len(args) < 2 {
			return nil, malformed(name, errors.New("missing command or reason"))
		}
		return Rejected{Command: args[0], Reason: args[1]}, nil

	case EvtEndConnection:
		return Goodbye{}, nil
	}

	return nil, &DecodeError{Command: name, Err: ErrUnknownCommand}
}

// credentials splits "user password" where the password may contain spaces.
func credentials(rest string) (user, pass string, err error) {
	user, pass, _ = strings.Cut(rest, " ")
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" || pass == "" {
		return "", "", errors.New("missing user or password")
	}
	return user, pass, nil
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i+1, err)
	}
	return n, nil
}

func intArgs(args []string, idx ...int) ([]int, error) {
	out := make([]int, len(idx))
	for k, i := range idx {
		n, err := intArg(args, i)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func floatArg(args []string, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	f, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i+1, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("argument %d: %q is not finite", i+1, args[i])
	}
	return f, nil
}

func parseTelemetry(args []string) (race.Telemetry, error) {
	if len(args) < 5 {
		return race.Telemetry{}, fmt.Errorf("want 5 arguments, got %d", len(args))
	}
	slot, err := intArg(args, 0)
	if err != nil {
		return race.Telemetry{}, err
	}
	var f [4]float64
	for i := range f {
		if f[i], err = floatArg(args, i+1); err != nil {
			return race.Telemetry{}, err
		}
	}
	return race.Telemetry{Slot: slot, Rotation: f[0], Speed: f[1], X: f[2], Y: f[3]}, nil
}

func parseCollision(args []string) (race.Collision, error) {
	if len(args) < 5 {
		return race.Collision{}, fmt.Errorf("want 5 arguments, got %d", len(args))
	}
	slots, err := intArgs(args, 0, 1)
	if err != nil {
		return race.Collision{}, err
	}
	ts, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return race.Collision{}, fmt.Errorf("argument 3: %w", err)
	}
	speedA, err := floatArg(args, 3)
	if err != nil {
		return race.Collision{}, err
	}
	speedB, err := floatArg(args, 4)
	if err != nil {
		return race.Collision{}, err
	}
	return race.Collision{SlotA: slots[0], SlotB: slots[1], Timestamp: ts, SpeedA: speedA, SpeedB: speedB}, nil
}
