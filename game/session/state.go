package session

import "fmt"

// State is the protocol phase of a session
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateInLobby
	StateInMatch
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateInLobby:
		return "IN_LOBBY"
	case StateInMatch:
		return "IN_MATCH"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// authenticated reports whether the session has a bound identity.
func (s State) authenticated() bool {
	return s >= StateAuthenticated && s < StateClosed
}

// UnmarshalText parses a state name produced by MarshalText
func (s *State) UnmarshalText(text []byte) error {
	for st := StateConnecting; st <= StateClosed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}
