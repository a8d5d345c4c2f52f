package session

import "errors"

var (
	// ErrListenerClosed is returned by Listener.Accept after Close
	ErrListenerClosed = errors.New("listener closed")
	// ErrLineTooLong is returned by Conn.ReadLine for an inbound line over
	// the transport limit. The line is discarded and the conn stays usable.
	ErrLineTooLong = errors.New("line too long")
)

// Conn is one client connection speaking the line protocol
type Conn interface {
	// ReadLine returns the next inbound line without its terminator
	ReadLine() (string, error)
	// WriteLine sends one line, appending the terminator
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// Listener yields client connections
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}
