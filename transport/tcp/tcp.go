package tcp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/wricardo/kartrace/game/session"
)

const (
	// Time allowed to write a line to the peer.
	writeWait = 10 * time.Second

	// Maximum line length accepted from the peer, terminator included.
	maxLineSize = 4096
)

// Listener accepts TCP clients for the session server
type Listener struct {
	ln net.Listener
}

// Listen opens a TCP listener on addr
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return NewListener(ln), nil
}

// NewListener wraps an existing net.Listener
func NewListener(ln net.Listener) *Listener {
	return &Listener{ln: ln}
}

// Accept waits for the next client. It returns session.ErrListenerClosed
// once the listener has been closed.
func (l *Listener) Accept() (session.Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, session.ErrListenerClosed
		}
		return nil, err
	}
	return NewConn(c), nil
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Conn is a newline-delimited connection
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewConn wraps c. ReadLine must only be called from one goroutine.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c, reader: bufio.NewReaderSize(c, maxLineSize)}
}

// ReadLine returns the next line without its "\n" or "\r\n" terminator. A
// line longer than maxLineSize is skipped up to its terminator and reported
// as session.ErrLineTooLong. A final line without terminator is returned
// before io.EOF.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		if err := c.discardLine(); err != nil {
			return "", err
		}
		return "", session.ErrLineTooLong
	}
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return "", err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return string(line), nil
}

// discardLine drops input up to and including the next "\n".
func (c *Conn) discardLine() error {
	for {
		_, err := c.reader.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// WriteLine writes line followed by "\n"
func (c *Conn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
