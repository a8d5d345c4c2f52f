package websocket

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wricardo/kartrace/game/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. A larger frame closes the
	// connection.
	maxMessageSize = 64 << 10

	// Maximum length of one line inside a frame.
	maxLineSize = 4096
)

// Conn is a line-oriented view of a WebSocket connection
type Conn struct {
	ws      *websocket.Conn
	pending []string // "" marks an oversized line
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewConn wraps ws and starts its pinger
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:   ws,
		done: make(chan struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.pingLoop()
	return c
}

// ReadLine returns the next line. A frame carrying several lines is
// returned one line per call; blank lines are skipped. A line longer than
// maxLineSize is dropped and reported as session.ErrLineTooLong.
func (c *Conn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSuffix(line, "\r")
			switch {
			case len(line) > maxLineSize:
				c.pending = append(c.pending, "")
			case line != "":
				c.pending = append(c.pending, line)
			}
		}
	}

	line := c.pending[0]
	c.pending = c.pending[1:]
	if line == "" {
		return "", session.ErrLineTooLong
	}
	return line, nil
}

// WriteLine sends line as one text frame
func (c *Conn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

// Close sends a close frame and closes the underlying connection
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
