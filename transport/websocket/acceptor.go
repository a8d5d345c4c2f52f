package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/kartrace/game/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Acceptor upgrades HTTP requests and hands the connections to Accept
type Acceptor struct {
	addr      string
	conns     chan session.Conn
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

// NewAcceptor creates an acceptor. addr is only used to describe it.
func NewAcceptor(addr string, log *logrus.Entry) *Acceptor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Acceptor{
		addr:  addr,
		conns: make(chan session.Conn),
		done:  make(chan struct{}),
		log:   log.WithField("component", "websocket"),
	}
}

// ServeHTTP upgrades the request and waits until the connection is accepted
// or the acceptor is closed.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-a.done:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	conn := NewConn(ws)
	select {
	case a.conns <- conn:
	case <-a.done:
		conn.Close()
	case <-r.Context().Done():
		conn.Close()
	}
}

// Accept returns the next upgraded connection
func (a *Acceptor) Accept() (session.Conn, error) {
	select {
	case conn := <-a.conns:
		return conn, nil
	case <-a.done:
		return nil, session.ErrListenerClosed
	}
}

// Close stops accepting connections. Sessions already accepted are unaffected.
func (a *Acceptor) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	return nil
}

func (a *Acceptor) Addr() string {
	return a.addr
}
