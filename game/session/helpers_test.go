package session

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/wricardo/kartrace/game/lobby"
	"github.com/wricardo/kartrace/game/match"
	"github.com/wricardo/kartrace/game/race"
	"github.com/wricardo/kartrace/game/store"
)

const waitTimeout = 2 * time.Second

// pipeConn is an in-process Conn driven by the test through channels
type pipeConn struct {
	in     chan string
	out    chan string
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan string, 64),
		out:    make(chan string, 1024),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) ReadLine() (string, error) {
	select {
	case line := <-c.in:
		return line, nil
	case <-c.closed:
		return "", io.EOF
	}
}

func (c *pipeConn) WriteLine(line string) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- line:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) RemoteAddr() string { return "pipe" }

type chanListener struct {
	conns  chan Conn
	closed chan struct{}
	once   sync.Once
}

func newChanListener() *chanListener {
	return &chanListener{conns: make(chan Conn), closed: make(chan struct{})}
}

func (l *chanListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	}
}

func (l *chanListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *chanListener) Addr() string { return "chan" }

// fakeStore keeps plain-text passwords; hashing is covered by the store package
type fakeStore struct {
	mu        sync.Mutex
	passwords map[string]string
	wins      map[string]int
	races     []race.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		passwords: map[string]string{"alice": "pw", "bobby": "pw", "carol": "pw", "danny": "pw"},
		wins:      map[string]int{"bobby": 3},
	}
}

func (f *fakeStore) Authenticate(_ context.Context, user, pass string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pw, ok := f.passwords[user]
	return ok && pw == pass, nil
}

func (f *fakeStore) Register(_ context.Context, user, pass string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !store.ValidCredentials(user, pass) {
		return false, nil
	}
	if _, exists := f.passwords[user]; exists {
		return false, nil
	}
	f.passwords[user] = pass
	return true, nil
}

func (f *fakeStore) WinsFor(_ context.Context, user string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wins[user], nil
}

func (f *fakeStore) RecordWin(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wins[user]++
	return nil
}

func (f *fakeStore) RecordRace(_ context.Context, rec race.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.races = append(f.races, rec)
	return nil
}

func (f *fakeStore) Player(_ context.Context, user string) (store.PlayerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.passwords[user]; !ok {
		return store.PlayerStats{}, store.ErrPlayerNotFound
	}
	return store.PlayerStats{Username: user, Wins: f.wins[user]}, nil
}

func (f *fakeStore) Leaderboard(context.Context, int) ([]store.PlayerStats, error) {
	return nil, nil
}

func (f *fakeStore) RecentRaces(context.Context, int) ([]race.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.races), nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) winsOf(user string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wins[user]
}

type testEnv struct {
	srv   *Server
	reg   *Registry
	lobby *lobby.Coordinator
	match *match.Coordinator
	store *fakeStore
	ln    *chanListener
	clock atomic.Int64
}

type envOption func(*lobby.Options, *Options)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()
	log := logger.WithField("test", t.Name())

	lobbyOpts := lobby.Options{}
	srvOpts := Options{}
	for _, o := range opts {
		o(&lobbyOpts, &srvOpts)
	}

	e := &testEnv{store: newFakeStore(), ln: newChanListener()}
	e.clock.Store(time.Unix(1700000000, 0).UnixNano())

	e.reg = NewRegistry(log)
	e.match = match.NewCoordinator(match.Options{}, e.reg, e.store, log)
	e.lobby = lobby.NewCoordinator(lobbyOpts, e.reg, e.match, log)
	e.srv = NewServer(srvOpts, e.reg, e.lobby, e.match, e.store, log)
	e.srv.setClock(func() time.Time { return time.Unix(0, e.clock.Load()) })

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		e.srv.Serve(ctx, e.ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
		e.srv.Shutdown()
	})
	return e
}

func (e *testEnv) advance(d time.Duration) {
	e.clock.Add(int64(d))
}

type client struct {
	t    *testing.T
	conn *pipeConn
}

func (e *testEnv) connect(t *testing.T) *client {
	t.Helper()
	conn := newPipeConn()
	select {
	case e.ln.conns <- conn:
	case <-time.After(waitTimeout):
		t.Fatal("Timed out handing connection to the server")
	}
	return &client{t: t, conn: conn}
}

func (e *testEnv) login(t *testing.T, user string) *client {
	t.Helper()
	c := e.connect(t)
	c.send("LOGIN_REQUEST " + user + " pw")
	c.expect("LOGIN_SUCCESS")
	return c
}

// joined logs user in and takes a lobby seat, returning the LOBBY_DATA line
func (e *testEnv) joined(t *testing.T, user string) (*client, string) {
	t.Helper()
	c := e.login(t, user)
	c.send("REQUEST_LOBBY_DATA")
	return c, c.expect("LOBBY_DATA")
}

func (c *client) send(line string) {
	c.t.Helper()
	select {
	case c.conn.in <- line:
	case <-time.After(waitTimeout):
		c.t.Fatalf("Timed out sending %q", line)
	}
}

// expect skips lines until one starts with prefix
func (c *client) expect(prefix string) string {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case line := <-c.conn.out:
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-deadline:
			c.t.Fatalf("Timed out waiting for %q", prefix)
			return ""
		}
	}
}

func (c *client) expectClosed() {
	c.t.Helper()
	select {
	case <-c.conn.closed:
	case <-time.After(waitTimeout):
		c.t.Fatal("Expected connection to be closed")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
