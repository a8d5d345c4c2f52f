package session

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
)

// Registry tracks live sessions by ID
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	log      *logrus.Entry
	now      func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log.WithField("component", "registry"),
		now:      time.Now,
	}
}

// Register adds a session
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.id]; exists {
		return ErrSessionAlreadyExists
	}
	r.sessions[s.id] = s
	return nil
}

// Deregister removes a session. It reports whether the session was present.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Get retrieves a session by ID
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns all live sessions, oldest first
func (r *Registry) List() []*Session {
	r.mu.RLock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b *Session) int {
		if c := a.connectedAt.Compare(b.connectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return result
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// BroadcastExcept enqueues line on every target session except excluded.
// Delivery is best effort: unknown, closed or backed-up sessions are skipped.
func (r *Registry) BroadcastExcept(targets []string, excluded string, line string) {
	r.mu.RLock()
	recipients := make([]*Session, 0, len(targets))
	for _, id := range targets {
		if id == excluded {
			continue
		}
		if s, ok := r.sessions[id]; ok {
			recipients = append(recipients, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range recipients {
		if !s.Send(line) {
			r.log.WithField("session", s.id).Warn("Dropped broadcast for slow or closed session")
		}
	}
}

// SweepDead closes every session silent for longer than timeout and returns
// how many were closed.
func (r *Registry) SweepDead(timeout time.Duration) int {
	cutoff := r.now().Add(-timeout)

	r.mu.RLock()
	var dead []*Session
	for _, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			dead = append(dead, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range dead {
		s.log.WithField("last_seen", s.LastSeen()).Info("Closing silent session")
		s.Close("liveness timeout")
	}
	return len(dead)
}

// RunSweeper calls SweepDead every interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.SweepDead(timeout); n > 0 {
				r.log.WithField("closed", n).Info("Liveness sweep closed sessions")
			}
		}
	}
}

// CloseAll closes every live session
func (r *Registry) CloseAll(reason string) {
	for _, s := range r.List() {
		s.Close(reason)
	}
}
