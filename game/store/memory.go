package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/wricardo/kartrace/game/race"
)

// DriverMemory selects the in-process store
const DriverMemory = "memory"

type memoryPlayer struct {
	hash    string
	wins    int
	races   int
	created time.Time
}

// Memory is an in-process Store. Its contents are lost on exit.
type Memory struct {
	mu      sync.RWMutex
	players map[string]*memoryPlayer
	races   []race.Record
	now     func() time.Time
}

// NewMemory creates an empty in-process store
func NewMemory() *Memory {
	return &Memory{
		players: make(map[string]*memoryPlayer),
		now:     time.Now,
	}
}

func (m *Memory) Authenticate(_ context.Context, user, pass string) (bool, error) {
	m.mu.RLock()
	p, ok := m.players[user]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return CheckPassword(p.hash, pass)
}

func (m *Memory) Register(_ context.Context, user, pass string) (bool, error) {
	if !ValidCredentials(user, pass) {
		return false, nil
	}
	hash, err := HashPassword(pass)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.players[user]; exists {
		return false, nil
	}
	m.players[user] = &memoryPlayer{hash: hash, created: m.now()}
	return true, nil
}

func (m *Memory) WinsFor(_ context.Context, user string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.players[user]; ok {
		return p.wins, nil
	}
	return 0, nil
}

func (m *Memory) RecordWin(_ context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[user]
	if !ok {
		return ErrPlayerNotFound
	}
	p.wins++
	return nil
}

func (m *Memory) RecordRace(_ context.Context, rec race.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.races = append(m.races, rec)
	for _, part := range rec.Participants {
		if p, ok := m.players[part.Name]; ok {
			p.races++
		}
	}
	return nil
}

// Races returns a copy of every recorded race in insertion order.
func (m *Memory) Races() []race.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.races)
}

func (m *Memory) RecentRaces(_ context.Context, limit int) ([]race.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = DefaultRaceHistory
	}
	out := make([]race.Record, 0, min(limit, len(m.races)))
	for i := len(m.races) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.races[i])
	}
	return out, nil
}

func (m *Memory) Player(_ context.Context, user string) (PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[user]
	if !ok {
		return PlayerStats{}, ErrPlayerNotFound
	}
	return PlayerStats{Username: user, Wins: p.wins, RacesPlayed: p.races, CreatedAt: p.created}, nil
}

func (m *Memory) Leaderboard(_ context.Context, limit int) ([]PlayerStats, error) {
	m.mu.RLock()
	out := make([]PlayerStats, 0, len(m.players))
	for name, p := range m.players {
		out = append(out, PlayerStats{Username: name, Wins: p.wins, RacesPlayed: p.races, CreatedAt: p.created})
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b PlayerStats) int {
		if c := cmp.Compare(b.Wins, a.Wins); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
