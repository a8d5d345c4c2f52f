package service

import (
	"context"
	"errors"

	"github.com/wricardo/kartrace/game/lobby"
	"github.com/wricardo/kartrace/game/match"
	"github.com/wricardo/kartrace/game/race"
	"github.com/wricardo/kartrace/game/session"
	"github.com/wricardo/kartrace/game/store"
)

var ErrNotFound = errors.New("not found")

// AdminService defines all administrative operations
type AdminService interface {
	// Server
	Status(ctx context.Context) (*ServerStatus, error)

	// Sessions
	ListSessions(ctx context.Context) ([]session.Info, error)
	GetSession(ctx context.Context, id string) (*session.Info, error)
	KickSession(ctx context.Context, id string) error

	// Game state
	LobbyState(ctx context.Context) (*lobby.State, error)
	MatchState(ctx context.Context) (*match.State, error)

	// Players
	PlayerStats(ctx context.Context, name string) (*store.PlayerStats, error)
	Leaderboard(ctx context.Context, limit int) ([]store.PlayerStats, error)
	RecentRaces(ctx context.Context, limit int) ([]race.Record, error)
}

// SessionDirectory lists and closes live sessions
type SessionDirectory interface {
	Sessions() []session.Info
	Session(id string) (session.Info, error)
	Kick(id string) error
}

// LobbyView exposes the lobby snapshot
type LobbyView interface {
	Snapshot() lobby.State
}

// MatchView exposes the match snapshot
type MatchView interface {
	Snapshot() match.State
}

// RecordStore reads account statistics and race history
type RecordStore interface {
	Player(ctx context.Context, user string) (store.PlayerStats, error)
	Leaderboard(ctx context.Context, limit int) ([]store.PlayerStats, error)
	RecentRaces(ctx context.Context, limit int) ([]race.Record, error)
}
