package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradenaw/juniper/xslices"

	"github.com/wricardo/kartrace/game/lobby"
	"github.com/wricardo/kartrace/game/match"
	"github.com/wricardo/kartrace/game/race"
	"github.com/wricardo/kartrace/game/session"
	"github.com/wricardo/kartrace/game/store"
)

// adminServiceImpl implements the AdminService interface
type adminServiceImpl struct {
	sessions  SessionDirectory
	lobby     LobbyView
	match     MatchView
	records   RecordStore
	startedAt time.Time
	now       func() time.Time
}

// NewAdminService creates a new admin service instance
func NewAdminService(sessions SessionDirectory, l LobbyView, m MatchView, records RecordStore) AdminService {
	return &adminServiceImpl{
		sessions:  sessions,
		lobby:     l,
		match:     m,
		records:   records,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Status reports session counts and the lobby and match phases
func (s *adminServiceImpl) Status(ctx context.Context) (*ServerStatus, error) {
	infos := s.sessions.Sessions()
	lobbyState := s.lobby.Snapshot()
	matchState := s.match.Snapshot()

	byState := make(map[string]int)
	for _, info := range infos {
		byState[info.State.String()]++
	}

	return &ServerStatus{
		StartedAt:       s.startedAt,
		Uptime:          s.now().Sub(s.startedAt).Round(time.Second).String(),
		Sessions:        len(infos),
		SessionsByState: byState,
		Online:          OnlinePlayers(infos),
		LobbyOccupants:  len(lobbyState.Seats),
		LobbyMap:        lobbyState.Map,
		MatchActive:     matchState.Active,
		MatchID:         matchState.ID,
		RosterSize:      len(matchState.Roster),
	}, nil
}

// ListSessions returns every live session, authenticated or not
func (s *adminServiceImpl) ListSessions(ctx context.Context) ([]session.Info, error) {
	return s.sessions.Sessions(), nil
}

// GetSession returns one session by ID
func (s *adminServiceImpl) GetSession(ctx context.Context, id string) (*session.Info, error) {
	info, err := s.sessions.Session(id)
	if err != nil {
		return nil, notFound("session", id, err)
	}
	return &info, nil
}

// KickSession closes a session
func (s *adminServiceImpl) KickSession(ctx context.Context, id string) error {
	if err := s.sessions.Kick(id); err != nil {
		return notFound("session", id, err)
	}
	return nil
}

func (s *adminServiceImpl) LobbyState(ctx context.Context) (*lobby.State, error) {
	state := s.lobby.Snapshot()
	return &state, nil
}

func (s *adminServiceImpl) MatchState(ctx context.Context) (*match.State, error) {
	state := s.match.Snapshot()
	return &state, nil
}

// PlayerStats returns the statistics of one account
func (s *adminServiceImpl) PlayerStats(ctx context.Context, name string) (*store.PlayerStats, error) {
	stats, err := s.records.Player(ctx, name)
	if err != nil {
		return nil, notFound("player", name, err)
	}
	return &stats, nil
}

func (s *adminServiceImpl) Leaderboard(ctx context.Context, limit int) ([]store.PlayerStats, error) {
	board, err := s.records.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	if board == nil {
		board = []store.PlayerStats{}
	}
	return board, nil
}

// RecentRaces returns finished races, newest first
func (s *adminServiceImpl) RecentRaces(ctx context.Context, limit int) ([]race.Record, error) {
	races, err := s.records.RecentRaces(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load races: %w", err)
	}
	if races == nil {
		races = []race.Record{}
	}
	return races, nil
}

// OnlinePlayers returns the names of authenticated sessions
func OnlinePlayers(infos []session.Info) []string {
	named := xslices.Filter(infos, func(info session.Info) bool { return info.User != "" })
	return xslices.Map(named, func(info session.Info) string { return info.User })
}

// notFound maps the lookup sentinels of lower layers onto ErrNotFound.
func notFound(kind, id string, err error) error {
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, store.ErrPlayerNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}
