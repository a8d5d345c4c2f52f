package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wricardo/kartrace/game/lobby"
	"github.com/wricardo/kartrace/game/match"
	"github.com/wricardo/kartrace/game/race"
	"github.com/wricardo/kartrace/game/session"
	"github.com/wricardo/kartrace/game/store"
)

// Mock implementations for testing
type mockDirectory struct {
	infos  []session.Info
	kicked []string
}

func (m *mockDirectory) Sessions() []session.Info { return m.infos }

func (m *mockDirectory) Session(id string) (session.Info, error) {
	for _, info := range m.infos {
		if info.ID == id {
			return info, nil
		}
	}
	return session.Info{}, session.ErrSessionNotFound
}

func (m *mockDirectory) Kick(id string) error {
	if _, err := m.Session(id); err != nil {
		return err
	}
	m.kicked = append(m.kicked, id)
	return nil
}

type mockLobby struct{ state lobby.State }

func (m *mockLobby) Snapshot() lobby.State { return m.state }

type mockMatch struct{ state match.State }

func (m *mockMatch) Snapshot() match.State { return m.state }

type mockPlayers struct {
	stats map[string]store.PlayerStats
	races []race.Record
	err   error
}

func (m *mockPlayers) Player(ctx context.Context, user string) (store.PlayerStats, error) {
	if m.err != nil {
		return store.PlayerStats{}, m.err
	}
	st, ok := m.stats[user]
	if !ok {
		return store.PlayerStats{}, store.ErrPlayerNotFound
	}
	return st, nil
}

func (m *mockPlayers) Leaderboard(ctx context.Context, limit int) ([]store.PlayerStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []store.PlayerStats
	for _, st := range m.stats {
		out = append(out, st)
	}
	return out, nil
}

func (m *mockPlayers) RecentRaces(ctx context.Context, limit int) ([]race.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.races) > limit {
		return m.races[:limit], nil
	}
	return m.races, nil
}

func newTestService() (*adminServiceImpl, *mockDirectory, *mockPlayers) {
	dir := &mockDirectory{infos: []session.Info{
		{ID: "s1", State: session.StateInLobby, User: "alice", Slot: 1},
		{ID: "s2", State: session.StateInMatch, User: "bobby", Slot: 2},
		{ID: "s3", State: session.StateConnecting},
	}}
	l := &mockLobby{state: lobby.State{
		Map:   2,
		Seats: []lobby.Seat{{Slot: 1, SessionID: "s1", Name: "alice"}},
		Free:  []int{2, 3, 4, 5, 6},
	}}
	m := &mockMatch{state: match.State{
		Active: true,
		ID:     "match-1",
		Roster: []race.Participant{{Slot: 2, SessionID: "s2", Name: "bobby"}},
	}}
	players := &mockPlayers{stats: map[string]store.PlayerStats{
		"alice": {Username: "alice", Wins: 4, RacesPlayed: 9},
	}}

	svc := NewAdminService(dir, l, m, players).(*adminServiceImpl)
	started := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.startedAt = started
	svc.now = func() time.Time { return started.Add(90 * time.Second) }
	return svc, dir, players
}

func TestStatus(t *testing.T) {
	svc, _, _ := newTestService()

	status, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}

	if status.Sessions != 3 {
		t.Errorf("Expected 3 sessions, got %d", status.Sessions)
	}
	if status.SessionsByState["IN_LOBBY"] != 1 || status.SessionsByState["IN_MATCH"] != 1 || status.SessionsByState["CONNECTING"] != 1 {
		t.Errorf("Unexpected state breakdown: %v", status.SessionsByState)
	}
	if status.LobbyOccupants != 1 || status.LobbyMap != 2 {
		t.Errorf("Expected 1 lobby occupant on map 2, got %d on %d", status.LobbyOccupants, status.LobbyMap)
	}
	if !status.MatchActive || status.MatchID != "match-1" || status.RosterSize != 1 {
		t.Errorf("Unexpected match summary: %+v", status)
	}
	if len(status.Online) != 2 {
		t.Errorf("Expected 2 online players, got %v", status.Online)
	}
	if status.Uptime != "1m30s" {
		t.Errorf("Expected uptime 1m30s, got %s", status.Uptime)
	}
}

func TestSessions(t *testing.T) {
	svc, dir, _ := newTestService()
	ctx := context.Background()

	list, err := svc.ListSessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("Expected 3 sessions, got %d", len(list))
	}

	info, err := svc.GetSession(ctx, "s2")
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if info.User != "bobby" {
		t.Errorf("Expected bobby, got %s", info.User)
	}

	if _, err := svc.GetSession(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := svc.KickSession(ctx, "s1"); err != nil {
		t.Fatalf("Failed to kick session: %v", err)
	}
	if len(dir.kicked) != 1 || dir.kicked[0] != "s1" {
		t.Errorf("Expected s1 to be kicked, got %v", dir.kicked)
	}
	if err := svc.KickSession(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGameState(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	l, err := svc.LobbyState(ctx)
	if err != nil {
		t.Fatalf("Failed to get lobby state: %v", err)
	}
	if len(l.Free) != 5 || l.Seats[0].Name != "alice" {
		t.Errorf("Unexpected lobby state: %+v", l)
	}

	m, err := svc.MatchState(ctx)
	if err != nil {
		t.Fatalf("Failed to get match state: %v", err)
	}
	if !m.Active || m.Roster[0].Slot != 2 {
		t.Errorf("Unexpected match state: %+v", m)
	}
}

func TestPlayerStats(t *testing.T) {
	svc, _, players := newTestService()
	ctx := context.Background()

	stats, err := svc.PlayerStats(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to get player stats: %v", err)
	}
	if stats.Wins != 4 || stats.RacesPlayed != 9 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if _, err := svc.PlayerStats(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	players.err = errors.New("disk on fire")
	_, err = svc.PlayerStats(ctx, "alice")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected a storage error, got %v", err)
	}
	if _, err := svc.Leaderboard(ctx, 10); err == nil {
		t.Error("Expected leaderboard error")
	}
}

func TestLeaderboardNeverNil(t *testing.T) {
	svc, _, players := newTestService()
	players.stats = nil

	board, err := svc.Leaderboard(context.Background(), 10)
	if err != nil {
		t.Fatalf("Failed to get leaderboard: %v", err)
	}
	if board == nil {
		t.Error("Expected empty leaderboard, got nil")
	}
}

func TestOnlinePlayers(t *testing.T) {
	_, dir, _ := newTestService()

	names := OnlinePlayers(dir.infos)
	if len(names) != 2 || names[0] != "alice" || names[1] != "bobby" {
		t.Errorf("Expected [alice bobby], got %v", names)
	}
}

func TestRecentRaces(t *testing.T) {
	svc, _, players := newTestService()
	ctx := context.Background()

	races, err := svc.RecentRaces(ctx, 5)
	if err != nil {
		t.Fatalf("Failed to get races: %v", err)
	}
	if races == nil || len(races) != 0 {
		t.Errorf("Expected empty non-nil history, got %v", races)
	}

	players.races = []race.Record{{ID: "r2"}, {ID: "r1"}}
	races, err = svc.RecentRaces(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to get races: %v", err)
	}
	if len(races) != 1 || races[0].ID != "r2" {
		t.Errorf("Expected [r2], got %v", races)
	}

	players.err = errors.New("connection refused")
	if _, err := svc.RecentRaces(ctx, 1); err == nil {
		t.Error("Expected error from store")
	}
}
