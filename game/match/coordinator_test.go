package match

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/wricardo/kartrace/game/race"
)

type sent struct {
	targets  []string
	excluded string
	line     string
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	lines []sent
}

func (f *fakeBroadcaster) BroadcastExcept(targets []string, excluded string, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, sent{targets: targets, excluded: excluded, line: line})
}

func (f *fakeBroadcaster) withPrefix(prefix string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.lines {
		if strings.HasPrefix(s.line, prefix) {
			out = append(out, s)
		}
	}
	return out
}

type fakeRecorder struct {
	mu    sync.Mutex
	wins  []string
	races []race.Record
	err   error
}

func (f *fakeRecorder) RecordWin(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wins = append(f.wins, user)
	return f.err
}

func (f *fakeRecorder) RecordRace(_ context.Context, rec race.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.races = append(f.races, rec)
	return f.err
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeBroadcaster, *fakeRecorder) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	bc := &fakeBroadcaster{}
	rec := &fakeRecorder{}
	return NewCoordinator(Options{}, bc, rec, logger.WithField("test", t.Name())), bc, rec
}

func roster(n int) Handoff {
	h := Handoff{Map: 1}
	for i := 1; i <= n; i++ {
		h.Roster = append(h.Roster, race.Participant{
			Slot:      i,
			SessionID: "s" + string(rune('0'+i)),
			Name:      "player" + string(rune('0'+i)),
			Vehicle:   i - 1,
		})
	}
	return h
}

// sixSeats puts sessions s2 and s5 on slots 2 and 5
func sixSeats() Handoff {
	return Handoff{Map: 0, Roster: []race.Participant{
		{Slot: 2, SessionID: "s2", Name: "two"},
		{Slot: 5, SessionID: "s5", Name: "five"},
		{Slot: 6, SessionID: "s6", Name: "six"},
	}}
}

func TestStart(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	if err := c.Start(Handoff{}); !errors.Is(err, ErrEmptyRoster) {
		t.Errorf("Expected ErrEmptyRoster, got %v", err)
	}
	if err := c.Start(roster(2)); err != nil {
		t.Fatalf("Failed to start match: %v", err)
	}
	if err := c.Start(roster(3)); !errors.Is(err, ErrMatchActive) {
		t.Errorf("Expected ErrMatchActive, got %v", err)
	}

	state := c.Snapshot()
	if !state.Active || state.ID == "" || len(state.Roster) != 2 {
		t.Errorf("Unexpected snapshot: %+v", state)
	}
	if !c.Participating("s1") || c.Participating("s9") {
		t.Error("Participating should only report roster members")
	}
}

func TestRelaySuppression(t *testing.T) {
	c, bc, _ := newTestCoordinator(t)
	if err := c.Start(roster(3)); err != nil {
		t.Fatalf("Failed to start match: %v", err)
	}

	base := race.Telemetry{Slot: 1, Rotation: 90, Speed: 5, X: 10, Y: 20}
	if !c.Relay("s1", base) {
		t.Fatal("First snapshot should always be relayed")
	}

	small := []race.Telemetry{
		{Slot: 1, Rotation: 90.005, Speed: 5, X: 10, Y: 20},
		{Slot: 1, Rotation: 90, Speed: 5.009, X: 10.001, Y: 19.995},
		{Slot: 1, Rotation: 89.992, Speed: 4.991, X: 9.991, Y: 20.009},
	}
	for _, tel := range small {
		if c.Relay("s1", tel) {
			t.Errorf("Snapshot %+v within epsilon should be suppressed", tel)
		}
	}

	moved := race.Telemetry{Slot: 1, Rotation: 90, Speed: 5, X: 10.5, Y: 20}
	if !c.Relay("s1", moved) {
		t.Fatal("Snapshot beyond epsilon should be relayed")
	}

	relayed := bc.withPrefix("OPPONENT_TELEMETRY")
	if len(relayed) != 2 {
		t.Fatalf("Expected 2 relayed snapshots, got %d", len(relayed))
	}
	if relayed[1].line != "OPPONENT_TELEMETRY 1 90 5 10.5 20" {
		t.Errorf("Expected full latest snapshot, got %q", relayed[1].line)
	}
	if relayed[1].excluded != "s1" {
		t.Errorf("Sender should be excluded, got %q", relayed[1].excluded)
	}

	// suppression compares against the last sent value, so drift accumulates
	if c.Relay("s1", race.Telemetry{Slot: 1, Rotation: 90, Speed: 5, X: 10.509, Y: 20}) {
		t.Error("Drift below epsilon from last sent value should be suppressed")
	}

	if c.Relay("s9", moved) {
		t.Error("Telemetry from outside the roster should be dropped")
	}
}

func TestRelayDropsNonFiniteTelemetry(t *testing.T) {
	c, bc, _ := newTestCoordinator(t)
	if err := c.Start(roster(2)); err != nil {
		t.Fatalf("Failed to start match: %v", err)
	}

	if c.Relay("s1", race.Telemetry{Slot: 1, Rotation: math.NaN(), Speed: 5, X: 10, Y: 20}) {
		t.Error("NaN snapshot should not be relayed")
	}
	if !c.Relay("s1", race.Telemetry{Slot: 1, Rotation: 90, Speed: 5, X: 10, Y: 20}) {
		t.Fatal("First finite snapshot should be relayed")
	}
	if c.Relay("s1", race.Telemetry{Slot: 1, Rotation: 90, Speed: math.Inf(1), X: 10, Y: 20}) {
		t.Error("Infinite snapshot should not be relayed")
	}
	if !c.Relay("s1", race.Telemetry{Slot: 1, Rotation: 95, Speed: 5, X: 10, Y: 20}) {
		t.Error("Rotation change after a dropped snapshot should be relayed")
	}

	if n := len(bc.withPrefix("OPPONENT_TELEMETRY")); n != 2 {
		t.Errorf("Expected 2 relayed snapshots, got %d", n)
	}
}

func TestCollisionDedup(t *testing.T) {
	tests := []struct {
		name      string
		second    race.Collision
		wantCount int
	}{
		{
			name:      "mirrored report inside window",
			second:    race.Collision{SlotA: 5, SlotB: 2, Timestamp: 10100, SpeedA: 4, SpeedB: 3},
			wantCount: 1,
		},
		{
			name:      "same order exact timestamp",
			second:    race.Collision{SlotA: 2, SlotB: 5, Timestamp: 10000, SpeedA: 3, SpeedB: 4},
			wantCount: 1,
		},
		{
			name:      "outside window",
			second:    race.Collision{SlotA: 5, SlotB: 2, Timestamp: 10400, SpeedA: 4, SpeedB: 3},
			wantCount: 2,
		},
		{
			name:      "different pair",
			second:    race.Collision{SlotA: 5, SlotB: 6, Timestamp: 10000, SpeedA: 4, SpeedB: 3},
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, bc, _ := newTestCoordinator(t)
			if err := c.Start(sixSeats()); err != nil {
				t.Fatalf("Failed to start match: %v", err)
			}

			first := race.Collision{SlotA: 2, SlotB: 5, Timestamp: 10000, SpeedA: 3, SpeedB: 4}
			if !c.ReportCollision("s2", first) {
				t.Fatal("First report should be broadcast")
			}
			c.ReportCollision("s5", tt.second)

			got := bc.withPrefix("BROADCAST_COLLISION")
			if len(got) != tt.wantCount {
				t.Errorf("Expected %d broadcasts, got %d", tt.wantCount, len(got))
			}
			if got[0].line != "BROADCAST_COLLISION 2 5 10000 3 4" {
				t.Errorf("Report should be relayed unchanged, got %q", got[0].line)
			}
		})
	}
}

func TestCollisionKeysExpire(t *testing.T) {
	c, bc, _ := newTestCoordinator(t)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	if err := c.Start(sixSeats()); err != nil {
		t.Fatalf("Failed to start match: %v", err)
	}

	col := race.Collision{SlotA: 2, SlotB: 5, Timestamp: 10000, SpeedA: 3, SpeedB: 4}
	c.ReportCollision("s2", col)

	now = now.Add(DefaultCollisionRetention + time.Second)
	if !c.ReportCollision("s5", col) {
		t.Error("Report should be accepted again after its key expired")
	}
	if n := len(bc.withPrefix("BROADCAST_COLLISION")); n != 2 {
		t.Errorf("Expected 2 broadcasts, got %d", n)
	}
}

func TestConcurrentWinDeclarations(t *testing.T) {
	c, bc, rec := newTestCoordinator(t)
	if err := c.Start(roster(4)); err != nil {
		t.Fatalf("Failed to start match: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			if c.DeclareWin(context.Background(), id) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one accepted declaration, got %d", wins)
	}
	if n := len(bc.withPrefix("RACE_RESULT")); n != 1 {
		t.Errorf("Expected one RACE_RESULT broadcast, got %d", n)
	}
	if len(rec.wins) != 1 || len(rec.races) != 1 {
		t.Errorf("Expected one persisted win and race, got %d wins %d races", len(rec.wins), len(rec.races))
	}
	if rec.races[0].Outcome != race.OutcomeWinner || rec.races[0].Winner != rec.wins[0] {
		t.Errorf("Unexpected race record: %+v", rec.races[0])
	}
	if c.Active() {
		t.Error("Match should be inactive after a win")
	}
}

func TestLeaveEmptiesRoster(t *testing.T) {
	c, bc, rec := newTestCoordinator(t)
	if err := c.Start(roster(2)); err != nil {
		t.Fatalf("Failed to start match: %v", err)
	}

	if !c.Leave(context.Background(), "s1") {
		t.Fatal("Roster member should be able to leave")
	}
	left := bc.withPrefix("PLAYER_LEFT")
	if len(left) != 1 || left[0].line != "PLAYER_LEFT 1" {
		t.Fatalf("Expected PLAYER_LEFT 1 to the rest, got %+v", left)
	}
	if !c.Active() {
		t.Fatal("Match should continue while someone remains")
	}

	c.Leave(context.Background(), "s2")
	if c.Active() {
		t.Error("Match should end when the roster empties")
	}
	if len(rec.races) != 1 || rec.races[0].Outcome != race.OutcomeNoOpponents || rec.races[0].Winner != "" {
		t.Errorf("Expected a winnerless race record, got %+v", rec.races)
	}
	if len(rec.wins) != 0 {
		t.Errorf("No win should be recorded, got %v", rec.wins)
	}
	if c.Leave(context.Background(), "s2") {
		t.Error("Leaving an inactive match should be a no-op")
	}
}

func TestEnd(t *testing.T) {
	c, bc, rec := newTestCoordinator(t)
	if err := c.Start(roster(3)); err != nil {
		t.Fatalf("Failed to start match: %v", err)
	}

	if c.End(context.Background(), "s9") {
		t.Error("Non-participant should not end the match")
	}
	if !c.End(context.Background(), "s2") {
		t.Fatal("Participant should end the match")
	}

	ended := bc.withPrefix("MATCH_ENDED")
	if len(ended) != 1 || ended[0].line != "MATCH_ENDED NO_OPPONENTS" || ended[0].excluded != "s2" {
		t.Errorf("Unexpected MATCH_ENDED broadcast: %+v", ended)
	}
	if len(rec.races) != 1 || len(rec.races[0].Participants) != 3 {
		t.Errorf("Expected a race record with the full roster, got %+v", rec.races)
	}
	if c.DeclareWin(context.Background(), "s1") {
		t.Error("No win after the match ended")
	}
}

func TestStoreFailureDoesNotBlockOutcome(t *testing.T) {
	c, bc, rec := newTestCoordinator(t)
	rec.err = errors.New("database down")
	if err := c.Start(roster(2)); err != nil {
		t.Fatalf("Failed to start match: %v", err)
	}

	if !c.DeclareWin(context.Background(), "s2") {
		t.Fatal("Win should be accepted even if persistence fails")
	}
	if n := len(bc.withPrefix("RACE_RESULT 2 player2")); n != 1 {
		t.Errorf("Expected RACE_RESULT broadcast, got %d", n)
	}
	if c.Active() {
		t.Error("Match should be over")
	}
}
