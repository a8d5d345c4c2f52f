package match

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/kartrace/game/protocol"
	"github.com/wricardo/kartrace/game/race"
)

var (
	ErrMatchActive = errors.New("a match is already active")
	ErrEmptyRoster = errors.New("roster is empty")
)

const (
	DefaultTelemetryEpsilon   = 0.01
	DefaultCollisionTolerance = 250 * time.Millisecond
	DefaultCollisionRetention = 10 * time.Second
)

// Broadcaster delivers a line to every target session except excluded
type Broadcaster interface {
	BroadcastExcept(targets []string, excluded string, line string)
}

// Recorder persists race outcomes
type Recorder interface {
	RecordWin(ctx context.Context, user string) error
	RecordRace(ctx context.Context, rec race.Record) error
}

// Handoff is everything the match needs from the lobby that produced it
type Handoff struct {
	Roster []race.Participant
	Map    int
}

// Options tunes telemetry and collision handling
type Options struct {
	// TelemetryEpsilon is the smallest per-field change that gets relayed
	TelemetryEpsilon float64
	// CollisionTolerance merges reports for one pair scheduled this close together
	CollisionTolerance time.Duration
	// CollisionRetention is how long a broadcast collision is remembered
	CollisionRetention time.Duration
}

func (o Options) withDefaults() Options {
	if o.TelemetryEpsilon <= 0 {
		o.TelemetryEpsilon = DefaultTelemetryEpsilon
	}
	if o.CollisionTolerance <= 0 {
		o.CollisionTolerance = DefaultCollisionTolerance
	}
	if o.CollisionRetention <= 0 {
		o.CollisionRetention = DefaultCollisionRetention
	}
	return o
}

type collisionKey struct {
	timestamp int64
	seen      time.Time
}

// State is a point-in-time view of the match for admin surfaces
type State struct {
	Active         bool               `json:"active"`
	ID             string             `json:"id,omitempty"`
	Map            int                `json:"map"`
	Roster         []race.Participant `json:"roster"`
	StartedAt      time.Time          `json:"started_at,omitempty"`
	WinnerDeclared bool               `json:"winner_declared"`
}

// Coordinator owns the active match
type Coordinator struct {
	mu   sync.Mutex
	opts Options
	bc   Broadcaster
	rec  Recorder
	log  *logrus.Entry
	now  func() time.Time

	active     bool
	id         string
	mapChoice  int
	startedAt  time.Time
	winner     bool
	roster     map[string]race.Participant
	lastSent   map[int]race.Telemetry
	collisions map[race.Pair][]collisionKey
}

// NewCoordinator creates an inactive match coordinator
func NewCoordinator(opts Options, bc Broadcaster, rec Recorder, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		opts:       opts.withDefaults(),
		bc:         bc,
		rec:        rec,
		log:        log.WithField("component", "match"),
		now:        time.Now,
		roster:     make(map[string]race.Participant),
		lastSent:   make(map[int]race.Telemetry),
		collisions: make(map[race.Pair][]collisionKey),
	}
}

// Start activates a match for the handed-off roster.
func (c *Coordinator) Start(h Handoff) error {
	if len(h.Roster) == 0 {
		return ErrEmptyRoster
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return ErrMatchActive
	}

	c.active = true
	c.id = ksuid.New().String()
	c.mapChoice = h.Map
	c.startedAt = c.now()
	c.winner = false
	c.roster = make(map[string]race.Participant, len(h.Roster))
	for _, p := range h.Roster {
		c.roster[p.SessionID] = p
	}
	c.lastSent = make(map[int]race.Telemetry)
	c.collisions = make(map[race.Pair][]collisionKey)

	c.log.WithFields(logrus.Fields{
		"match":   c.id,
		"map":     h.Map,
		"players": len(h.Roster),
	}).Info("Match started")
	return nil
}

// Relay forwards telemetry from sessionID to the rest of the roster unless
// every field moved less than the epsilon since the last relayed snapshot.
// Non-finite snapshots are dropped so they never become the comparison base.
func (c *Coordinator) Relay(sessionID string, t race.Telemetry) bool {
	if !t.Finite() {
		return false
	}
	c.mu.Lock()
	p, ok := c.roster[sessionID]
	if !c.active || !ok {
		c.mu.Unlock()
		return false
	}
	if prev, seen := c.lastSent[p.Slot]; seen && !t.Differs(prev, c.opts.TelemetryEpsilon) {
		c.mu.Unlock()
		return false
	}
	c.lastSent[p.Slot] = t
	targets := c.targetsLocked()
	c.mu.Unlock()

	c.broadcast(targets, sessionID, protocol.OpponentTelemetry{Telemetry: t})
	return true
}

// ReportCollision broadcasts a collision report unless one for the same
// slot pair was already broadcast within the tolerance window.
func (c *Coordinator) ReportCollision(sessionID string, col race.Collision) bool {
	c.mu.Lock()
	if _, ok := c.roster[sessionID]; !c.active || !ok {
		c.mu.Unlock()
		return false
	}

	now := c.now()
	c.expireLocked(now)

	pair := col.Pair()
	tolerance := c.opts.CollisionTolerance.Milliseconds()
	for _, key := range c.collisions[pair] {
		if abs(key.timestamp-col.Timestamp) <= tolerance {
			c.mu.Unlock()
			c.log.WithFields(logrus.Fields{
				"pair":      pair,
				"timestamp": col.Timestamp,
			}).Debug("Duplicate collision report suppressed")
			return false
		}
	}
	c.collisions[pair] = append(c.collisions[pair], collisionKey{timestamp: col.Timestamp, seen: now})
	targets := c.targetsLocked()
	c.mu.Unlock()

	c.broadcast(targets, sessionID, protocol.BroadcastCollision{Collision: col})
	return true
}

// DeclareWin settles the match in favour of sessionID if nobody won yet.
// Only the first declaration of a match succeeds.
func (c *Coordinator) DeclareWin(ctx context.Context, sessionID string) bool {
	c.mu.Lock()
	p, ok := c.roster[sessionID]
	if !c.active || c.winner || !ok {
		c.mu.Unlock()
		return false
	}
	c.winner = true
	rec := c.recordLocked(race.OutcomeWinner)
	rec.Winner = p.Name
	rec.WinnerSlot = p.Slot
	targets := c.targetsLocked()
	c.finishLocked()
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"match":  rec.ID,
		"winner": p.Name,
		"slot":   p.Slot,
	}).Info("Race won")

	c.broadcast(targets, sessionID, protocol.RaceResult{Slot: p.Slot, User: p.Name})
	c.persist(ctx, rec)
	return true
}

// Leave removes sessionID from the roster. The match ends without a winner
// when nobody is left.
func (c *Coordinator) Leave(ctx context.Context, sessionID string) bool {
	c.mu.Lock()
	p, ok := c.roster[sessionID]
	if !c.active || !ok {
		c.mu.Unlock()
		return false
	}
	// the record keeps the full roster even when it empties
	var rec race.Record
	ended := len(c.roster) == 1
	if ended {
		rec = c.recordLocked(race.OutcomeNoOpponents)
	}
	delete(c.roster, sessionID)
	delete(c.lastSent, p.Slot)
	targets := c.targetsLocked()
	if ended {
		c.finishLocked()
	}
	c.mu.Unlock()

	c.broadcast(targets, sessionID, protocol.PlayerLeft{Slot: p.Slot})
	if ended {
		c.log.WithField("match", rec.ID).Info("Match ended, no opponents left")
		c.persist(ctx, rec)
	}
	return true
}

// End stops the match without a winner on behalf of sessionID.
func (c *Coordinator) End(ctx context.Context, sessionID string) bool {
	c.mu.Lock()
	if _, ok := c.roster[sessionID]; !c.active || !ok {
		c.mu.Unlock()
		return false
	}
	rec := c.recordLocked(race.OutcomeNoOpponents)
	targets := c.targetsLocked()
	c.finishLocked()
	c.mu.Unlock()

	c.log.WithField("match", rec.ID).Info("Match ended by participant")
	c.broadcast(targets, sessionID, protocol.MatchEnded{Reason: race.OutcomeNoOpponents})
	c.persist(ctx, rec)
	return true
}

// Participating reports whether sessionID is on the active roster.
func (c *Coordinator) Participating(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.roster[sessionID]
	return c.active && ok
}

func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return State{Roster: []race.Participant{}}
	}
	return State{
		Active:         true,
		ID:             c.id,
		Map:            c.mapChoice,
		Roster:         c.rosterLocked(),
		StartedAt:      c.startedAt,
		WinnerDeclared: c.winner,
	}
}

func (c *Coordinator) rosterLocked() []race.Participant {
	out := make([]race.Participant, 0, len(c.roster))
	for _, p := range c.roster {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b race.Participant) int { return cmp.Compare(a.Slot, b.Slot) })
	return out
}

func (c *Coordinator) targetsLocked() []string {
	return xslices.Map(c.rosterLocked(), func(p race.Participant) string { return p.SessionID })
}

func (c *Coordinator) recordLocked(outcome race.Outcome) race.Record {
	return race.Record{
		ID:           c.id,
		Map:          c.mapChoice,
		Participants: c.rosterLocked(),
		Outcome:      outcome,
		StartedAt:    c.startedAt,
		FinishedAt:   c.now(),
	}
}

func (c *Coordinator) finishLocked() {
	c.active = false
	c.roster = make(map[string]race.Participant)
	c.lastSent = make(map[int]race.Telemetry)
	c.collisions = make(map[race.Pair][]collisionKey)
}

func (c *Coordinator) expireLocked(now time.Time) {
	for pair, keys := range c.collisions {
		kept := xslices.Filter(keys, func(k collisionKey) bool {
			return now.Sub(k.seen) <= c.opts.CollisionRetention
		})
		if len(kept) == 0 {
			delete(c.collisions, pair)
			continue
		}
		c.collisions[pair] = kept
	}
}

func (c *Coordinator) broadcast(targets []string, excluded string, evt protocol.Event) {
	if c.bc == nil || len(targets) == 0 {
		return
	}
	c.bc.BroadcastExcept(targets, excluded, evt.Line())
}

func (c *Coordinator) persist(ctx context.Context, rec race.Record) {
	if c.rec == nil {
		return
	}
	log := c.log.WithField("match", rec.ID)
	if rec.Winner != "" {
		if err := c.rec.RecordWin(ctx, rec.Winner); err != nil {
			log.WithError(err).WithField("user", rec.Winner).Warn("Failed to record win")
		}
	}
	if err := c.rec.RecordRace(ctx, rec); err != nil {
		log.WithError(err).Warn("Failed to record race")
	}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
