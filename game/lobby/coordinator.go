package lobby

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/kartrace/game/match"
	"github.com/wricardo/kartrace/game/protocol"
	"github.com/wricardo/kartrace/game/race"
)

var (
	ErrLobbyFull = errors.New("lobby is full")
	ErrNoSeat    = errors.New("session has no lobby seat")
)

// Broadcaster delivers a line to every target session except excluded
type Broadcaster interface {
	BroadcastExcept(targets []string, excluded string, line string)
}

// Starter takes over the roster when the start condition fires
type Starter interface {
	Start(h match.Handoff) error
}

// Options sizes the lobby
type Options struct {
	Slots          int
	VehicleOptions int
	MinPlayers     int
}

func (o Options) withDefaults() Options {
	if o.Slots <= 0 {
		o.Slots = race.DefaultSlots
	}
	if o.VehicleOptions <= 0 {
		o.VehicleOptions = race.DefaultVehicleOptions
	}
	if o.MinPlayers <= 0 {
		o.MinPlayers = race.DefaultMinPlayers
	}
	return o
}

// Member identifies a session asking for a seat
type Member struct {
	SessionID string
	Name      string
	Wins      int
}

// Seat is one occupied slot
type Seat struct {
	Slot      int    `json:"slot"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Wins      int    `json:"wins"`
	Vehicle   int    `json:"vehicle"`
	Ready     bool   `json:"ready"`
}

// JoinResult is what a newly seated session needs to render the lobby
type JoinResult struct {
	Seat   Seat
	Map    int
	Others []Seat
}

// State is a point-in-time view of the lobby
type State struct {
	Map   int    `json:"map"`
	Seats []Seat `json:"seats"`
	Free  []int  `json:"free"`
}

// Coordinator owns the lobby state
type Coordinator struct {
	mu      sync.Mutex
	opts    Options
	bc      Broadcaster
	starter Starter
	log     *logrus.Entry

	free      []int
	seats     map[string]*Seat
	mapChoice int
}

// NewCoordinator creates an empty lobby
func NewCoordinator(opts Options, bc Broadcaster, starter Starter, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Coordinator{
		opts:    opts.withDefaults(),
		bc:      bc,
		starter: starter,
		log:     log.WithField("component", "lobby"),
	}
	c.resetLocked()
	return c
}

// Join seats m on the smallest free slot and announces it to the other
// occupants. A session that already holds a seat gets its current seat back
// without a new announcement.
func (c *Coordinator) Join(m Member) (JoinResult, error) {
	c.mu.Lock()
	if seat, ok := c.seats[m.SessionID]; ok {
		res := JoinResult{Seat: *seat, Map: c.mapChoice, Others: c.othersLocked(m.SessionID)}
		c.mu.Unlock()
		return res, nil
	}
	if len(c.free) == 0 {
		c.mu.Unlock()
		return JoinResult{}, ErrLobbyFull
	}

	slot := c.free[0]
	c.free = c.free[1:]
	vehicle, ok := c.freeVehicleLocked(slot)
	if !ok {
		c.log.WithField("slot", slot).Warn("No free vehicle option, using default")
	}
	seat := &Seat{Slot: slot, SessionID: m.SessionID, Name: m.Name, Wins: m.Wins, Vehicle: vehicle}
	c.seats[m.SessionID] = seat

	res := JoinResult{Seat: *seat, Map: c.mapChoice, Others: c.othersLocked(m.SessionID)}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"session": m.SessionID,
		"user":    m.Name,
		"slot":    slot,
		"vehicle": vehicle,
	}).Info("Player joined lobby")

	c.broadcast(sessionIDs(res.Others), m.SessionID, protocol.PlayerJoined{
		Slot:    seat.Slot,
		Vehicle: seat.Vehicle,
		Ready:   seat.Ready,
		User:    seat.Name,
		Wins:    seat.Wins,
	})
	return res, nil
}

// SetReady updates the ready flag of sessionID and may start the match.
func (c *Coordinator) SetReady(sessionID string, ready bool) error {
	c.mu.Lock()
	seat, ok := c.seats[sessionID]
	if !ok {
		c.mu.Unlock()
		c.log.WithField("session", sessionID).Debug("Ready update without a seat")
		return ErrNoSeat
	}
	seat.Ready = ready
	slot := seat.Slot
	peers := sessionIDs(c.othersLocked(sessionID))
	handoff, started := c.tryStartLocked()
	c.mu.Unlock()

	c.broadcast(peers, sessionID, protocol.OpponentReady{Slot: slot, Ready: ready})
	if started {
		c.announceStart(handoff)
	}
	return nil
}

// SetVehicle records a manual vehicle choice. It is not checked against
// the choices of other occupants.
func (c *Coordinator) SetVehicle(sessionID string, vehicle int) error {
	c.mu.Lock()
	seat, ok := c.seats[sessionID]
	if !ok {
		c.mu.Unlock()
		c.log.WithField("session", sessionID).Debug("Vehicle update without a seat")
		return ErrNoSeat
	}
	seat.Vehicle = vehicle
	slot := seat.Slot
	peers := sessionIDs(c.othersLocked(sessionID))
	c.mu.Unlock()

	c.broadcast(peers, sessionID, protocol.OpponentVehicle{Slot: slot, Vehicle: vehicle})
	return nil
}

// SetMap changes the shared map choice.
func (c *Coordinator) SetMap(sessionID string, mapChoice int) error {
	c.mu.Lock()
	if _, ok := c.seats[sessionID]; !ok {
		c.mu.Unlock()
		c.log.WithField("session", sessionID).Debug("Map update without a seat")
		return ErrNoSeat
	}
	c.mapChoice = mapChoice
	peers := sessionIDs(c.othersLocked(sessionID))
	c.mu.Unlock()

	c.broadcast(peers, sessionID, protocol.MapChoice{Map: mapChoice})
	return nil
}

// Leave releases the seat of sessionID. It reports whether a seat was held.
func (c *Coordinator) Leave(sessionID string) bool {
	c.mu.Lock()
	seat, ok := c.seats[sessionID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.seats, sessionID)
	c.releaseLocked(seat.Slot)
	if len(c.seats) == 0 {
		c.mapChoice = 0
	}
	peers := sessionIDs(c.othersLocked(sessionID))
	handoff, started := c.tryStartLocked()
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"session": sessionID,
		"slot":    seat.Slot,
	}).Info("Player left lobby")

	c.broadcast(peers, sessionID, protocol.PlayerLeft{Slot: seat.Slot})
	if started {
		c.announceStart(handoff)
	}
	return true
}

// Seat returns the seat held by sessionID.
func (c *Coordinator) Seat(sessionID string) (Seat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seat, ok := c.seats[sessionID]
	if !ok {
		return Seat{}, false
	}
	return *seat, true
}

// Vehicle returns the vehicle choice of slot.
func (c *Coordinator) Vehicle(slot int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, seat := range c.seats {
		if seat.Slot == slot {
			return seat.Vehicle, true
		}
	}
	return 0, false
}

func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seats)
}

func (c *Coordinator) Map() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapChoice
}

func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Map:   c.mapChoice,
		Seats: c.othersLocked(""),
		Free:  slices.Clone(c.free),
	}
}

// freeVehicleLocked proposes a vehicle for slot that no other occupant holds.
// It returns the default option and false when every option is taken.
func (c *Coordinator) freeVehicleLocked(slot int) (int, bool) {
	n := c.opts.VehicleOptions
	def := (slot - 1) % n

	taken := make(map[int]bool, len(c.seats))
	for _, seat := range c.seats {
		if seat.Slot != slot {
			taken[seat.Vehicle] = true
		}
	}

	visited := make([]bool, n)
	for v := def; !visited[v]; v = (v + 1) % n {
		visited[v] = true
		if !taken[v] {
			return v, true
		}
	}
	return def, false
}

// tryStartLocked hands the lobby to the match coordinator when the start
// condition holds and clears the lobby on success.
func (c *Coordinator) tryStartLocked() (match.Handoff, bool) {
	if len(c.seats) < c.opts.MinPlayers {
		return match.Handoff{}, false
	}
	for _, seat := range c.seats {
		if !seat.Ready {
			return match.Handoff{}, false
		}
	}

	h := match.Handoff{
		Map: c.mapChoice,
		Roster: xslices.Map(c.othersLocked(""), func(s Seat) race.Participant {
			return race.Participant{Slot: s.Slot, SessionID: s.SessionID, Name: s.Name, Vehicle: s.Vehicle}
		}),
	}
	if c.starter != nil {
		if err := c.starter.Start(h); err != nil {
			c.log.WithError(err).Warn("Lobby ready but match could not start")
			return match.Handoff{}, false
		}
	}
	c.resetLocked()
	return h, true
}

func (c *Coordinator) announceStart(h match.Handoff) {
	slots := xslices.Map(h.Roster, func(p race.Participant) int { return p.Slot })
	c.log.WithFields(logrus.Fields{
		"map":   h.Map,
		"slots": slots,
	}).Info("Lobby handed off to match")
	targets := xslices.Map(h.Roster, func(p race.Participant) string { return p.SessionID })
	c.broadcast(targets, "", protocol.MatchStarted{Map: h.Map, Slots: slots})
}

func (c *Coordinator) resetLocked() {
	c.seats = make(map[string]*Seat, c.opts.Slots)
	c.free = make([]int, 0, c.opts.Slots)
	for slot := 1; slot <= c.opts.Slots; slot++ {
		c.free = append(c.free, slot)
	}
	c.mapChoice = 0
}

func (c *Coordinator) releaseLocked(slot int) {
	if slot <= race.NoSlot || slot > c.opts.Slots {
		return
	}
	i, found := slices.BinarySearch(c.free, slot)
	if found {
		return
	}
	c.free = slices.Insert(c.free, i, slot)
}

// othersLocked returns every seat except the one of excluded, ordered by slot.
func (c *Coordinator) othersLocked(excluded string) []Seat {
	out := make([]Seat, 0, len(c.seats))
	for id, seat := range c.seats {
		if id != excluded {
			out = append(out, *seat)
		}
	}
	slices.SortFunc(out, func(a, b Seat) int { return cmp.Compare(a.Slot, b.Slot) })
	return out
}

func (c *Coordinator) broadcast(targets []string, excluded string, evt protocol.Event) {
	if c.bc == nil || len(targets) == 0 {
		return
	}
	c.bc.BroadcastExcept(targets, excluded, evt.Line())
}

func sessionIDs(seats []Seat) []string {
	return xslices.Map(seats, func(s Seat) string { return s.SessionID })
}
