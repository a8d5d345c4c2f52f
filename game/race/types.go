package race

import (
	"math"
	"time"
)

const (
	// Lobby sizing defaults
	DefaultSlots          = 6
	DefaultVehicleOptions = 7
	DefaultMinPlayers     = 2

	// NoSlot marks a session that holds no lobby slot.
	NoSlot = 0

	// CollisionGracePeriod is how far ahead clients schedule a collision
	// effect. The server does not enforce it; it documents the client contract.
	CollisionGracePeriod = 3 * time.Second
)

// Telemetry is a kart pose snapshot
type Telemetry struct {
	Slot     int     `json:"slot"`
	Rotation float64 `json:"rotation"`
	Speed    float64 `json:"speed"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// Differs reports whether any pose field moved by at least epsilon since prev.
func (t Telemetry) Differs(prev Telemetry, epsilon float64) bool {
	return math.Abs(t.Rotation-prev.Rotation) >= epsilon ||
		math.Abs(t.Speed-prev.Speed) >= epsilon ||
		math.Abs(t.X-prev.X) >= epsilon ||
		math.Abs(t.Y-prev.Y) >= epsilon
}

// Finite reports whether every pose field is a real number.
func (t Telemetry) Finite() bool {
	for _, f := range [...]float64{t.Rotation, t.Speed, t.X, t.Y} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Pair is an unordered slot pair, stored lower slot first.
type Pair struct {
	Low  int
	High int
}

// Collision is a collision effect scheduled for an absolute timestamp in
// milliseconds since the Unix epoch, with both karts' pre-collision speeds.
type Collision struct {
	SlotA     int     `json:"slot_a"`
	SlotB     int     `json:"slot_b"`
	Timestamp int64   `json:"timestamp"`
	SpeedA    float64 `json:"speed_a"`
	SpeedB    float64 `json:"speed_b"`
}

// Normalized returns the report with the lower slot first. Speeds move with
// their slots so the two reports of one collision compare equal.
func (c Collision) Normalized() Collision {
	if c.SlotA <= c.SlotB {
		return c
	}
	return Collision{
		SlotA:     c.SlotB,
		SlotB:     c.SlotA,
		Timestamp: c.Timestamp,
		SpeedA:    c.SpeedB,
		SpeedB:    c.SpeedA,
	}
}

// Pair returns the unordered slot pair of the collision.
func (c Collision) Pair() Pair {
	n := c.Normalized()
	return Pair{Low: n.SlotA, High: n.SlotB}
}

// Outcome describes how a match ended
type Outcome string

const (
	OutcomeWinner      Outcome = "WINNER"
	OutcomeNoOpponents Outcome = "NO_OPPONENTS"
)

// Participant is one roster entry of a match
type Participant struct {
	Slot      int    `json:"slot"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Vehicle   int    `json:"vehicle"`
}

// Record is the persisted summary of a finished match
type Record struct {
	ID           string        `json:"id"`
	Map          int           `json:"map"`
	Participants []Participant `json:"participants"`
	Winner       string        `json:"winner,omitempty"`
	WinnerSlot   int           `json:"winner_slot,omitempty"`
	Outcome      Outcome       `json:"outcome"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}
