// Package race holds the domain types shared by the lobby, match, protocol
// and store packages of the kart race server.
//
// Core Types:
//
// Telemetry is a kart pose snapshot (rotation, speed, position) reported by a
// client and relayed to its opponents. Collision is a scheduled collision
// effect between two slots; clients apply it at the same absolute timestamp so
// every screen shows an identical slowdown. Record is the persisted summary of
// a finished match.
//
// Slots:
//
// A slot is a player's numeric identity (1..N) for one lobby/match lifetime.
// Slot 0 means "unassigned" and is never valid in a lobby or roster.
package race
