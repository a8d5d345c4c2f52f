// Package lobby implements the pre-race lobby: slot assignment, vehicle and
// map choices, readiness and the atomic handoff to the match coordinator.
//
// Core Types:
//
//   - Coordinator: one lobby guarded by one mutex
//   - Seat: a session's slot with its vehicle, ready flag, name and wins
//   - Starter: receives the Handoff when every occupant is ready
//
// Slots:
//
// Slots are drawn from 1..Options.Slots. The free pool stays sorted, so the
// smallest free slot is always assigned next, including after churn.
//
// Vehicles:
//
// A joining player is offered vehicle (slot-1) mod VehicleOptions. If another
// occupant already holds it, the next free option is searched forward with
// wraparound. Manual updates through SetVehicle are not checked against other
// occupants.
//
// Start Condition:
//
// On every readiness change and every leave the coordinator checks, under its
// lock, that at least MinPlayers occupy the lobby and all of them are ready.
// When that holds the roster is handed to the Starter and the lobby is cleared
// in the same critical section, so the start fires exactly once.
package lobby
