// Package match coordinates the live race phase: it relays telemetry between
// the roster, merges duplicate collision reports and settles the winner.
//
// Core Types:
//
//   - Coordinator: the single active match, guarded by one mutex
//   - Handoff: the roster and map the lobby passes to Start
//   - Broadcaster: the fan-out used to reach the rest of the roster
//   - Recorder: where wins and race records are persisted
//
// Lifecycle:
//
// A Coordinator is INACTIVE until Start is called with a Handoff. It returns
// to INACTIVE when a winner is declared, when the last participant leaves or
// when a participant ends the match explicitly. Only one match runs at a time;
// Start fails with ErrMatchActive while one is in progress.
//
// Concurrency:
//
// All state changes happen under the coordinator lock. Broadcasts and store
// writes are issued after the lock is released, so a slow peer or database
// never stalls the race. The coordinator never calls back into the lobby.
package match
